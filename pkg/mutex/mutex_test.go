package mutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/oidc/apierrors"
)

func TestAcquireRelease(t *testing.T) {
	require := require.New(t)
	m := New()

	rel, err := m.Acquire(context.Background())
	require.NoError(err)

	// Duplicate releases on the same handle are no-ops.
	rel.Release()
	rel.Release()

	rel2, err := m.Acquire(context.Background())
	require.NoError(err)
	rel2.Release()
}

func TestFIFOOrder(t *testing.T) {
	require := require.New(t)
	m := New()

	rel, err := m.Acquire(context.Background())
	require.NoError(err)

	const waiters = 8
	var mu sync.Mutex
	order := make([]int, 0, waiters)
	var wg sync.WaitGroup
	started := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			started <- struct{}{}
			r, err := m.Acquire(context.Background())
			require.NoError(err)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			r.Release()
		}(i)
		// Wait for the goroutine to be started and give it time to
		// enqueue, so arrival order is deterministic.
		<-started
		time.Sleep(10 * time.Millisecond)
	}

	rel.Release()
	wg.Wait()

	for i := 0; i < waiters; i++ {
		assert.Equal(t, i, order[i], "waiter %d released out of order", i)
	}
}

func TestAcquireTimeout(t *testing.T) {
	require := require.New(t)
	m := New()

	rel, err := m.Acquire(context.Background())
	require.NoError(err)

	_, err = m.AcquireTimeout(30 * time.Millisecond)
	require.Error(err)
	require.ErrorIs(err, apierrors.ErrAcquireTimeout)

	// The timed-out waiter must be gone: releasing now leaves the lock
	// free for the next acquirer.
	rel.Release()
	rel2, err := m.AcquireTimeout(30 * time.Millisecond)
	require.NoError(err)
	rel2.Release()
}

func TestAcquireCanceled(t *testing.T) {
	require := require.New(t)
	m := New()

	rel, err := m.Acquire(context.Background())
	require.NoError(err)
	defer rel.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx)
	require.True(apierrors.IsCode(err, apierrors.CodeAcquireFailed))
}

func TestRunExclusive(t *testing.T) {
	require := require.New(t)
	m := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.RunExclusive(context.Background(), func() error {
				counter++
				return nil
			})
			require.NoError(err)
		}()
	}
	wg.Wait()
	require.Equal(50, counter)
}
