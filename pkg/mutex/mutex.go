// Package mutex provides a single-holder lock with timed acquisition and a
// strict FIFO wait queue. Unlike sync.Mutex it hands out release handles,
// supports acquisition timeouts, and guarantees waiters are granted the
// lock in arrival order.
package mutex

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/authrelay/oidc/apierrors"
)

// Releaser releases a held lock. Calling Release more than once on the
// same handle is a no-op.
type Releaser interface {
	Release()
}

type waiter struct {
	ready chan struct{}
}

// Mutex is a FIFO, non-reentrant lock. The zero value is ready to use.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters list.List
}

// New returns an unlocked mutex.
func New() *Mutex {
	return &Mutex{}
}

type handle struct {
	m    *Mutex
	once sync.Once
}

func (h *handle) Release() {
	h.once.Do(h.m.release)
}

// Acquire blocks until the lock is held or ctx is done. A context
// expiration while queued removes exactly that waiter and fails with
// AcquireTimeout; cancellation for any other reason fails with
// AcquireFailed.
func (m *Mutex) Acquire(ctx context.Context) (Releaser, error) {
	m.mu.Lock()
	if !m.held && m.waiters.Len() == 0 {
		m.held = true
		m.mu.Unlock()
		return &handle{m: m}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	elem := m.waiters.PushBack(w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		return &handle{m: m}, nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-w.ready:
			// Granted between ctx firing and us taking the lock; keep it.
			m.mu.Unlock()
			return &handle{m: m}, nil
		default:
		}
		m.waiters.Remove(elem)
		m.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierrors.Wrap(apierrors.CodeAcquireTimeout, "timed out waiting for lock", ctx.Err())
		}
		return nil, apierrors.Wrap(apierrors.CodeAcquireFailed, "lock acquisition canceled", ctx.Err())
	}
}

// AcquireTimeout acquires with a deadline. A non-positive timeout blocks
// indefinitely.
func (m *Mutex) AcquireTimeout(timeout time.Duration) (Releaser, error) {
	if timeout <= 0 {
		return m.Acquire(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.Acquire(ctx)
}

// RunExclusive acquires the lock, runs fn, and releases. fn's error is
// returned unchanged; acquisition errors are returned without running fn.
func (m *Mutex) RunExclusive(ctx context.Context, fn func() error) error {
	rel, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer rel.Release()
	return fn()
}

func (m *Mutex) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if front := m.waiters.Front(); front != nil {
		w := m.waiters.Remove(front).(*waiter)
		// Ownership transfers directly to the oldest waiter.
		close(w.ready)
		return
	}
	m.held = false
}
