package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	require := require.New(t)
	opErr := errors.New("op failed")

	tests := []struct {
		name       string
		ctxTimeout time.Duration
		interval   time.Duration
		operation  func() Op
		expectErr  error
	}{
		{
			name:     "immediate success",
			interval: 10 * time.Millisecond,
			operation: func() Op {
				return func(context.Context) (bool, error) { return true, nil }
			},
		},
		{
			name:     "succeeds after retries",
			interval: 5 * time.Millisecond,
			operation: func() Op {
				attempts := 0
				return func(context.Context) (bool, error) {
					attempts++
					return attempts >= 3, nil
				}
			},
		},
		{
			name:     "operation error stops the loop",
			interval: 5 * time.Millisecond,
			operation: func() Op {
				return func(context.Context) (bool, error) { return false, opErr }
			},
			expectErr: opErr,
		},
		{
			name:       "context deadline cancels the sleep",
			ctxTimeout: 30 * time.Millisecond,
			interval:   time.Minute,
			operation: func() Op {
				return func(context.Context) (bool, error) { return false, nil }
			},
			expectErr: context.DeadlineExceeded,
		},
		{
			name:     "invalid interval",
			interval: 0,
			operation: func() Op {
				return func(context.Context) (bool, error) { return true, nil }
			},
			expectErr: ErrInvalidInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctxTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.ctxTimeout)
				defer cancel()
			}
			err := NewLoop(tt.interval).Run(ctx, tt.operation())
			if tt.expectErr != nil {
				require.ErrorIs(err, tt.expectErr)
				return
			}
			require.NoError(err)
		})
	}
}

func TestSetInterval(t *testing.T) {
	require := require.New(t)
	loop := NewLoop(5 * time.Millisecond)

	attempts := 0
	start := time.Now()
	err := loop.Run(context.Background(), func(context.Context) (bool, error) {
		attempts++
		if attempts == 1 {
			loop.SetInterval(50 * time.Millisecond)
			return false, nil
		}
		return true, nil
	})
	require.NoError(err)
	require.Equal(2, attempts)
	require.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}
