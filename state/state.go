// Package state maps CSRF state values to the nonces minted alongside
// them. Entries are single use: a successful lookup retires the entry.
package state

import (
	"context"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/pkg/mutex"
)

// Store is a process-local, ephemeral state→nonce map. All operations run
// under a FIFO mutex so add/consume pairs are linearizable per state key.
type Store struct {
	mu      *mutex.Mutex
	entries map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mu:      mutex.New(),
		entries: make(map[string]string),
	}
}

// Add registers a state→nonce pair. Fails with StateAlreadyExists when the
// state is already pending.
func (s *Store) Add(ctx context.Context, state, nonce string) error {
	return s.mu.RunExclusive(ctx, func() error {
		if _, exists := s.entries[state]; exists {
			return apierrors.Newf(apierrors.CodeStateAlreadyExists, "state %q already exists", state)
		}
		s.entries[state] = nonce
		return nil
	})
}

// GetNonce atomically reads and deletes the nonce for state. Fails with
// StateMismatch when the state is unknown or already consumed.
func (s *Store) GetNonce(ctx context.Context, state string) (string, error) {
	var nonce string
	err := s.mu.RunExclusive(ctx, func() error {
		n, exists := s.entries[state]
		if !exists {
			return apierrors.ErrStateMismatch
		}
		delete(s.entries, state)
		nonce = n
		return nil
	})
	if err != nil {
		return "", err
	}
	return nonce, nil
}

// Len reports the number of pending states.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.mu.RunExclusive(ctx, func() error {
		n = len(s.entries)
		return nil
	})
	return n, err
}
