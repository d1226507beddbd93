// Package session manages the user's session across server, client, and
// hybrid modes: resume and creation, cookie and CSRF issuance, and silent
// token renewal scheduled from expiry.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/pkg/cache"
	"github.com/authrelay/oidc/token"
	"github.com/authrelay/oidc/userinfo"
)

// Data is everything persisted for one session. Cookie is the session's
// current token set; Manager.Update replaces it after a renew.
type Data struct {
	Cookie       token.Set     `json:"cookie"`
	User         userinfo.Info `json:"user,omitempty"`
	CSRFToken    string        `json:"csrfToken,omitempty"`
	State        string        `json:"state,omitempty"`
	CodeVerifier string        `json:"codeVerifier,omitempty"`
}

// Store persists sessions by sid. Implementations must be safe for
// concurrent use. Get returns (nil, nil) for an unknown or expired sid.
type Store interface {
	Set(ctx context.Context, data *Data) (sid string, err error)
	Get(ctx context.Context, sid string) (*Data, error)
	Touch(ctx context.Context, sid string, data *Data) error
	Destroy(ctx context.Context, sid string) error
}

// MemoryStore is the in-process Store the library ships with. Entries
// expire after the configured TTL; Touch restarts the clock.
type MemoryStore struct {
	ttl      time.Duration
	sessions *cache.Cache[string, *Data]
}

// NewMemoryStore creates a store whose sessions live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: cache.New[string, *Data](ttl),
	}
}

func (m *MemoryStore) Set(_ context.Context, data *Data) (string, error) {
	if data == nil {
		return "", apierrors.New(apierrors.CodeSessionError, "cannot store nil session data")
	}
	sid := uuid.NewString()
	m.sessions.Set(sid, data, m.ttl)
	return sid, nil
}

func (m *MemoryStore) Get(_ context.Context, sid string) (*Data, error) {
	data, ok := m.sessions.Get(sid)
	if !ok {
		return nil, nil
	}
	// Copy out so callers cannot mutate the stored value; changes go back
	// through Touch.
	clone := *data
	return &clone, nil
}

func (m *MemoryStore) Touch(_ context.Context, sid string, data *Data) error {
	if _, ok := m.sessions.Get(sid); !ok {
		return apierrors.Newf(apierrors.CodeSessionError, "session %q not found", sid)
	}
	m.sessions.Set(sid, data, m.ttl)
	return nil
}

func (m *MemoryStore) Destroy(_ context.Context, sid string) error {
	m.sessions.Delete(sid)
	return nil
}
