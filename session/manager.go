package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/token"
	"github.com/authrelay/oidc/transport"
	"github.com/authrelay/oidc/userinfo"
)

// UserInfoFetcher fetches the userinfo document; userinfo.Service
// implements it.
type UserInfoFetcher interface {
	Fetch(ctx context.Context) (userinfo.Info, error)
}

// phase is the manager's lifecycle state.
type phase int

const (
	phaseNone phase = iota
	phaseResuming
	phaseActive
	phaseStopping
)

// Manager drives the session lifecycle for one client: resume or create on
// Start, silent renewal while active, teardown on Stop.
type Manager struct {
	cfg    *config.ClientConfig
	tokens *token.Service
	users  UserInfoFetcher
	store  Store
	log    logrus.FieldLogger

	mu         sync.Mutex
	state      phase
	sid        string
	user       userinfo.Info
	renewTimer *time.Timer
}

// NewManager creates a session manager. store may be nil for client-only
// mode.
func NewManager(cfg *config.ClientConfig, tokens *token.Service, users UserInfoFetcher, store Store, log logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		store:  store,
		log:    log,
	}
}

// SID returns the current server-side session ID, or "".
func (m *Manager) SID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// User returns the userinfo attached to the current session, or nil.
func (m *Manager) User() userinfo.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

func (m *Manager) sessionCfg() *config.SessionConfig {
	if m.cfg.Session != nil {
		return m.cfg.Session
	}
	return &config.SessionConfig{
		Mode:          config.SessionServer,
		ClientStorage: config.StorageCookie,
		TTL:           config.DefaultSessionTTL,
		Cookie:        config.CookieConfig{Name: config.DefaultSessionCookieName},
	}
}

func (m *Manager) serverSide() bool {
	mode := m.sessionCfg().Mode
	return mode == config.SessionServer || mode == config.SessionHybrid
}

func (m *Manager) clientSide() bool {
	mode := m.sessionCfg().Mode
	return mode == config.SessionClient || mode == config.SessionHybrid
}

// Start resumes an existing session from the request's session cookie or
// creates a new one from the current token set. Starting an already active
// session is a no-op.
func (m *Manager) Start(ctx context.Context, tctx *transport.Context) error {
	if tctx == nil || tctx.Request == nil || tctx.Response == nil {
		return apierrors.New(apierrors.CodeSessionError, "session start requires request and response collaborators")
	}

	m.mu.Lock()
	if m.state == phaseActive {
		m.mu.Unlock()
		return nil
	}
	m.state = phaseResuming
	m.mu.Unlock()

	if m.serverSide() {
		if err := m.startServerSide(ctx, tctx); err != nil {
			m.setState(phaseNone)
			return err
		}
	}
	if m.clientSide() {
		if err := m.emitClientTokens(tctx); err != nil {
			m.setState(phaseNone)
			return err
		}
	}

	m.setState(phaseActive)
	return nil
}

func (m *Manager) setState(p phase) {
	m.mu.Lock()
	m.state = p
	m.mu.Unlock()
}

func (m *Manager) startServerSide(ctx context.Context, tctx *transport.Context) error {
	sc := m.sessionCfg()

	if sid := tctx.Request.Cookie(sc.Cookie.Name); sid != "" {
		data, err := m.store.Get(ctx, sid)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeSessionError, "session store lookup failed", err)
		}
		if data != nil {
			m.adoptSession(sid, data)
			m.log.Debugf("session: resumed %s", sid)
			m.scheduleRenew()
			return nil
		}
		// Stale cookie: the store no longer knows this sid.
		tctx.Response.SetCookie(expireCookie(sc.Cookie.Name, sc.Cookie.Options))
	}

	return m.createSession(ctx, tctx)
}

func (m *Manager) adoptSession(sid string, data *Data) {
	m.tokens.SetTokens(&token.Response{
		AccessToken:  data.Cookie.AccessToken,
		RefreshToken: data.Cookie.RefreshToken,
		IDToken:      data.Cookie.IDToken,
		TokenType:    data.Cookie.TokenType,
		ExpiresIn:    data.Cookie.ExpiresIn,
	})
	m.mu.Lock()
	m.sid = sid
	m.user = data.User
	m.mu.Unlock()
}

func (m *Manager) createSession(ctx context.Context, tctx *transport.Context) error {
	sc := m.sessionCfg()

	tokens := m.tokens.GetTokens()
	if tokens.IsZero() {
		return apierrors.ErrNoTokens
	}

	// Userinfo enriches the session but its absence is not fatal.
	var user userinfo.Info
	if m.users != nil {
		if info, err := m.users.Fetch(ctx); err == nil {
			user = info
		} else {
			m.log.Debugf("session: userinfo fetch skipped: %v", err)
		}
	}

	csrf, err := randomHex(32)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeSessionError, "failed to generate CSRF token", err)
	}

	data := &Data{Cookie: tokens, User: user, CSRFToken: csrf}
	sid, err := m.store.Set(ctx, data)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeSessionError, "failed to persist session", err)
	}

	tctx.Response.SetCookie(buildCookie(sc.Cookie.Name, sid, sc.TTL, sc.Cookie.Options))
	tctx.Response.SetCookie(buildCookie(CSRFCookieName, csrf, csrfCookieMaxAge, sc.Cookie.Options))

	m.mu.Lock()
	m.sid = sid
	m.user = user
	m.mu.Unlock()

	m.log.Debugf("session: created %s", sid)
	m.scheduleRenew()
	return nil
}

// emitClientTokens hands the token set to the browser, either as cookies
// or as a JSON body, per the configured client storage.
func (m *Manager) emitClientTokens(tctx *transport.Context) error {
	sc := m.sessionCfg()
	tokens := m.tokens.GetTokens()
	if tokens.IsZero() {
		return apierrors.ErrNoTokens
	}

	switch sc.ClientStorage {
	case config.StorageCookie:
		maxAge := int(tokens.ExpiresIn)
		tctx.Response.SetCookie(buildCookie("access_token", tokens.AccessToken, maxAge, sc.Cookie.Options))
		if tokens.IDToken != "" {
			tctx.Response.SetCookie(buildCookie("id_token", tokens.IDToken, maxAge, sc.Cookie.Options))
		}
		if tokens.RefreshToken != "" {
			tctx.Response.SetCookie(buildCookie("refresh_token", tokens.RefreshToken, maxAge, sc.Cookie.Options))
		}
	case config.StorageLocalStorage:
		body := map[string]any{
			"access_token": tokens.AccessToken,
			"token_type":   tokens.TokenType,
		}
		if tokens.IDToken != "" {
			body["id_token"] = tokens.IDToken
		}
		if tokens.RefreshToken != "" {
			body["refresh_token"] = tokens.RefreshToken
		}
		if tokens.ExpiresIn > 0 {
			body["expires_in"] = tokens.ExpiresIn
		}
		if err := tctx.Response.WriteJSON(http.StatusOK, body); err != nil {
			return apierrors.Wrap(apierrors.CodeSessionError, "failed to write token response", err)
		}
	}
	return nil
}

// Update re-applies the current token set to the stored session.
func (m *Manager) Update(ctx context.Context) error {
	m.mu.Lock()
	sid := m.sid
	m.mu.Unlock()
	if sid == "" {
		return nil
	}

	var user userinfo.Info
	if m.users != nil {
		if info, err := m.users.Fetch(ctx); err == nil {
			user = info
			m.mu.Lock()
			m.user = info
			m.mu.Unlock()
		}
	}

	data := &Data{Cookie: m.tokens.GetTokens(), User: user}
	if err := m.store.Touch(ctx, sid, data); err != nil {
		return apierrors.Wrap(apierrors.CodeSessionError, "failed to update session", err)
	}
	return nil
}

// Stop cancels the renew timer and destroys the server-side session.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == phaseNone {
		m.mu.Unlock()
		return nil
	}
	m.state = phaseStopping
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	sid := m.sid
	m.sid = ""
	m.user = nil
	m.mu.Unlock()

	if sid != "" && m.store != nil {
		if err := m.store.Destroy(ctx, sid); err != nil {
			m.setState(phaseNone)
			return apierrors.Wrap(apierrors.CodeSessionError, "failed to destroy session", err)
		}
		m.log.Debugf("session: destroyed %s", sid)
	}
	m.setState(phaseNone)
	return nil
}

// scheduleRenew arms the silent-renew timer at expires_in minus the
// refresh guard band. Token sets without expiry never schedule.
func (m *Manager) scheduleRenew() {
	if !m.sessionCfg().UseSilentRenew {
		return
	}
	tokens := m.tokens.GetTokens()
	if tokens.ExpiresIn <= 0 {
		return
	}

	delay := time.Duration(tokens.ExpiresIn)*time.Second - m.cfg.RefreshThreshold()
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewTimer = time.AfterFunc(delay, m.renew)
	m.mu.Unlock()
	m.log.Debugf("session: silent renew scheduled in %s", delay)
}

// renew refreshes the access token and re-persists the session. A failed
// refresh ends the session instead of propagating.
func (m *Manager) renew() {
	ctx := context.Background()
	if err := m.tokens.RefreshAccessToken(ctx); err != nil {
		m.log.Warnf("session: silent renew failed, stopping session: %v", err)
		_ = m.Stop(ctx)
		return
	}
	if err := m.Update(ctx); err != nil {
		m.log.Warnf("session: post-renew update failed: %v", err)
	}
	m.scheduleRenew()
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
