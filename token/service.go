package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/discovery"
	"github.com/authrelay/oidc/metrics"
	"github.com/authrelay/oidc/pkg/jose"
	"github.com/authrelay/oidc/transport"
	"github.com/authrelay/oidc/validation"
)

// MetadataSource yields provider metadata; discovery.Service implements it.
type MetadataSource interface {
	Discover(ctx context.Context, forceRefresh bool) (*discovery.Metadata, error)
}

// IDTokenValidator validates ID tokens; validation.JwtValidator implements it.
type IDTokenValidator interface {
	ValidateIDToken(ctx context.Context, token, nonce string) (*validation.Payload, error)
}

const refreshFlightKey = "refresh"

// Service manages the token set for one client. All mutations of the set
// are serialized; concurrent refresh callers share a single outbound
// refresh request.
type Service struct {
	cfg       *config.ClientConfig
	metadata  MetadataSource
	doer      transport.Doer
	validator IDTokenValidator
	log       logrus.FieldLogger

	mu     sync.RWMutex
	tokens Set

	refreshFlight singleflight.Group

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a token service.
func NewService(cfg *config.ClientConfig, metadata MetadataSource, doer transport.Doer, validator IDTokenValidator, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		metadata:  metadata,
		doer:      doer,
		validator: validator,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTokens stores the fields of resp, computing the absolute expiry from
// expires_in at store time.
func (s *Service) SetTokens(resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = newSet(resp, s.now())
}

// GetTokens returns a copy of the stored token set.
func (s *Service) GetTokens() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// ClearTokens drops the stored token set.
func (s *Service) ClearTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Set{}
}

// IsTokenValid reports whether the stored access token has not yet entered
// the refresh guard band. A set that never carried expires_in is treated as
// valid indefinitely; callers relying on that contract should say so.
func (s *Service) IsTokenValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isValidLocked()
}

func (s *Service) isValidLocked() bool {
	if s.tokens.AccessToken == "" {
		return false
	}
	if s.tokens.ExpiresAt == 0 {
		return true
	}
	threshold := int64(s.cfg.TokenRefreshThreshold) * 1000
	return s.now().UnixMilli() < s.tokens.ExpiresAt-threshold
}

// GetAccessToken returns a currently valid access token, refreshing first
// when the stored one is inside the guard band and a refresh token exists.
// It returns "" when no token can be produced.
func (s *Service) GetAccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	valid := s.isValidLocked()
	access := s.tokens.AccessToken
	refresh := s.tokens.RefreshToken
	s.mu.RUnlock()

	if valid {
		return access, nil
	}
	if refresh == "" {
		return "", nil
	}
	if err := s.RefreshAccessToken(ctx); err != nil {
		return "", err
	}
	return s.GetTokens().AccessToken, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new token
// set. Concurrent callers share one outbound request; the provider sees at
// most one refresh per expiry.
func (s *Service) RefreshAccessToken(ctx context.Context) error {
	_, err, _ := s.refreshFlight.Do(refreshFlightKey, func() (any, error) {
		err := s.doRefresh(ctx)
		metrics.ObserveTokenRefresh(err)
		return nil, err
	})
	return err
}

func (s *Service) doRefresh(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.tokens.RefreshToken
	s.mu.RUnlock()
	if refresh == "" {
		return apierrors.ErrNoRefreshToken
	}

	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeTokenRefreshError, "discovery failed before refresh", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	resp, err := s.postToken(ctx, md.TokenEndpoint, form)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeTokenRefreshError, "refresh request failed", err)
	}
	s.SetTokens(resp)
	s.log.Debugf("token: access token refreshed, expires in %ds", resp.ExpiresIn)
	return nil
}

// ExchangeOption supplies grant-specific inputs to ExchangeCodeForToken.
type ExchangeOption func(url.Values)

// WithCredentials sets the resource-owner username and password for the
// password grant.
func WithCredentials(username, password string) ExchangeOption {
	return func(v url.Values) {
		v.Set("username", username)
		v.Set("password", password)
	}
}

// WithExtraParams adds caller-supplied body parameters.
func WithExtraParams(params map[string]string) ExchangeOption {
	return func(v url.Values) {
		for k, val := range params {
			v.Set(k, val)
		}
	}
}

// ExchangeCodeForToken redeems code at the token endpoint using the
// configured grant type and stores the resulting token set. For grants
// other than the authorization code, code carries the grant's primary
// credential (refresh token, device code, or assertion).
func (s *Service) ExchangeCodeForToken(ctx context.Context, code, codeVerifier string, opts ...ExchangeOption) (*Response, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeTokenExchangeError, "discovery failed before exchange", err)
	}

	form, err := s.buildExchangeBody(code, codeVerifier, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := s.postToken(ctx, md.TokenEndpoint, form)
	metrics.ObserveTokenExchange(string(s.cfg.GrantType), err)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeTokenExchangeError, "token exchange failed", err)
	}
	s.SetTokens(resp)
	return resp, nil
}

// buildExchangeBody assembles the form body per the grant-type matrix.
// client_id, redirect_uri, and client_secret (when set) are always present.
func (s *Service) buildExchangeBody(code, codeVerifier string, opts ...ExchangeOption) (url.Values, error) {
	form := url.Values{}
	form.Set("grant_type", string(s.cfg.GrantType))
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.RedirectURI != "" {
		form.Set("redirect_uri", s.cfg.RedirectURI)
	}
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	for _, opt := range opts {
		opt(form)
	}

	switch s.cfg.GrantType {
	case config.GrantAuthorizationCode:
		form.Set("code", code)
		if codeVerifier != "" {
			form.Set("code_verifier", codeVerifier)
		}
	case config.GrantRefreshToken:
		form.Set("refresh_token", code)
	case config.GrantDeviceCode:
		form.Set("device_code", code)
	case config.GrantJWTBearer:
		form.Set("assertion", code)
		form.Set("scope", strings.Join(s.cfg.Scopes, " "))
	case config.GrantSAML2Bearer:
		form.Set("assertion", code)
	case config.GrantPassword:
		if form.Get("username") == "" || form.Get("password") == "" {
			return nil, apierrors.New(apierrors.CodeInvalidRequest, "password grant requires username and password")
		}
	case config.GrantClientCredentials, config.GrantCustom:
		// No grant-specific fields.
	default:
		return nil, apierrors.Newf(apierrors.CodeUnsupportedGrantType, "grant type %q cannot be exchanged", s.cfg.GrantType)
	}
	return form, nil
}

// postToken POSTs a form to the token endpoint and decodes the response.
// OAuth error bodies and non-2xx statuses both fail.
func (s *Service) postToken(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	body, err := transport.PostForm(ctx, s.doer, endpoint, form)
	if err != nil {
		return nil, err
	}

	var oauthErr ErrorResponse
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
		return nil, apierrors.Newf(apierrors.CodeTokenRequestError, "%s: %s", oauthErr.Error, oauthErr.ErrorDescription)
	}

	resp := &Response{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidJSON, "failed to decode token response", err)
	}
	if resp.AccessToken == "" {
		return nil, apierrors.New(apierrors.CodeTokenRequestError, "token response carries no access token")
	}
	return resp, nil
}

// IntrospectToken calls the provider's introspection endpoint for the
// given token. Fails with IntrospectionUnsupported when the provider does
// not advertise one.
func (s *Service) IntrospectToken(ctx context.Context, tok string) (map[string]any, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeIntrospectionError, "discovery failed before introspection", err)
	}
	if md.IntrospectionEndpoint == "" {
		return nil, apierrors.ErrIntrospectionUnsupported
	}

	form := url.Values{}
	form.Set("token", tok)
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	body, err := transport.PostForm(ctx, s.doer, md.IntrospectionEndpoint, form)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeIntrospectionError, "introspection request failed", err)
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidJSON, "failed to decode introspection response", err)
	}
	return result, nil
}

// RevokeToken revokes tok at the provider. When tok matches the stored
// access or refresh token the stored set is cleared after a successful
// revocation.
func (s *Service) RevokeToken(ctx context.Context, tok, tokenTypeHint string) error {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeRevocationError, "discovery failed before revocation", err)
	}
	if md.RevocationEndpoint == "" {
		return apierrors.ErrRevocationUnsupported
	}

	form := url.Values{}
	form.Set("token", tok)
	if tokenTypeHint != "" {
		form.Set("token_type_hint", tokenTypeHint)
	}
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	if _, err := transport.PostForm(ctx, s.doer, md.RevocationEndpoint, form); err != nil {
		return apierrors.Wrap(apierrors.CodeRevocationError, "revocation request failed", err)
	}

	s.mu.Lock()
	if tok == s.tokens.AccessToken || tok == s.tokens.RefreshToken {
		s.tokens = Set{}
	}
	s.mu.Unlock()
	s.log.Debugf("token: revoked token (hint=%s)", tokenTypeHint)
	return nil
}

// GetClaims resolves the claims of the current access token. JWT-shaped
// tokens are validated locally; opaque tokens are resolved through the
// userinfo endpoint.
func (s *Service) GetClaims(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	access := s.tokens.AccessToken
	s.mu.RUnlock()
	if access == "" {
		return nil, apierrors.ErrNoAccessToken
	}

	if jose.IsCompactJWS(access) {
		payload, err := s.validator.ValidateIDToken(ctx, access, "")
		if err != nil {
			return nil, err
		}
		claims := map[string]any{
			"iss": payload.Issuer,
			"sub": payload.Subject,
			"aud": []string(payload.Audience),
			"exp": payload.Expiry,
			"iat": payload.IssuedAt,
		}
		if payload.Nonce != "" {
			claims["nonce"] = payload.Nonce
		}
		if payload.Azp != "" {
			claims["azp"] = payload.Azp
		}
		for k, v := range payload.Extra {
			claims[k] = v
		}
		return claims, nil
	}

	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeUserInfoUnavailable, "discovery failed before userinfo", err)
	}
	if md.UserinfoEndpoint == "" {
		return nil, apierrors.ErrUserInfoUnavailable
	}
	var claims map[string]any
	if err := transport.GetJSON(ctx, s.doer, md.UserinfoEndpoint, access, &claims); err != nil {
		var httpErr *transport.HTTPError
		if errors.As(err, &httpErr) {
			return nil, apierrors.Wrap(apierrors.CodeUserInfoUnavailable, "userinfo request failed", err)
		}
		return nil, err
	}
	return claims, nil
}
