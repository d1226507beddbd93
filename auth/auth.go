// Package auth orchestrates the authorization flows: building the
// authorization and logout URLs, handling code and implicit redirects, and
// driving the RFC 8628 device flow.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/discovery"
	"github.com/authrelay/oidc/pkce"
	"github.com/authrelay/oidc/state"
	"github.com/authrelay/oidc/token"
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

// AuthorizationURL is the result of GetAuthorizationURL: the URL to send
// the user agent to, and the state echoed back on the redirect.
type AuthorizationURL struct {
	URL   string
	State string
}

// Service coordinates one client's authorization flows. It owns the state
// store and the pending PKCE verifier.
type Service struct {
	cfg       *config.ClientConfig
	metadata  MetadataSource
	tokens    *token.Service
	states    *state.Store
	validator IDTokenValidator
	doer      transport.Doer
	log       logrus.FieldLogger

	mu           sync.Mutex
	codeVerifier string
}

// NewService creates an auth service.
func NewService(cfg *config.ClientConfig, metadata MetadataSource, tokens *token.Service, states *state.Store, validator IDTokenValidator, doer transport.Doer, log logrus.FieldLogger) *Service {
	return &Service{
		cfg:       cfg,
		metadata:  metadata,
		tokens:    tokens,
		states:    states,
		validator: validator,
		doer:      doer,
		log:       log,
	}
}

// Tokens exposes the owned token service.
func (s *Service) Tokens() *token.Service {
	return s.tokens
}

// interactiveGrants are the grant types an authorization URL makes sense for.
var interactiveGrants = map[config.GrantType]struct{}{
	config.GrantAuthorizationCode: {},
	config.GrantImplicit:          {},
	config.GrantDeviceCode:        {},
}

// GetAuthorizationURL builds the authorization request URL, minting and
// registering a fresh state/nonce pair. extraParams are appended verbatim.
func (s *Service) GetAuthorizationURL(ctx context.Context, extraParams map[string]string) (*AuthorizationURL, error) {
	if _, ok := interactiveGrants[s.cfg.GrantType]; !ok {
		return nil, apierrors.Newf(apierrors.CodeInvalidGrantType,
			"grant type %q has no authorization URL", s.cfg.GrantType)
	}

	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, err
	}

	stateVal, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}
	if err := s.states.Add(ctx, stateVal, nonce); err != nil {
		return nil, err
	}

	q := url.Values{}
	responseType := s.cfg.ResponseType
	if responseType == "" {
		responseType = "code"
	}
	q.Set("response_type", responseType)
	q.Set("client_id", s.cfg.ClientID)
	if s.cfg.RedirectURI != "" {
		q.Set("redirect_uri", s.cfg.RedirectURI)
	}
	if len(s.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}
	q.Set("state", stateVal)
	q.Set("nonce", nonce)
	if s.cfg.ResponseMode != "" {
		q.Set("response_mode", s.cfg.ResponseMode)
	}
	if len(s.cfg.AcrValues) > 0 {
		q.Set("acr_values", strings.Join(s.cfg.AcrValues, " "))
	}
	if len(s.cfg.UILocales) > 0 {
		q.Set("ui_locales", strings.Join(s.cfg.UILocales, " "))
	}

	if s.cfg.Pkce && s.cfg.GrantType == config.GrantAuthorizationCode {
		if err := s.applyPkce(q); err != nil {
			return nil, err
		}
	}

	for k, v := range extraParams {
		q.Set(k, v)
	}

	sep := "?"
	if strings.Contains(md.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return &AuthorizationURL{
		URL:   md.AuthorizationEndpoint + sep + q.Encode(),
		State: stateVal,
	}, nil
}

// applyPkce generates a verifier/challenge pair and adds the challenge
// parameters. An unrecognized method falls back to S256 generation and
// omits code_challenge_method with a warning.
func (s *Service) applyPkce(q url.Values) error {
	method := s.cfg.PkceMethod
	includeMethod := true
	if method != config.PkceS256 && method != config.PkcePlain {
		s.log.Warnf("auth: unrecognized PKCE method %q, omitting code_challenge_method", method)
		method = config.PkceS256
		includeMethod = false
	}

	pair, err := pkce.Generate(method)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.codeVerifier = pair.CodeVerifier
	s.mu.Unlock()

	q.Set("code_challenge", pair.CodeChallenge)
	if includeMethod {
		q.Set("code_challenge_method", string(pair.Method))
	}
	return nil
}

// HandleRedirect completes the authorization-code flow: the returned state
// is consumed, the code exchanged, and the ID token (when present)
// validated against the nonce minted for this request.
func (s *Service) HandleRedirect(ctx context.Context, code, returnedState string) error {
	nonce, err := s.states.GetNonce(ctx, returnedState)
	if err != nil {
		return err
	}

	s.mu.Lock()
	verifier := s.codeVerifier
	s.codeVerifier = ""
	s.mu.Unlock()

	resp, err := s.tokens.ExchangeCodeForToken(ctx, code, verifier)
	if err != nil {
		return err
	}

	if resp.IDToken == "" {
		s.log.Warnf("auth: no ID token returned to validate")
		return nil
	}
	if _, err := s.validator.ValidateIDToken(ctx, resp.IDToken, nonce); err != nil {
		return err
	}
	return nil
}

// HandleRedirectForImplicitFlow parses the fragment of an implicit-flow
// redirect, consumes the state, validates the ID token when present, and
// stores the delivered tokens.
func (s *Service) HandleRedirectForImplicitFlow(ctx context.Context, fragment string) error {
	params, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidRequest, "malformed redirect fragment", err)
	}

	if errCode := params.Get("error"); errCode != "" {
		return &apierrors.Error{
			Code:    strings.ToUpper(errCode),
			Message: params.Get("error_description"),
		}
	}

	accessToken := params.Get("access_token")
	stateVal := params.Get("state")
	if accessToken == "" || stateVal == "" {
		return apierrors.New(apierrors.CodeInvalidRequest, "fragment missing access_token or state")
	}

	nonce, err := s.states.GetNonce(ctx, stateVal)
	if err != nil {
		return err
	}

	if idToken := params.Get("id_token"); idToken != "" {
		if _, err := s.validator.ValidateIDToken(ctx, idToken, nonce); err != nil {
			return err
		}
	}

	resp := &token.Response{
		AccessToken: accessToken,
		TokenType:   params.Get("token_type"),
		IDToken:     params.Get("id_token"),
	}
	if expiresIn := params.Get("expires_in"); expiresIn != "" {
		if parsed, err := strconv.ParseInt(expiresIn, 10, 64); err == nil {
			resp.ExpiresIn = parsed
		}
	}
	s.tokens.SetTokens(resp)
	return nil
}

// GetLogoutURL builds the RP-initiated logout URL. idTokenHint and
// logoutState are optional.
func (s *Service) GetLogoutURL(ctx context.Context, idTokenHint, logoutState string) (string, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return "", err
	}
	if md.EndSessionEndpoint == "" {
		return "", apierrors.ErrEndSessionMissing
	}

	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	if s.cfg.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", s.cfg.PostLogoutRedirectURI)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if logoutState != "" {
		q.Set("state", logoutState)
	}

	sep := "?"
	if strings.Contains(md.EndSessionEndpoint, "?") {
		sep = "&"
	}
	return md.EndSessionEndpoint + sep + q.Encode(), nil
}

// randomToken returns 32 random bytes hex-encoded.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apierrors.Wrap(apierrors.CodeInvalidRequest, "failed to generate random value", err)
	}
	return hex.EncodeToString(buf), nil
}
