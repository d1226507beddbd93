// Package oidc is an OpenID Connect / OAuth 2.0 relying-party client
// library. A Client wires together provider discovery, the authorization
// flows, token lifecycle management, ID-token validation, and session
// handling for one configured identity provider.
package oidc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/auth"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/discovery"
	"github.com/authrelay/oidc/jwks"
	"github.com/authrelay/oidc/session"
	"github.com/authrelay/oidc/state"
	"github.com/authrelay/oidc/token"
	"github.com/authrelay/oidc/transport"
	"github.com/authrelay/oidc/userinfo"
	"github.com/authrelay/oidc/validation"
)

// Client is the top-level relying-party client. Construct with New; the
// exported services are safe for concurrent use.
type Client struct {
	cfg  *config.ClientConfig
	log  logrus.FieldLogger
	doer transport.Doer

	Discovery *discovery.Service
	JWKS      *jwks.Service
	Token     *token.Service
	Auth      *auth.Service
	UserInfo  *userinfo.Service
	Session   *session.Manager
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	doer  transport.Doer
	log   logrus.FieldLogger
	store session.Store
	now   func() time.Time
}

// WithHTTPClient substitutes the HTTP transport.
func WithHTTPClient(doer transport.Doer) Option {
	return func(o *clientOptions) { o.doer = doer }
}

// WithLogger substitutes the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithSessionStore substitutes the session store. The default is an
// in-memory store sized by the session TTL.
func WithSessionStore(store session.Store) Option {
	return func(o *clientOptions) { o.store = store }
}

// WithClock substitutes the time source used for expiry arithmetic.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// New validates cfg, applies defaults, and wires a Client.
func New(cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.log
	if log == nil {
		logger := logrus.New()
		if cfg.Logging.LogLevel != "" {
			if level, err := logrus.ParseLevel(cfg.Logging.LogLevel); err == nil {
				logger.SetLevel(level)
			}
		}
		log = logger
	}

	doer := o.doer
	if doer == nil {
		doer = transport.NewDefaultClient(nil)
	}

	c := &Client{cfg: cfg, log: log, doer: doer}
	c.Discovery = discovery.NewService(cfg.DiscoveryURL, doer, log)
	c.JWKS = jwks.NewService(c.Discovery, doer, log)

	validator := &lazyValidator{
		cfg:      cfg,
		metadata: c.Discovery,
		keys:     c.JWKS,
		log:      log,
	}

	var tokenOpts []token.Option
	if o.now != nil {
		tokenOpts = append(tokenOpts, token.WithClock(o.now))
		validator.now = o.now
	}
	c.Token = token.NewService(cfg, c.Discovery, doer, validator, log, tokenOpts...)
	c.UserInfo = userinfo.NewService(c.Discovery, c.Token, doer, log)
	c.Auth = auth.NewService(cfg, c.Discovery, c.Token, state.NewStore(), validator, doer, log)

	store := o.store
	if store == nil {
		ttl := time.Duration(config.DefaultSessionTTL) * time.Second
		if cfg.Session != nil {
			ttl = time.Duration(cfg.Session.TTL) * time.Second
		}
		store = session.NewMemoryStore(ttl)
	}
	c.Session = session.NewManager(cfg, c.Token, c.UserInfo, store, log)

	return c, nil
}

// Config returns the client's configuration.
func (c *Client) Config() *config.ClientConfig {
	return c.cfg
}

// Discover resolves the provider metadata, reusing the cache when warm.
func (c *Client) Discover(ctx context.Context) (*discovery.Metadata, error) {
	return c.Discovery.Discover(ctx, false)
}

// Authenticate acquires tokens for non-interactive grants (client
// credentials, password, JWT/SAML2 bearer). For password grants pass
// token.WithCredentials; for bearer grants pass the assertion.
func (c *Client) Authenticate(ctx context.Context, assertion string, opts ...token.ExchangeOption) (*token.Response, error) {
	return c.Token.ExchangeCodeForToken(ctx, assertion, "", opts...)
}

// lazyValidator builds the claims validator on demand, once the provider's
// issuer is known from discovery.
type lazyValidator struct {
	cfg      *config.ClientConfig
	metadata *discovery.Service
	keys     *jwks.Service
	log      logrus.FieldLogger
	now      func() time.Time
}

func (v *lazyValidator) ValidateIDToken(ctx context.Context, idToken, nonce string) (*validation.Payload, error) {
	md, err := v.metadata.Discover(ctx, false)
	if err != nil {
		return nil, err
	}
	var claimOpts []validation.ClaimsOption
	if v.now != nil {
		claimOpts = append(claimOpts, validation.WithClock(v.now))
	}
	claims := validation.NewClaimsValidator(md.Issuer, v.cfg.ClientID, claimOpts...)
	signature := validation.NewSignatureVerifier(v.keys, v.log)
	return validation.NewJwtValidator(claims, signature, v.log).ValidateIDToken(ctx, idToken, nonce)
}
