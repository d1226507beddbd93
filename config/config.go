// Package config defines the caller-supplied client configuration and its
// validation and defaulting rules.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/samber/lo"
	"sigs.k8s.io/yaml"

	"github.com/authrelay/oidc/apierrors"
)

// GrantType selects the OAuth 2.0 grant used for token acquisition.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantImplicit          GrantType = "implicit"
	GrantDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantPassword          GrantType = "password"
	GrantJWTBearer         GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantSAML2Bearer       GrantType = "urn:ietf:params:oauth:grant-type:saml2-bearer"
	GrantCustom            GrantType = "custom"
)

var knownGrantTypes = map[GrantType]struct{}{
	GrantAuthorizationCode: {},
	GrantImplicit:          {},
	GrantDeviceCode:        {},
	GrantClientCredentials: {},
	GrantRefreshToken:      {},
	GrantPassword:          {},
	GrantJWTBearer:         {},
	GrantSAML2Bearer:       {},
	GrantCustom:            {},
}

// PkceMethod is the code challenge transformation of RFC 7636.
type PkceMethod string

const (
	PkceS256  PkceMethod = "S256"
	PkcePlain PkceMethod = "plain"
)

// SessionMode selects where session state lives.
type SessionMode string

const (
	SessionServer SessionMode = "server"
	SessionClient SessionMode = "client"
	SessionHybrid SessionMode = "hybrid"
)

// ClientStorage selects how client-mode sessions hand tokens to the browser.
type ClientStorage string

const (
	StorageCookie       ClientStorage = "cookie"
	StorageLocalStorage ClientStorage = "localStorage"
)

// SameSite mirrors the cookie SameSite attribute values.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// CookieOptions are the attributes applied to cookies the library emits.
type CookieOptions struct {
	Path     string   `json:"path,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Secure   *bool    `json:"secure,omitempty"`
	HTTPOnly *bool    `json:"httpOnly,omitempty"`
	SameSite SameSite `json:"sameSite,omitempty"`
}

// CookieConfig names the session cookie and sets its attributes.
type CookieConfig struct {
	Name    string        `json:"name,omitempty"`
	Options CookieOptions `json:"options,omitempty"`
}

// SessionConfig governs the session subsystem.
type SessionConfig struct {
	Mode           SessionMode   `json:"mode,omitempty"`
	ClientStorage  ClientStorage `json:"clientStorage,omitempty"`
	UseSilentRenew bool          `json:"useSilentRenew,omitempty"`
	// TTL is the server-side session lifetime in seconds.
	TTL    int          `json:"ttl,omitempty"`
	Cookie CookieConfig `json:"cookie,omitempty"`
}

// LoggingConfig controls the verbosity of the injected logger.
type LoggingConfig struct {
	LogLevel string `json:"logLevel,omitempty"`
}

// ClientConfig is the caller-provided configuration for one relying-party
// client. Zero values are filled by SetDefaults; Validate enforces the
// invariants the rest of the library assumes.
type ClientConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`

	RedirectURI           string `json:"redirectUri,omitempty"`
	PostLogoutRedirectURI string `json:"postLogoutRedirectUri,omitempty"`

	Scopes       []string  `json:"scopes,omitempty"`
	DiscoveryURL string    `json:"discoveryUrl"`
	GrantType    GrantType `json:"grantType"`

	Pkce       bool       `json:"pkce,omitempty"`
	PkceMethod PkceMethod `json:"pkceMethod,omitempty"`

	ResponseType string   `json:"responseType,omitempty"`
	ResponseMode string   `json:"responseMode,omitempty"`
	AcrValues    []string `json:"acrValues,omitempty"`
	UILocales    []string `json:"uiLocales,omitempty"`

	// TokenRefreshThreshold is the guard band, in seconds, subtracted from
	// token expiry when judging validity and scheduling silent renew.
	TokenRefreshThreshold int `json:"tokenRefreshThreshold,omitempty"`

	Session *SessionConfig `json:"session,omitempty"`
	Logging LoggingConfig  `json:"logging,omitempty"`
}

const (
	DefaultTokenRefreshThreshold = 60
	DefaultSessionCookieName     = "sid"
	DefaultSessionTTL            = 3600
)

// SetDefaults fills unset fields with the documented defaults.
func (c *ClientConfig) SetDefaults() {
	if c.TokenRefreshThreshold <= 0 {
		c.TokenRefreshThreshold = DefaultTokenRefreshThreshold
	}
	if c.GrantType == "" {
		c.GrantType = GrantAuthorizationCode
	}
	if c.Pkce && c.PkceMethod == "" {
		c.PkceMethod = PkceS256
	}
	if c.Session != nil {
		if c.Session.Mode == "" {
			c.Session.Mode = SessionServer
		}
		if c.Session.ClientStorage == "" {
			c.Session.ClientStorage = StorageCookie
		}
		if c.Session.TTL <= 0 {
			c.Session.TTL = DefaultSessionTTL
		}
		if c.Session.Cookie.Name == "" {
			c.Session.Cookie.Name = DefaultSessionCookieName
		}
		opts := &c.Session.Cookie.Options
		opts.Secure = lo.ToPtr(lo.FromPtrOr(opts.Secure, true))
		opts.HTTPOnly = lo.ToPtr(lo.FromPtrOr(opts.HTTPOnly, true))
		if opts.SameSite == "" {
			opts.SameSite = SameSiteStrict
		}
		if opts.Path == "" {
			opts.Path = "/"
		}
	}
}

// Validate checks the configuration invariants. The discovery URL must be
// a non-empty absolute URL; the grant type must be known; PKCE requires a
// valid method.
func (c *ClientConfig) Validate() error {
	if c.DiscoveryURL == "" {
		return apierrors.ErrInvalidDiscoveryURL
	}
	u, err := url.Parse(c.DiscoveryURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return apierrors.Newf(apierrors.CodeInvalidDiscoveryURL, "discovery URL %q is not absolute", c.DiscoveryURL)
	}
	if c.ClientID == "" {
		return apierrors.New(apierrors.CodeInvalidConfig, "clientId is required")
	}
	if _, ok := knownGrantTypes[c.GrantType]; !ok {
		return apierrors.Newf(apierrors.CodeInvalidConfig, "unknown grant type %q", c.GrantType)
	}
	if c.Pkce && c.PkceMethod != PkceS256 && c.PkceMethod != PkcePlain {
		return apierrors.Newf(apierrors.CodeInvalidConfig, "invalid PKCE method %q", c.PkceMethod)
	}
	if c.Session != nil {
		switch c.Session.Mode {
		case SessionServer, SessionClient, SessionHybrid:
		default:
			return apierrors.Newf(apierrors.CodeInvalidConfig, "unknown session mode %q", c.Session.Mode)
		}
		switch c.Session.ClientStorage {
		case StorageCookie, StorageLocalStorage:
		default:
			return apierrors.Newf(apierrors.CodeInvalidConfig, "unknown client storage %q", c.Session.ClientStorage)
		}
	}
	return nil
}

// RefreshThreshold returns the guard band as a duration.
func (c *ClientConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.TokenRefreshThreshold) * time.Second
}

// Load reads a YAML (or JSON) config file, applies defaults, and validates.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidConfig, "failed to read config file", err)
	}
	cfg := &ClientConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidConfig, "failed to parse config file", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
