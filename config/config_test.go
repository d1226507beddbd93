package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authrelay/oidc/apierrors"
)

func validConfig() *ClientConfig {
	return &ClientConfig{
		ClientID:     "my-client",
		DiscoveryURL: "https://idp.example.com/.well-known/openid-configuration",
		GrantType:    GrantAuthorizationCode,
	}
}

func TestSetDefaults(t *testing.T) {
	require := require.New(t)

	cfg := &ClientConfig{
		ClientID:     "c",
		DiscoveryURL: "https://idp.example.com/disc",
		Pkce:         true,
		Session:      &SessionConfig{},
	}
	cfg.SetDefaults()

	require.Equal(DefaultTokenRefreshThreshold, cfg.TokenRefreshThreshold)
	require.Equal(GrantAuthorizationCode, cfg.GrantType)
	require.Equal(PkceS256, cfg.PkceMethod)
	require.Equal(SessionServer, cfg.Session.Mode)
	require.Equal(StorageCookie, cfg.Session.ClientStorage)
	require.Equal(DefaultSessionTTL, cfg.Session.TTL)
	require.Equal(DefaultSessionCookieName, cfg.Session.Cookie.Name)
	require.NotNil(cfg.Session.Cookie.Options.Secure)
	require.True(*cfg.Session.Cookie.Options.Secure)
	require.NotNil(cfg.Session.Cookie.Options.HTTPOnly)
	require.True(*cfg.Session.Cookie.Options.HTTPOnly)
	require.Equal(SameSiteStrict, cfg.Session.Cookie.Options.SameSite)
	require.Equal("/", cfg.Session.Cookie.Options.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ClientConfig)
		wantCode string
	}{
		{
			name:   "valid",
			mutate: func(c *ClientConfig) {},
		},
		{
			name:     "empty discovery URL",
			mutate:   func(c *ClientConfig) { c.DiscoveryURL = "" },
			wantCode: apierrors.CodeInvalidDiscoveryURL,
		},
		{
			name:     "relative discovery URL",
			mutate:   func(c *ClientConfig) { c.DiscoveryURL = "/.well-known/openid-configuration" },
			wantCode: apierrors.CodeInvalidDiscoveryURL,
		},
		{
			name:     "missing client ID",
			mutate:   func(c *ClientConfig) { c.ClientID = "" },
			wantCode: apierrors.CodeInvalidConfig,
		},
		{
			name:     "unknown grant type",
			mutate:   func(c *ClientConfig) { c.GrantType = "telepathy" },
			wantCode: apierrors.CodeInvalidConfig,
		},
		{
			name: "pkce with bad method",
			mutate: func(c *ClientConfig) {
				c.Pkce = true
				c.PkceMethod = "S999"
			},
			wantCode: apierrors.CodeInvalidConfig,
		},
		{
			name: "unknown session mode",
			mutate: func(c *ClientConfig) {
				c.Session = &SessionConfig{Mode: "weird", ClientStorage: StorageCookie}
			},
			wantCode: apierrors.CodeInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, apierrors.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(os.WriteFile(path, []byte(`
clientId: my-client
discoveryUrl: https://idp.example.com/.well-known/openid-configuration
grantType: authorization_code
scopes:
  - openid
  - profile
pkce: true
session:
  mode: hybrid
  useSilentRenew: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("my-client", cfg.ClientID)
	require.Equal([]string{"openid", "profile"}, cfg.Scopes)
	require.Equal(PkceS256, cfg.PkceMethod)
	require.Equal(SessionHybrid, cfg.Session.Mode)
	require.True(cfg.Session.UseSilentRenew)
}

func TestLoadInvalid(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(os.WriteFile(path, []byte("clientId: only-a-client-id\n"), 0o600))

	_, err := Load(path)
	require.True(apierrors.IsCode(err, apierrors.CodeInvalidDiscoveryURL))

	_, err = Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.True(apierrors.IsCode(err, apierrors.CodeInvalidConfig))
}
