package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/oidc/apierrors"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "my-client"
)

func fixedClock(at time.Time) ClaimsOption {
	return WithClock(func() time.Time { return at })
}

func TestValidateClaims(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := func() *Payload {
		return &Payload{
			Issuer:   testIssuer,
			Subject:  "user-1",
			Audience: Audience{testClientID},
			Expiry:   now.Add(time.Hour).Unix(),
			IssuedAt: now.Unix(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Payload)
		nonce   string
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(p *Payload) {},
		},
		{
			name:    "wrong issuer",
			mutate:  func(p *Payload) { p.Issuer = "https://evil.example.com" },
			wantErr: true,
		},
		{
			name:    "audience does not contain client",
			mutate:  func(p *Payload) { p.Audience = Audience{"someone-else"} },
			wantErr: true,
		},
		{
			name:   "multi audience with matching azp",
			mutate: func(p *Payload) { p.Audience = Audience{testClientID, "other"}; p.Azp = testClientID },
		},
		{
			name:    "multi audience with wrong azp",
			mutate:  func(p *Payload) { p.Audience = Audience{testClientID, "other"}; p.Azp = "other" },
			wantErr: true,
		},
		{
			name:   "single audience ignores azp",
			mutate: func(p *Payload) { p.Azp = "other" },
		},
		{
			name:    "expired",
			mutate:  func(p *Payload) { p.Expiry = now.Add(-time.Minute).Unix() },
			wantErr: true,
		},
		{
			name:   "iat slightly in the future is tolerated",
			mutate: func(p *Payload) { p.IssuedAt = now.Add(2 * time.Minute).Unix() },
		},
		{
			name:    "iat too far in the future",
			mutate:  func(p *Payload) { p.IssuedAt = now.Add(10 * time.Minute).Unix() },
			wantErr: true,
		},
		{
			name:   "nbf in the past",
			mutate: func(p *Payload) { p.NotBefore = lo.ToPtr(now.Add(-time.Minute).Unix()) },
		},
		{
			name:    "nbf in the future",
			mutate:  func(p *Payload) { p.NotBefore = lo.ToPtr(now.Add(time.Minute).Unix()) },
			wantErr: true,
		},
		{
			name:   "matching nonce",
			mutate: func(p *Payload) { p.Nonce = "n-1" },
			nonce:  "n-1",
		},
		{
			name:    "nonce mismatch",
			mutate:  func(p *Payload) { p.Nonce = "n-2" },
			nonce:   "n-1",
			wantErr: true,
		},
		{
			name:   "nonce not requested",
			mutate: func(p *Payload) { p.Nonce = "whatever" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewClaimsValidator(testIssuer, testClientID, fixedClock(now))
			payload := base()
			tt.mutate(payload)
			err := v.Validate(payload, tt.nonce)
			if tt.wantErr {
				require.True(t, apierrors.IsCode(err, apierrors.CodeIDTokenValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAudienceUnmarshal(t *testing.T) {
	require := require.New(t)

	// Scalar and single-element array are equivalent.
	var scalar, array Audience
	require.NoError(json.Unmarshal([]byte(`"my-client"`), &scalar))
	require.NoError(json.Unmarshal([]byte(`["my-client"]`), &array))
	require.Equal(scalar, array)
	require.True(scalar.Contains("my-client"))

	var many Audience
	require.NoError(json.Unmarshal([]byte(`["a","b"]`), &many))
	require.Len(many, 2)

	require.Error(json.Unmarshal([]byte(`42`), &scalar))
}

func TestPayloadExtraClaims(t *testing.T) {
	require := require.New(t)

	var p Payload
	require.NoError(json.Unmarshal([]byte(`{
		"iss": "https://idp.example.com",
		"sub": "user-1",
		"aud": "my-client",
		"exp": 1900000000,
		"iat": 1700000000,
		"preferred_username": "jdoe",
		"groups": ["a", "b"]
	}`), &p))

	name, ok := p.Claim("preferred_username")
	require.True(ok)
	require.Equal("jdoe", name)

	iss, ok := p.Claim("iss")
	require.True(ok)
	require.Equal("https://idp.example.com", iss)

	_, ok = p.Claim("missing")
	require.False(ok)
}
