// Package token owns the client's token set and its lifecycle: exchange,
// refresh with an expiry guard band, introspection, revocation, and claim
// resolution for opaque and JWT access tokens.
package token

import (
	"time"
)

// Response is the token endpoint's JSON response per RFC 6749 §5.1.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the token endpoint's JSON error body per RFC 6749 §5.2.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// Set is the in-memory token set. ExpiresAt is absolute epoch milliseconds
// computed when the set is stored.
type Set struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// IsZero reports whether the set holds no tokens at all.
func (s Set) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.IDToken == ""
}

// newSet builds a Set from a token response, stamping ExpiresAt when the
// response carries expires_in.
func newSet(resp *Response, now time.Time) Set {
	set := Set{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.ExpiresIn > 0 {
		set.ExpiresAt = now.UnixMilli() + resp.ExpiresIn*1000
	}
	return set
}
