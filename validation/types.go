// Package validation implements ID-token validation: JOSE header and claim
// decoding, OIDC claim semantics, and JWS signature verification over
// RSA, RSA-PSS, ECDSA, and HMAC keys.
package validation

import (
	"encoding/json"

	"github.com/authrelay/oidc/apierrors"
)

// Header is the decoded JOSE header of a compact JWS.
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// Audience carries the aud claim, which providers emit as either a string
// or an array of strings.
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidJSON, "aud claim is neither string nor array", err)
	}
	*a = Audience(many)
	return nil
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Contains reports whether aud includes the given value.
func (a Audience) Contains(v string) bool {
	for _, aud := range a {
		if aud == v {
			return true
		}
	}
	return false
}

// Payload is the decoded claim set of an ID token. Extra holds every claim
// beyond the registered ones.
type Payload struct {
	Issuer    string   `json:"iss"`
	Subject   string   `json:"sub"`
	Audience  Audience `json:"aud"`
	Expiry    int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore *int64   `json:"nbf,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
	Azp       string   `json:"azp,omitempty"`

	Extra map[string]any `json:"-"`
}

// registered claims lifted into struct fields; everything else lands in Extra.
var registeredClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "nonce": {}, "azp": {},
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range registeredClaims {
		delete(all, k)
	}
	*p = Payload(a)
	p.Extra = all
	return nil
}

// Claim returns a claim by name, registered or not.
func (p *Payload) Claim(name string) (any, bool) {
	switch name {
	case "iss":
		return p.Issuer, p.Issuer != ""
	case "sub":
		return p.Subject, p.Subject != ""
	case "aud":
		return []string(p.Audience), len(p.Audience) > 0
	case "exp":
		return p.Expiry, p.Expiry != 0
	case "iat":
		return p.IssuedAt, p.IssuedAt != 0
	case "nbf":
		if p.NotBefore == nil {
			return nil, false
		}
		return *p.NotBefore, true
	case "nonce":
		return p.Nonce, p.Nonce != ""
	case "azp":
		return p.Azp, p.Azp != ""
	}
	v, ok := p.Extra[name]
	return v, ok
}
