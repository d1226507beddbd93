// Package jose holds the low-level JOSE plumbing shared by the validation
// and token packages: base64url codecs, compact-serialization splitting,
// and JWK material conversion.
package jose

import (
	"encoding/base64"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/authrelay/oidc/apierrors"
)

// Base64URLEncode encodes b as unpadded base64url per RFC 7515.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded base64url. Padded input is accepted for
// interoperability with providers that emit it.
func Base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidFormat, "invalid base64url segment", err)
	}
	return b, nil
}

// SplitCompact splits a JWS compact serialization into its three segments.
// Fails with InvalidFormat when the segment count differs from three.
func SplitCompact(token string) (header, payload, signature string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", apierrors.Newf(apierrors.CodeInvalidFormat, "expected 3 token segments, got %d", len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

// IsCompactJWS reports whether s has the three-segment shape of a JWS.
// It does not validate segment contents.
func IsCompactJWS(s string) bool {
	return strings.Count(s, ".") == 2
}

// JWKToPEM renders the public key material of key as a PEM block. Useful
// when handing keys to components that only speak PEM.
func JWKToPEM(key jwk.Key) ([]byte, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidFormat, "failed to derive public key", err)
	}
	pemBytes, err := jwk.EncodePEM(pub)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidFormat, "failed to encode key as PEM", err)
	}
	return pemBytes, nil
}
