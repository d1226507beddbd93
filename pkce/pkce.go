// Package pkce generates the code verifier and challenge pair of RFC 7636.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/config"
	"github.com/authrelay/oidc/pkg/jose"
)

// Pair is one verifier/challenge pair bound to a single authorization
// request.
type Pair struct {
	CodeVerifier  string
	CodeChallenge string
	Method        config.PkceMethod
}

// Generate produces a fresh pair using the given challenge method. The
// verifier is 32 random bytes, base64url-encoded. S256 challenges are
// BASE64URL(SHA256(verifier)); plain challenges repeat the verifier.
func Generate(method config.PkceMethod) (*Pair, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, apierrors.Wrap(apierrors.CodePkceError, "failed to generate code verifier", err)
	}
	verifier := jose.Base64URLEncode(buf)

	switch method {
	case config.PkceS256:
		sum := sha256.Sum256([]byte(verifier))
		return &Pair{
			CodeVerifier:  verifier,
			CodeChallenge: jose.Base64URLEncode(sum[:]),
			Method:        config.PkceS256,
		}, nil
	case config.PkcePlain:
		return &Pair{
			CodeVerifier:  verifier,
			CodeChallenge: verifier,
			Method:        config.PkcePlain,
		}, nil
	default:
		return nil, apierrors.Newf(apierrors.CodeInvalidConfig, "invalid PKCE method %q", method)
	}
}
