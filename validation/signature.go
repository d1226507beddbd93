package validation

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"math/big"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/pkg/jose"
)

// KeySource looks up a signing key by kid; jwks.Service implements it.
type KeySource interface {
	GetKey(ctx context.Context, kid string) (jwk.Key, error)
}

// algInfo describes one supported JWS algorithm.
type algInfo struct {
	kty  jwa.KeyType
	hash crypto.Hash
	// pssSaltLen applies only to PS* algorithms.
	pssSaltLen int
	// curve applies only to ES* algorithms.
	curve jwa.EllipticCurveAlgorithm
}

var supportedAlgs = map[string]algInfo{
	"RS256": {kty: jwa.RSA, hash: crypto.SHA256},
	"RS384": {kty: jwa.RSA, hash: crypto.SHA384},
	"RS512": {kty: jwa.RSA, hash: crypto.SHA512},
	"PS256": {kty: jwa.RSA, hash: crypto.SHA256, pssSaltLen: 32},
	"PS384": {kty: jwa.RSA, hash: crypto.SHA384, pssSaltLen: 48},
	"PS512": {kty: jwa.RSA, hash: crypto.SHA512, pssSaltLen: 64},
	"ES256": {kty: jwa.EC, hash: crypto.SHA256, curve: jwa.P256},
	"ES384": {kty: jwa.EC, hash: crypto.SHA384, curve: jwa.P384},
	"ES512": {kty: jwa.EC, hash: crypto.SHA512, curve: jwa.P521},
	"HS256": {kty: jwa.OctetSeq, hash: crypto.SHA256},
	"HS384": {kty: jwa.OctetSeq, hash: crypto.SHA384},
	"HS512": {kty: jwa.OctetSeq, hash: crypto.SHA512},
}

// SignatureVerifier checks JWS signatures against keys from a KeySource.
type SignatureVerifier struct {
	keys KeySource
	log  logrus.FieldLogger
}

// NewSignatureVerifier creates a verifier backed by the given key source.
func NewSignatureVerifier(keys KeySource, log logrus.FieldLogger) *SignatureVerifier {
	return &SignatureVerifier{keys: keys, log: log}
}

// Verify checks the signature of idToken against the key identified by
// header.Kid. A cryptographic mismatch fails with IdTokenValidationError;
// structural problems fail with InvalidFormat.
func (v *SignatureVerifier) Verify(ctx context.Context, header Header, idToken string) error {
	headerSeg, payloadSeg, signatureSeg, err := jose.SplitCompact(idToken)
	if err != nil {
		return err
	}

	info, ok := supportedAlgs[header.Alg]
	if !ok {
		return apierrors.Newf(apierrors.CodeIDTokenValidation, "unsupported signing algorithm %q", header.Alg)
	}

	key, err := v.keys.GetKey(ctx, header.Kid)
	if err != nil {
		return err
	}
	if err := checkKeyCompatibility(header.Alg, info, key); err != nil {
		return err
	}

	signature, err := jose.Base64URLDecode(signatureSeg)
	if err != nil {
		return err
	}
	signingInput := []byte(headerSeg + "." + payloadSeg)

	h := info.hash.New()
	h.Write(signingInput)
	digest := h.Sum(nil)

	switch info.kty {
	case jwa.RSA:
		err = verifyRSA(header.Alg, info, key, digest, signature)
	case jwa.EC:
		err = verifyECDSA(info, key, digest, signature)
	case jwa.OctetSeq:
		err = verifyHMAC(info, key, signingInput, signature)
	default:
		return apierrors.Newf(apierrors.CodeIDTokenValidation, "unsupported key type %q", info.kty)
	}
	if err != nil {
		v.log.Debugf("signature verification failed for kid %q alg %s: %v", header.Kid, header.Alg, err)
		return apierrors.New(apierrors.CodeIDTokenValidation, "Invalid ID token signature")
	}
	return nil
}

// checkKeyCompatibility enforces the alg/kty matrix and, when the key
// declares its own algorithm, that it matches the header.
func checkKeyCompatibility(alg string, info algInfo, key jwk.Key) error {
	if key.KeyType() != info.kty {
		return apierrors.Newf(apierrors.CodeIDTokenValidation,
			"algorithm %s requires a %s key, got %s", alg, info.kty, key.KeyType())
	}
	if keyAlg := key.Algorithm(); keyAlg != nil && keyAlg.String() != "" && keyAlg.String() != alg {
		return apierrors.Newf(apierrors.CodeIDTokenValidation,
			"key algorithm %s does not match token algorithm %s", keyAlg.String(), alg)
	}
	if strings.HasPrefix(alg, "ES") {
		ecKey, ok := key.(interface{ Crv() jwa.EllipticCurveAlgorithm })
		if !ok {
			return apierrors.New(apierrors.CodeIDTokenValidation, "EC key does not expose a curve")
		}
		if ecKey.Crv() != info.curve {
			return apierrors.Newf(apierrors.CodeIDTokenValidation,
				"algorithm %s requires curve %s, key has %s", alg, info.curve, ecKey.Crv())
		}
	}
	return nil
}

func verifyRSA(alg string, info algInfo, key jwk.Key, digest, signature []byte) error {
	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return err
	}
	if strings.HasPrefix(alg, "PS") {
		return rsa.VerifyPSS(&pub, info.hash, digest, signature, &rsa.PSSOptions{
			SaltLength: info.pssSaltLen,
			Hash:       info.hash,
		})
	}
	return rsa.VerifyPKCS1v15(&pub, info.hash, digest, signature)
}

// ecdsaSignature is the ASN.1 DER structure produced from the raw r||s
// JOSE signature encoding.
type ecdsaSignature struct {
	R, S *big.Int
}

func verifyECDSA(info algInfo, key jwk.Key, digest, signature []byte) error {
	var pub ecdsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return err
	}
	if len(signature)%2 != 0 {
		return apierrors.New(apierrors.CodeInvalidFormat, "raw EC signature length is odd")
	}
	half := len(signature) / 2
	der, err := asn1.Marshal(ecdsaSignature{
		R: new(big.Int).SetBytes(signature[:half]),
		S: new(big.Int).SetBytes(signature[half:]),
	})
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(&pub, digest, der) {
		return apierrors.New(apierrors.CodeIDTokenValidation, "ECDSA verification failed")
	}
	return nil
}

func verifyHMAC(info algInfo, key jwk.Key, signingInput, signature []byte) error {
	var secret []byte
	if err := key.Raw(&secret); err != nil {
		return err
	}
	mac := hmac.New(info.hash.New, secret)
	mac.Write(signingInput)
	if !hmac.Equal(mac.Sum(nil), signature) {
		return apierrors.New(apierrors.CodeIDTokenValidation, "HMAC verification failed")
	}
	return nil
}
