package validation

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/metrics"
	"github.com/authrelay/oidc/pkg/jose"
)

// JwtValidator decodes an ID token, validates its claims, and verifies its
// signature.
type JwtValidator struct {
	claims    *ClaimsValidator
	signature *SignatureVerifier
	log       logrus.FieldLogger
}

// NewJwtValidator combines a claims validator and signature verifier.
func NewJwtValidator(claims *ClaimsValidator, signature *SignatureVerifier, log logrus.FieldLogger) *JwtValidator {
	return &JwtValidator{claims: claims, signature: signature, log: log}
}

// Decode splits and decodes a compact JWS into header and payload without
// verifying anything. Malformed structure or JSON fails with
// IdTokenValidationError("Invalid JWT format").
func Decode(token string) (*Header, *Payload, error) {
	headerSeg, payloadSeg, _, err := jose.SplitCompact(token)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.CodeIDTokenValidation, "Invalid JWT format")
	}
	headerBytes, err := jose.Base64URLDecode(headerSeg)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.CodeIDTokenValidation, "Invalid JWT format")
	}
	payloadBytes, err := jose.Base64URLDecode(payloadSeg)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.CodeIDTokenValidation, "Invalid JWT format")
	}

	header := &Header{}
	if err := json.Unmarshal(headerBytes, header); err != nil {
		return nil, nil, apierrors.New(apierrors.CodeIDTokenValidation, "Invalid JWT format")
	}
	payload := &Payload{}
	if err := json.Unmarshal(payloadBytes, payload); err != nil {
		return nil, nil, apierrors.New(apierrors.CodeIDTokenValidation, "Invalid JWT format")
	}
	return header, payload, nil
}

// ValidateIDToken decodes token, enforces claim semantics (including nonce
// when supplied), then verifies the signature. Errors from either stage
// surface unchanged.
func (v *JwtValidator) ValidateIDToken(ctx context.Context, token, nonce string) (payload *Payload, err error) {
	defer func() { metrics.ObserveIDTokenValidation(err) }()

	header, payload, err := Decode(token)
	if err != nil {
		return nil, err
	}
	if err := v.claims.Validate(payload, nonce); err != nil {
		return nil, err
	}
	if err := v.signature.Verify(ctx, *header, token); err != nil {
		return nil, err
	}
	v.log.Debugf("ID token validated for subject %s", payload.Subject)
	return payload, nil
}
