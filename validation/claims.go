package validation

import (
	"time"

	"github.com/authrelay/oidc/apierrors"
)

// DefaultMaxFutureSkew is how far in the future iat may lie before the
// token is rejected.
const DefaultMaxFutureSkew = 300 * time.Second

// ClaimsValidator enforces OIDC claim semantics for one relying party.
type ClaimsValidator struct {
	expectedIssuer   string
	expectedAudience string
	maxFutureSkew    time.Duration

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// ClaimsOption configures a ClaimsValidator.
type ClaimsOption func(*ClaimsValidator)

// WithMaxFutureSkew overrides the allowed forward clock skew for iat.
func WithMaxFutureSkew(d time.Duration) ClaimsOption {
	return func(v *ClaimsValidator) { v.maxFutureSkew = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ClaimsOption {
	return func(v *ClaimsValidator) { v.now = now }
}

// NewClaimsValidator creates a validator for the given issuer and audience
// (the relying party's client ID).
func NewClaimsValidator(expectedIssuer, expectedAudience string, opts ...ClaimsOption) *ClaimsValidator {
	v := &ClaimsValidator{
		expectedIssuer:   expectedIssuer,
		expectedAudience: expectedAudience,
		maxFutureSkew:    DefaultMaxFutureSkew,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the payload's claims in a fixed order, failing fast on
// the first violation. nonce is compared only when non-empty.
func (v *ClaimsValidator) Validate(payload *Payload, nonce string) error {
	if payload.Issuer != v.expectedIssuer {
		return apierrors.Newf(apierrors.CodeIDTokenValidation,
			"issuer %q does not match expected issuer %q", payload.Issuer, v.expectedIssuer)
	}
	if !payload.Audience.Contains(v.expectedAudience) {
		return apierrors.Newf(apierrors.CodeIDTokenValidation,
			"audience %v does not contain client ID %q", []string(payload.Audience), v.expectedAudience)
	}
	if len(payload.Audience) > 1 && payload.Azp != "" && payload.Azp != v.expectedAudience {
		return apierrors.Newf(apierrors.CodeIDTokenValidation,
			"authorized party %q does not match client ID %q", payload.Azp, v.expectedAudience)
	}

	now := v.now().Unix()
	if payload.Expiry <= now {
		return apierrors.New(apierrors.CodeIDTokenValidation, "token is expired")
	}
	if payload.IssuedAt > now+int64(v.maxFutureSkew.Seconds()) {
		return apierrors.New(apierrors.CodeIDTokenValidation, "token issued too far in the future")
	}
	if payload.NotBefore != nil && *payload.NotBefore > now {
		return apierrors.New(apierrors.CodeIDTokenValidation, "token is not yet valid")
	}

	if nonce != "" && payload.Nonce != nonce {
		return apierrors.New(apierrors.CodeIDTokenValidation, "nonce does not match authorization request")
	}
	return nil
}
