// Package discovery fetches, validates, and caches the identity provider's
// published metadata. Concurrent cold-cache callers share one outbound
// fetch.
package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/metrics"
	"github.com/authrelay/oidc/pkg/cache"
	"github.com/authrelay/oidc/transport"
)

// Metadata is the subset of the provider configuration document the
// library consumes. Once validated it is treated as immutable.
type Metadata struct {
	Issuer                      string `json:"issuer"`
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
	JwksURI                     string `json:"jwks_uri"`
	UserinfoEndpoint            string `json:"userinfo_endpoint,omitempty"`
	IntrospectionEndpoint       string `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint          string `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint          string `json:"end_session_endpoint,omitempty"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`
}

// validate checks the four fields the rest of the library cannot work
// without.
func (m *Metadata) validate() error {
	switch {
	case m.Issuer == "":
		return apierrors.New(apierrors.CodeInvalidConfig, "discovery document missing issuer")
	case m.AuthorizationEndpoint == "":
		return apierrors.New(apierrors.CodeInvalidConfig, "discovery document missing authorization_endpoint")
	case m.TokenEndpoint == "":
		return apierrors.New(apierrors.CodeInvalidConfig, "discovery document missing token_endpoint")
	case m.JwksURI == "":
		return apierrors.New(apierrors.CodeInvalidConfig, "discovery document missing jwks_uri")
	}
	return nil
}

// DefaultTTL is how long a validated metadata document stays cached.
const DefaultTTL = time.Hour

const cacheKey = "metadata"

// Service resolves provider metadata with caching and single-flight
// de-duplication of concurrent fetches.
type Service struct {
	discoveryURL string
	doer         transport.Doer
	log          logrus.FieldLogger
	ttl          time.Duration

	cache  *cache.Cache[string, *Metadata]
	flight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the metadata cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService creates a discovery service for the given URL.
func NewService(discoveryURL string, doer transport.Doer, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		discoveryURL: discoveryURL,
		doer:         doer,
		log:          log,
		ttl:          DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New[string, *Metadata](s.ttl)
	return s
}

// Discover returns the provider metadata, fetching it when the cache is
// cold or forceRefresh is set. Validation failures surface unchanged;
// fetch and parse failures are wrapped as DiscoveryError.
func (s *Service) Discover(ctx context.Context, forceRefresh bool) (*Metadata, error) {
	if !forceRefresh {
		if md, ok := s.cache.Get(cacheKey); ok {
			return md, nil
		}
	}

	v, err, shared := s.flight.Do(cacheKey, func() (any, error) {
		md, err := s.fetch(ctx)
		metrics.ObserveDiscoveryFetch(err)
		if err != nil {
			return nil, err
		}
		s.cache.Set(cacheKey, md, s.ttl)
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debugf("discovery: joined in-flight fetch for %s", s.discoveryURL)
	}
	return v.(*Metadata), nil
}

// Invalidate drops the cached metadata so the next Discover refetches.
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

func (s *Service) fetch(ctx context.Context) (*Metadata, error) {
	if s.discoveryURL == "" {
		return nil, apierrors.ErrInvalidDiscoveryURL
	}
	s.log.Debugf("discovery: fetching provider metadata from %s", s.discoveryURL)

	md := &Metadata{}
	if err := transport.GetJSON(ctx, s.doer, s.discoveryURL, "", md); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDiscoveryError, "failed to fetch discovery document", err)
	}
	if err := md.validate(); err != nil {
		return nil, err
	}
	s.log.Debugf("discovery: resolved issuer %s", md.Issuer)
	return md, nil
}
