// Package jwks retrieves the provider's signing keys and serves lookups by
// key ID. Fetches are single-flighted and the parsed keys cached.
package jwks

import (
	"context"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/discovery"
	"github.com/authrelay/oidc/metrics"
	"github.com/authrelay/oidc/pkg/cache"
	"github.com/authrelay/oidc/transport"
)

// MetadataSource yields provider metadata; discovery.Service implements it.
type MetadataSource interface {
	Discover(ctx context.Context, forceRefresh bool) (*discovery.Metadata, error)
}

// DefaultTTL is how long fetched keys stay cached before a lookup causes a
// refetch.
const DefaultTTL = 15 * time.Minute

const flightKey = "jwks"

// Service fetches and indexes the provider's JWKS document.
type Service struct {
	metadata MetadataSource
	doer     transport.Doer
	log      logrus.FieldLogger
	ttl      time.Duration

	keys   *cache.Cache[string, jwk.Key]
	flight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the key cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService creates a JWKS service backed by the given metadata source.
func NewService(metadata MetadataSource, doer transport.Doer, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		metadata: metadata,
		doer:     doer,
		log:      log,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.keys = cache.New[string, jwk.Key](s.ttl)
	return s
}

// GetKey returns the signing key with the given kid, fetching the key set
// when it is not cached. A miss after a successful refresh fails with
// KeyNotFound.
func (s *Service) GetKey(ctx context.Context, kid string) (jwk.Key, error) {
	if key, ok := s.keys.Get(kid); ok {
		return key, nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := s.keys.Get(kid); ok {
		return key, nil
	}
	return nil, apierrors.Newf(apierrors.CodeKeyNotFound, "no key with kid %q in provider key set", kid)
}

// refresh fetches and reindexes the key set. Concurrent callers share one
// outbound request.
func (s *Service) refresh(ctx context.Context) error {
	_, err, _ := s.flight.Do(flightKey, func() (any, error) {
		err := s.fetchKeys(ctx)
		metrics.ObserveJWKSFetch(err)
		return nil, err
	})
	return err
}

func (s *Service) fetchKeys(ctx context.Context) error {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return err
	}
	s.log.Debugf("jwks: fetching key set from %s", md.JwksURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, md.JwksURI, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeDiscoveryError, "failed to build JWKS request", err)
	}
	resp, err := s.doer.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeDiscoveryError, "failed to fetch JWKS", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apierrors.Newf(apierrors.CodeDiscoveryError, "JWKS endpoint returned status %d", resp.StatusCode)
	}

	set, err := jwk.ParseReader(resp.Body)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidJSON, "failed to parse JWKS document", err)
	}

	count := 0
	it := set.Keys(ctx)
	for it.Next(ctx) {
		key, ok := it.Pair().Value.(jwk.Key)
		if !ok {
			continue
		}
		if key.KeyID() == "" {
			s.log.Warnf("jwks: skipping key without kid")
			continue
		}
		s.keys.Set(key.KeyID(), key, s.ttl)
		count++
	}
	s.log.Debugf("jwks: cached %d keys", count)
	return nil
}
