package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/oidc/apierrors"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func metadataDoc(issuer string) map[string]string {
	return map[string]string{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/authorize",
		"token_endpoint":         issuer + "/token",
		"jwks_uri":               issuer + "/keys",
	}
}

func newMetadataServer(t *testing.T, hits *atomic.Int64, doc map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverCaches(t *testing.T) {
	require := require.New(t)
	var hits atomic.Int64
	srv := newMetadataServer(t, &hits, metadataDoc("https://idp.example.com"))

	s := NewService(srv.URL, srv.Client(), testLogger())

	md, err := s.Discover(context.Background(), false)
	require.NoError(err)
	require.Equal("https://idp.example.com", md.Issuer)

	// Warm cache: no second fetch.
	md2, err := s.Discover(context.Background(), false)
	require.NoError(err)
	require.Same(md, md2)
	require.EqualValues(1, hits.Load())

	// forceRefresh bypasses the cache.
	_, err = s.Discover(context.Background(), true)
	require.NoError(err)
	require.EqualValues(2, hits.Load())
}

func TestDiscoverSingleFlight(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metadataDoc("https://idp.example.com"))
	}))
	defer srv.Close()

	s := NewService(srv.URL, srv.Client(), testLogger())

	const callers = 10
	results := make([]*Metadata, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			md, err := s.Discover(context.Background(), false)
			require.NoError(err)
			results[i] = md
		}(i)
	}

	// Let every caller pile onto the in-flight fetch before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(1, hits.Load(), "cold-cache callers must share one fetch")
	for i := 1; i < callers; i++ {
		require.Same(results[0], results[i])
	}
}

func TestDiscoverValidation(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantMsg string
	}{
		{name: "missing issuer", drop: "issuer"},
		{name: "missing authorization_endpoint", drop: "authorization_endpoint"},
		{name: "missing token_endpoint", drop: "token_endpoint"},
		{name: "missing jwks_uri", drop: "jwks_uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			doc := metadataDoc("https://idp.example.com")
			delete(doc, tt.drop)
			var hits atomic.Int64
			srv := newMetadataServer(t, &hits, doc)

			s := NewService(srv.URL, srv.Client(), testLogger())
			_, err := s.Discover(context.Background(), false)
			// Validation failures keep their own code rather than being
			// wrapped as a discovery error.
			require.True(apierrors.IsCode(err, apierrors.CodeInvalidConfig), "got %v", err)
		})
	}
}

func TestDiscoverHTTPFailure(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewService(srv.URL, srv.Client(), testLogger())
	_, err := s.Discover(context.Background(), false)
	require.True(apierrors.IsCode(err, apierrors.CodeDiscoveryError), "got %v", err)
}

func TestDiscoverEmptyURL(t *testing.T) {
	s := NewService("", http.DefaultClient, testLogger())
	_, err := s.Discover(context.Background(), false)
	require.True(t, apierrors.IsCode(err, apierrors.CodeInvalidDiscoveryURL))
}

func TestInvalidate(t *testing.T) {
	require := require.New(t)
	var hits atomic.Int64
	srv := newMetadataServer(t, &hits, metadataDoc("https://idp.example.com"))

	s := NewService(srv.URL, srv.Client(), testLogger())
	_, err := s.Discover(context.Background(), false)
	require.NoError(err)

	s.Invalidate()
	_, err = s.Discover(context.Background(), false)
	require.NoError(err)
	require.EqualValues(2, hits.Load())
}
