// Package metrics exposes Prometheus counters for the library's outbound
// provider traffic and validation outcomes. Collectors register on the
// default registry; embedders expose them through their own /metrics
// handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oidc_client"

var (
	discoveryFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_fetches_total",
		Help:      "Provider metadata fetches by outcome.",
	}, []string{"outcome"})

	jwksFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jwks_fetches_total",
		Help:      "JWKS document fetches by outcome.",
	}, []string{"outcome"})

	tokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchanges_total",
		Help:      "Token endpoint exchanges by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Refresh grant requests by outcome.",
	}, []string{"outcome"})

	idTokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "id_token_validations_total",
		Help:      "ID token validations by outcome.",
	}, []string{"outcome"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveDiscoveryFetch records one metadata fetch.
func ObserveDiscoveryFetch(err error) {
	discoveryFetches.WithLabelValues(outcome(err)).Inc()
}

// ObserveJWKSFetch records one JWKS fetch.
func ObserveJWKSFetch(err error) {
	jwksFetches.WithLabelValues(outcome(err)).Inc()
}

// ObserveTokenExchange records one token exchange for the given grant.
func ObserveTokenExchange(grantType string, err error) {
	tokenExchanges.WithLabelValues(grantType, outcome(err)).Inc()
}

// ObserveTokenRefresh records one refresh attempt.
func ObserveTokenRefresh(err error) {
	tokenRefreshes.WithLabelValues(outcome(err)).Inc()
}

// ObserveIDTokenValidation records one ID token validation.
func ObserveIDTokenValidation(err error) {
	idTokenValidations.WithLabelValues(outcome(err)).Inc()
}
