// Package transport holds the HTTP seams the library depends on: the Doer
// interface tests substitute, a pooled default client, and thin helpers for
// the form-POST and JSON-GET shapes every OAuth endpoint uses.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/authrelay/oidc/apierrors"
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDefaultClient builds the library's default HTTP client with connection
// pooling and conservative timeouts. tlsConfig may be nil.
func NewDefaultClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:       tlsConfig,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

// HTTPError captures a transport-level failure: either a failed round trip
// or a non-2xx response. Status is zero when no response was received.
type HTTPError struct {
	Status int
	Body   string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Status != 0 {
		return apierrors.Newf(apierrors.CodeHTTPError, "status %d: %s", e.Status, e.Body).Error()
	}
	return apierrors.Wrap(apierrors.CodeHTTPError, "request failed", e.Err).Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Is matches any *HTTPError so errors.Is can test for transport failures.
func (e *HTTPError) Is(target error) bool {
	_, ok := target.(*HTTPError)
	return ok
}

// PostForm sends an application/x-www-form-urlencoded POST and returns the
// raw response body. Non-2xx responses yield an *HTTPError carrying the
// status and body so callers can inspect OAuth error payloads.
func PostForm(ctx context.Context, doer Doer, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &HTTPError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return roundTrip(doer, req)
}

// GetJSON sends a GET with optional Bearer authorization and decodes the
// JSON response into out.
func GetJSON(ctx context.Context, doer Doer, endpoint, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &HTTPError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	body, err := roundTrip(doer, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidJSON, "failed to decode response body", err)
	}
	return nil
}

func roundTrip(doer Doer, req *http.Request) ([]byte, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return nil, &HTTPError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &HTTPError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
