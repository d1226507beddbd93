package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/authrelay/oidc/apierrors"
	"github.com/authrelay/oidc/pkg/poll"
	"github.com/authrelay/oidc/token"
	"github.com/authrelay/oidc/transport"
)

// DeviceAuthorization is the device authorization response of RFC 8628 §3.2.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval,omitempty"`
}

const defaultDeviceInterval = 5 * time.Second

// slowDownIncrement is added to the polling interval on slow_down
// responses, per RFC 8628 §3.5. Var for tests.
var slowDownIncrement = 5 * time.Second

// deviceGrantType is the RFC 8628 token request grant type.
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// StartDeviceAuthorization requests a device and user code pair. Fails
// with EndpointMissing when the provider does not advertise a device
// authorization endpoint. A missing interval defaults to 5 seconds.
func (s *Service) StartDeviceAuthorization(ctx context.Context) (*DeviceAuthorization, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, err
	}
	if md.DeviceAuthorizationEndpoint == "" {
		return nil, apierrors.New(apierrors.CodeEndpointMissing, "provider does not advertise a device_authorization_endpoint")
	}

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	if len(s.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}

	body, err := transport.PostForm(ctx, s.doer, md.DeviceAuthorizationEndpoint, form)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDeviceAuthError, "device authorization request failed", err)
	}

	da := &DeviceAuthorization{}
	if err := json.Unmarshal(body, da); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidJSON, "failed to decode device authorization response", err)
	}
	if da.Interval <= 0 {
		da.Interval = int64(defaultDeviceInterval / time.Second)
	}
	s.log.Debugf("auth: device authorization started, user code %s", da.UserCode)
	return da, nil
}

// PollDeviceToken polls the token endpoint until the user approves the
// device, the device code expires, or timeout elapses. slow_down responses
// add five seconds to the polling interval. On success the token set is
// stored and returned.
func (s *Service) PollDeviceToken(ctx context.Context, deviceCode string, interval time.Duration, timeout time.Duration) (*token.Response, error) {
	md, err := s.metadata.Discover(ctx, false)
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = defaultDeviceInterval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("grant_type", deviceGrantType)
	form.Set("device_code", deviceCode)
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	var result *token.Response
	loop := poll.NewLoop(interval)
	err = loop.Run(ctx, func(ctx context.Context) (bool, error) {
		body, err := transport.PostForm(ctx, s.doer, md.TokenEndpoint, form)
		if err == nil {
			resp := &token.Response{}
			if err := json.Unmarshal(body, resp); err != nil || resp.AccessToken == "" {
				return false, apierrors.New(apierrors.CodeTokenPollingError, "token response is not parsable")
			}
			s.tokens.SetTokens(resp)
			result = resp
			return true, nil
		}

		var httpErr *transport.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Body == "" {
			return false, apierrors.Wrap(apierrors.CodeTokenPollingError, "device token request failed", err)
		}

		var oauthErr token.ErrorResponse
		if json.Unmarshal([]byte(httpErr.Body), &oauthErr) != nil || oauthErr.Error == "" {
			return false, apierrors.Wrap(apierrors.CodeTokenPollingError, "device token error is not parsable", err)
		}

		switch oauthErr.Error {
		case "authorization_pending":
			return false, nil
		case "slow_down":
			loop.SetInterval(loop.Interval() + slowDownIncrement)
			s.log.Debugf("auth: provider asked to slow down, polling every %s", loop.Interval())
			return false, nil
		case "expired_token":
			return false, apierrors.ErrDeviceCodeExpired
		case "access_denied":
			return false, apierrors.Newf(apierrors.CodeDeviceAuthError, "user denied the device authorization")
		default:
			return false, apierrors.Newf(apierrors.CodeTokenPollingError, "unexpected device token error %q", oauthErr.Error)
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apierrors.Wrap(apierrors.CodeTimeout, "device authorization was not approved in time", err)
		}
		return nil, err
	}
	return result, nil
}
