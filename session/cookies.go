package session

import (
	"net/http"

	"github.com/authrelay/oidc/config"
)

// CSRFCookieName is the cookie the CSRF token is issued in.
const CSRFCookieName = "csrf_token"

// csrfCookieMaxAge is fixed at one hour.
const csrfCookieMaxAge = 3600

func sameSiteOf(s config.SameSite) http.SameSite {
	switch s {
	case config.SameSiteLax:
		return http.SameSiteLaxMode
	case config.SameSiteNone:
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// buildCookie renders a cookie with the configured attributes. maxAge <= 0
// emits a session cookie; use expireCookie to delete.
func buildCookie(name, value string, maxAge int, opts config.CookieOptions) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Secure:   opts.Secure == nil || *opts.Secure,
		HttpOnly: opts.HTTPOnly == nil || *opts.HTTPOnly,
		SameSite: sameSiteOf(opts.SameSite),
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if maxAge > 0 {
		c.MaxAge = maxAge
	}
	return c
}

// expireCookie renders a deletion cookie for name.
func expireCookie(name string, opts config.CookieOptions) *http.Cookie {
	c := buildCookie(name, "", 0, opts)
	c.MaxAge = -1
	return c
}
