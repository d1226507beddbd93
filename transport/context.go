package transport

import (
	"encoding/json"
	"net/http"
)

// Request is the request-side collaborator the session subsystem consumes.
// The embedding framework supplies an implementation; HTTPRequest adapts
// net/http.
type Request interface {
	// Cookie returns the named cookie's value, or "" when absent.
	Cookie(name string) string
	// Header returns the named request header, or "".
	Header(name string) string
}

// Response is the response-side collaborator: cookie emission and JSON
// bodies.
type Response interface {
	SetCookie(c *http.Cookie)
	WriteJSON(status int, body any) error
}

// Context bundles the two collaborators for one request/response cycle.
type Context struct {
	Request  Request
	Response Response
}

// HTTPRequest adapts a *http.Request to the Request interface.
type HTTPRequest struct {
	R *http.Request
}

func (h *HTTPRequest) Cookie(name string) string {
	c, err := h.R.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *HTTPRequest) Header(name string) string {
	return h.R.Header.Get(name)
}

// HTTPResponse adapts a http.ResponseWriter to the Response interface.
type HTTPResponse struct {
	W http.ResponseWriter
}

func (h *HTTPResponse) SetCookie(c *http.Cookie) {
	http.SetCookie(h.W, c)
}

func (h *HTTPResponse) WriteJSON(status int, body any) error {
	h.W.Header().Set("Content-Type", "application/json")
	h.W.WriteHeader(status)
	return json.NewEncoder(h.W).Encode(body)
}

// NewHTTPContext wraps a net/http pair as a Context.
func NewHTTPContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{Request: &HTTPRequest{R: r}, Response: &HTTPResponse{W: w}}
}
