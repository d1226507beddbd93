package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostForm(t *testing.T) {
	require := require.New(t)

	var gotContentType string
	var gotBody url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(r.ParseForm())
		gotBody = r.PostForm
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "abc xyz")

	body, err := PostForm(context.Background(), srv.Client(), srv.URL, form)
	require.NoError(err)
	require.JSONEq(`{"ok":true}`, string(body))
	require.Equal("application/x-www-form-urlencoded", gotContentType)
	require.Equal("authorization_code", gotBody.Get("grant_type"))
	require.Equal("abc xyz", gotBody.Get("code"), "values must survive URL encoding")
}

func TestPostFormNon2xx(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer srv.Close()

	_, err := PostForm(context.Background(), srv.Client(), srv.URL, url.Values{})
	require.Error(err)

	var httpErr *HTTPError
	require.True(errors.As(err, &httpErr))
	require.Equal(http.StatusBadRequest, httpErr.Status)
	require.JSONEq(`{"error":"invalid_request"}`, httpErr.Body)
}

func TestGetJSON(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": "user-1"})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(GetJSON(context.Background(), srv.Client(), srv.URL, "tok", &out))
	require.Equal("user-1", out["sub"])
}

func TestGetJSONTransportFailure(t *testing.T) {
	require := require.New(t)

	var out map[string]string
	err := GetJSON(context.Background(), http.DefaultClient, "http://127.0.0.1:1/nothing", "", &out)

	var httpErr *HTTPError
	require.True(errors.As(err, &httpErr))
	require.Zero(httpErr.Status)
	require.Error(httpErr.Unwrap())
}

func TestHTTPContextAdapters(t *testing.T) {
	require := require.New(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})
	req.Header.Set("X-Csrf-Token", "tok")
	rec := httptest.NewRecorder()

	ctx := NewHTTPContext(rec, req)
	require.Equal("abc", ctx.Request.Cookie("sid"))
	require.Equal("", ctx.Request.Cookie("missing"))
	require.Equal("tok", ctx.Request.Header("X-Csrf-Token"))

	ctx.Response.SetCookie(&http.Cookie{Name: "out", Value: "v"})
	require.NoError(ctx.Response.WriteJSON(http.StatusCreated, map[string]int{"n": 1}))

	res := rec.Result()
	require.Equal(http.StatusCreated, res.StatusCode)
	require.Equal("application/json", res.Header.Get("Content-Type"))
	require.Len(res.Cookies(), 1)
	require.Equal("out", res.Cookies()[0].Name)
}
