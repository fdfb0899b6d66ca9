// Package testutil provides helpers for exercising the /debug/ handlers in
// tests.
//
// tsweb only serves debug routes to loopback and tailnet callers, so every
// request built here carries a loopback RemoteAddr.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// LoopbackAddr is the RemoteAddr given to test requests.
const LoopbackAddr = "127.0.0.1:12345"

// NewLoopbackRequest builds a request that tsweb treats as local.
func NewLoopbackRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// Get serves a loopback GET of target on h.
func Get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewLoopbackRequest(http.MethodGet, target, nil))
	return rec
}

// PostForm serves a loopback form POST of target on h.
func PostForm(h http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	req := NewLoopbackRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}
