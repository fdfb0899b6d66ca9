// Package httputil holds the JSON reply helpers shared by the debug
// handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/banshee-data/groundlink/internal/monitoring"
)

// StatusError is an error that knows which HTTP status it should produce.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus tags err with an HTTP status code. A nil err stays nil.
func WithStatus(code int, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Code: code, Err: err}
}

// StatusOf picks the status for err: the code of a wrapped StatusError,
// 404 for anything that is fs.ErrNotExist, otherwise 500.
func StatusOf(err error) int {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Reply encodes v as the JSON body of a status response.
func Reply(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Diagf("[http] encoding %T reply: %v", v, err)
	}
}

// OK replies 200 with v.
func OK(w http.ResponseWriter, v any) { Reply(w, http.StatusOK, v) }

// Fail replies {"error": err} with the status chosen by StatusOf.
func Fail(w http.ResponseWriter, err error) {
	Reply(w, StatusOf(err), map[string]string{"error": err.Error()})
}

// Failf replies {"error": msg} with an explicit status.
func Failf(w http.ResponseWriter, status int, msg string) {
	Reply(w, status, map[string]string{"error": msg})
}
