package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoSession means a request needed credentials and the store held none.
	ErrNoSession = errors.New("no active session")
	// ErrRefreshFailed wraps the remote rejection that ended the session.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// IsUnauthorized reports whether err is the 401-equivalent authorization
// failure that drives the refresh protocol.
func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized
}
