package authclient

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

var (
	// ErrSessionRevoked matches every *AuthRevokedError.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshFailed marks a revocation caused by a failed token refresh.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshRejected indicates the identity backend refused the refresh token.
	ErrRefreshRejected = errors.New("refresh token expired or invalid")

	// ErrNoRefreshToken indicates there was nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// TransportError is a request that never produced an HTTP response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response handed back verbatim.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	body := truncateUTF8(string(e.Body), maxErrorBody)
	if body == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, body)
}

// AuthRevokedError reports that the session is over and the caller has been
// logged out. StatusCode is set when the backend revoked the session, Err
// when a refresh failed.
type AuthRevokedError struct {
	StatusCode int
	Err        error
}

func (e *AuthRevokedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session revoked: %v", e.Err)
	}
	return fmt.Sprintf("session revoked (status %d)", e.StatusCode)
}

func (e *AuthRevokedError) Unwrap() error { return e.Err }

func (e *AuthRevokedError) Is(target error) bool { return target == ErrSessionRevoked }

const maxErrorBody = 200

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
