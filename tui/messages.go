package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct {
	Target  string
	BaseURL string
}

// MsgCalling signals that the calls were dispatched.
type MsgCalling struct {
	Method string
	Path   string
	Count  int
}

// MsgCallOK signals that one call returned a success status.
type MsgCallOK struct {
	ID      string
	Status  int
	Elapsed time.Duration
}

// MsgCallFailed signals that one call failed.
type MsgCallFailed struct {
	ID  string
	Err error
}

// MsgAccessTokenRejected signals that the access token was rejected (401).
type MsgAccessTokenRejected struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshed signals that the token pair was rotated by a refresh.
type MsgRefreshed struct{}

// MsgRefreshReused signals that a refresh found a newer pair already stored.
type MsgRefreshReused struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRetrying signals that a rejected call is being replayed.
type MsgRetrying struct{}

// MsgTokensRotated signals that a response carried a new token pair.
type MsgTokensRotated struct{}

// MsgLoggedOut signals that the session was ended.
type MsgLoggedOut struct{ Reason error }

// MsgNavigated signals that the application was sent to another route.
type MsgNavigated struct{ Route string }

// MsgDone signals that every call has finished.
type MsgDone struct {
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }
