package authclient

import "net/http"

// Header names shared with the identity and flag backends.
const (
	HeaderAccessToken  = "x-access-token"
	HeaderRefreshToken = "x-refresh-token"
	HeaderDeviceID     = "x-device-id"
	HeaderClientType   = "x-client-type"
)

// attempt tracks where a request is in its lifecycle. A request moves from
// attemptInitial to attemptReplay at most once, which is what bounds retries.
type attempt int

const (
	attemptInitial attempt = iota
	attemptReplay
)

func (a attempt) String() string {
	if a == attemptReplay {
		return "replay"
	}
	return "initial"
}

// Request is one outbound call. It belongs to the goroutine that created it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	attempt attempt
	// bearer pins the access token for a replay
	bearer string
}

// NewRequest builds a Request in its initial attempt state.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Body:   body,
	}
}

// Replayed reports whether the request has already been resent once.
func (r *Request) Replayed() bool {
	return r.attempt == attemptReplay
}

// replayWith moves the request into its replay attempt using accessToken.
// Callers check Replayed first; a request is replayed at most once.
func (r *Request) replayWith(accessToken string) {
	r.attempt = attemptReplay
	r.bearer = accessToken
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
