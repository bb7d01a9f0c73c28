// Package authclient is the authenticated HTTP layer in front of the identity
// service and the flag-management API.
//
// A Client sends every request through a Pipeline (headers and bearer token),
// then inspects the response: rotated tokens are captured, a revoked session
// logs the user out, and an expired access token is repaired through the
// shared Coordinator before the request is replayed exactly once.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-authgate/flagctl/tokenstore"
)

// Client is the entry point the application calls. It is safe for
// concurrent use; every call owns its own Request.
type Client struct {
	baseURL     *url.URL
	pipeline    *Pipeline
	coordinator *Coordinator
	session     *Session
	refresh     bool
	obs         Observer
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithoutRefresh disables refresh-and-replay on 401. Such a client still
// captures rotated tokens and logs out on a revoked session.
func WithoutRefresh() Option {
	return func(c *Client) { c.refresh = false }
}

// WithObserver reports session events to obs.
func WithObserver(obs Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// NewClient creates a Client for the backend at baseURL. Clients fronting
// different backends should share one Coordinator and one Session.
func NewClient(
	baseURL string,
	pipeline *Pipeline,
	coordinator *Coordinator,
	session *Session,
	opts ...Option,
) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL:     u,
		pipeline:    pipeline,
		coordinator: coordinator,
		session:     session,
		refresh:     true,
		obs:         NoopObserver{},
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "client"), slog.String("backend", u.Host))
	return c, nil
}

// Do performs an authenticated JSON call. in, when non-nil, is encoded as the
// request body; a non-empty success body is decoded into out when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	resp, err := c.Call(ctx, method, path, body)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Call performs an authenticated call with a raw body and returns the raw
// success response.
func (c *Client) Call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, NewRequest(method, target, body))
}

// roundTrip drives one request through send, inspect and at most one replay.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	gen := c.pipeline.tokens.Generation()
	for {
		resp, sent, err := c.pipeline.Send(ctx, req)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			c.captureRotated(gen, resp)
			return resp, nil

		case resp.StatusCode == http.StatusForbidden:
			revoked := &AuthRevokedError{StatusCode: resp.StatusCode}
			c.session.Logout(ctx, revoked)
			return nil, revoked

		case resp.StatusCode == http.StatusUnauthorized && c.refresh && !req.Replayed():
			c.obs.AccessTokenRejected()
			outcome := c.coordinator.Refresh(ctx, sent)
			if outcome.Kind == Failed {
				revoked := &AuthRevokedError{Err: fmt.Errorf("%w: %w", ErrRefreshFailed, outcome.Err)}
				c.session.Logout(ctx, revoked)
				return nil, revoked
			}

			req.replayWith(outcome.Pair.AccessToken)
			c.log.Debug("replaying request",
				slog.String("method", req.Method),
				slog.String("url", req.URL),
				slog.String("outcome", outcome.Kind.String()))
			c.obs.Retrying()

		default:
			return nil, &StatusError{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       resp.Body,
			}
		}
	}
}

// captureRotated stores tokens a backend rotated on a successful call.
// Both headers must be present; half a pair is ignored. A pair that arrives
// after a logout is dropped.
func (c *Client) captureRotated(gen uint64, resp *Response) {
	access := resp.Header.Get(HeaderAccessToken)
	refresh := resp.Header.Get(HeaderRefreshToken)
	if access == "" || refresh == "" {
		return
	}

	pair := tokenstore.TokenPair{AccessToken: access, RefreshToken: refresh}
	if err := c.pipeline.tokens.WriteIf(gen, pair); err != nil {
		if errors.Is(err, tokenstore.ErrCleared) {
			c.log.Info("ignoring tokens rotated after logout")
			return
		}
		c.log.Error("failed to store rotated tokens", slog.String("error", err.Error()))
		return
	}
	c.obs.TokensRotated()
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid request path: %w", err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}
