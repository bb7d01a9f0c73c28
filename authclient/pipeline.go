package authclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-authgate/flagctl/device"
	"github.com/go-authgate/flagctl/tokenstore"
)

// Doer is the network boundary. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pipeline decorates requests with the standard headers and the bearer token,
// then dispatches them. It never retries and never inspects status codes.
type Pipeline struct {
	doer   Doer
	tokens *tokenstore.Store
	device *device.Provider
	log    *slog.Logger
}

// NewPipeline creates a Pipeline. A nil logger uses slog.Default().
func NewPipeline(
	doer Doer,
	tokens *tokenstore.Store,
	dev *device.Provider,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		doer:   doer,
		tokens: tokens,
		device: dev,
		log:    logger.With(slog.String("component", "pipeline")),
	}
}

// Send dispatches r and reads the whole response. It also returns the access
// token that was attached, or "" when the request went out unauthenticated.
// Transport failures come back as *TransportError.
func (p *Pipeline) Send(ctx context.Context, r *Request) (*Response, string, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.Header {
		req.Header[k] = append([]string(nil), v...)
	}
	setStandardHeaders(req.Header, p.device, p.log)

	token := r.bearer
	if token == "" {
		pair, ok, err := p.tokens.Read()
		if err != nil {
			return nil, "", err
		}
		if ok {
			token = pair.AccessToken
		}
	}
	req.Header.Del("Authorization")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	p.log.Debug("sending request",
		slog.String("method", r.Method),
		slog.String("url", r.URL),
		slog.String("attempt", r.attempt.String()),
		slog.Bool("authenticated", token != ""))

	resp, err := p.doer.Do(req)
	if err != nil {
		return nil, token, &TransportError{Method: r.Method, URL: r.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, token, &TransportError{Method: r.Method, URL: r.URL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, token, nil
}

// setStandardHeaders sets the JSON and device headers every backend expects.
// A device id that cannot be provisioned is logged and left out; it is used
// for tracing only.
func setStandardHeaders(h http.Header, dev *device.Provider, log *slog.Logger) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if dev == nil {
		return
	}

	h.Set(HeaderClientType, dev.Class().Header())
	id, err := dev.DeviceID()
	if err != nil {
		log.Warn("sending request without device id", slog.String("error", err.Error()))
		return
	}
	h.Set(HeaderDeviceID, id)
}
