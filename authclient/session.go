package authclient

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/go-authgate/flagctl/device"
	"github.com/go-authgate/flagctl/tokenstore"
)

// LoginRoute is the route logout navigates to.
const LoginRoute = "Login"

const logoutNotifyTimeout = 5 * time.Second

// Navigator moves the application to another route.
type Navigator interface {
	ReplaceRoute(name string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(name string)

func (f NavigatorFunc) ReplaceRoute(name string) { f(name) }

// Session owns the end of a session: telling the identity backend, dropping
// the tokens, resetting local state and sending the user to login.
type Session struct {
	mu         sync.Mutex
	tokens     *tokenstore.Store
	nav        Navigator
	resetHooks []func()

	notifier  *retry.Client
	logoutURL string
	device    *device.Provider

	obs Observer
	log *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithServerLogout makes Logout notify the identity backend at logoutURL
// before the tokens are dropped. Delivery is best effort.
func WithServerLogout(client *retry.Client, logoutURL string, dev *device.Provider) SessionOption {
	return func(s *Session) {
		s.notifier = client
		s.logoutURL = logoutURL
		s.device = dev
	}
}

// WithSessionObserver reports LoggedOut events to obs.
func WithSessionObserver(obs Observer) SessionOption {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = logger.With(slog.String("component", "session"))
		}
	}
}

// NewSession creates a Session. nav may be nil when nothing needs to move.
func NewSession(tokens *tokenstore.Store, nav Navigator, opts ...SessionOption) *Session {
	s := &Session{
		tokens: tokens,
		nav:    nav,
		obs:    NoopObserver{},
		log:    slog.Default().With(slog.String("component", "session")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnReset registers fn to run on every logout, after the tokens are cleared.
func (s *Session) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetHooks = append(s.resetHooks, fn)
}

// Logout ends the session. Every call clears the store and navigates, however
// many requests trigger it at once. The server is told after the store is
// cleared, outside the lock, so concurrent logouts do not queue behind it.
func (s *Session) Logout(ctx context.Context, reason error) {
	attrs := []any{}
	if reason != nil {
		attrs = append(attrs, slog.String("reason", reason.Error()))
	}
	s.log.Warn("logging out", attrs...)

	accessToken := s.reset()
	if accessToken != "" {
		s.notifyServer(ctx, accessToken)
	}

	if s.nav != nil {
		s.nav.ReplaceRoute(LoginRoute)
	}
	s.obs.LoggedOut(reason)
}

// reset drops the stored pair and runs the reset hooks. It returns the access
// token that was stored, or "" if the session was already empty.
func (s *Session) reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accessToken string
	if pair, ok, err := s.tokens.Read(); err == nil && ok {
		accessToken = pair.AccessToken
	}

	if err := s.tokens.Clear(); err != nil {
		s.log.Error("failed to clear tokens", slog.String("error", err.Error()))
	}

	for _, fn := range s.resetHooks {
		fn()
	}
	return accessToken
}

func (s *Session) notifyServer(ctx context.Context, accessToken string) {
	if s.notifier == nil || s.logoutURL == "" {
		return
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutNotifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.logoutURL, nil)
	if err != nil {
		s.log.Warn("failed to create logout request", slog.String("error", err.Error()))
		return
	}
	setStandardHeaders(req.Header, s.device, s.log)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.notifier.DoWithContext(reqCtx, req)
	if err != nil {
		s.log.Warn("logout notification failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.log.Warn("logout notification rejected", slog.Int("status", resp.StatusCode))
	}
}
