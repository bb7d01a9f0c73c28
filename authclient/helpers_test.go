package authclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/go-authgate/flagctl/device"
	"github.com/go-authgate/flagctl/tokenstore"
)

// fakeBackend plays both the identity service (/sso) and the flag API (/api).
type fakeBackend struct {
	mu          sync.Mutex
	validAccess string
	nextAccess  string
	nextRefresh string
	seenAuth    []string
	seenReqs    []*http.Request

	refreshStatus int
	refreshDelay  time.Duration
	apiHandler    http.HandlerFunc

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	apiCalls     atomic.Int32
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sso/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		f.mu.Lock()
		f.validAccess = f.nextAccess
		f.mu.Unlock()
		w.Header().Set(HeaderAccessToken, f.nextAccess)
		w.Header().Set(HeaderRefreshToken, f.nextRefresh)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/sso/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		f.mu.Lock()
		f.seenAuth = append(f.seenAuth, r.Header.Get("Authorization"))
		f.seenReqs = append(f.seenReqs, r)
		valid := f.validAccess
		custom := f.apiHandler
		f.mu.Unlock()

		if custom != nil {
			custom(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "key": "flag-1"})
	})

	return mux
}

func (f *fakeBackend) auths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seenAuth...)
}

// routeRecorder is a Navigator that remembers where it was sent.
type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ReplaceRoute(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, name)
}

func (r *routeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

type harness struct {
	fake    *fakeBackend
	server  *httptest.Server
	tokens  *tokenstore.Store
	nav     *routeRecorder
	session *Session
	api     *Client
	resets  atomic.Int32
}

func newHarness(t *testing.T, fake *fakeBackend, opts ...Option) *harness {
	t.Helper()

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	backend := tokenstore.NewMemoryBackend()
	tokens := tokenstore.New(backend, nil)
	dev := device.NewProvider(backend, "flagctl-test")

	logoutClient, err := retry.NewClient()
	if err != nil {
		t.Fatalf("failed to create retry client: %v", err)
	}

	h := &harness{
		fake:   fake,
		server: server,
		tokens: tokens,
		nav:    &routeRecorder{},
	}
	h.session = NewSession(tokens, h.nav,
		WithServerLogout(logoutClient, server.URL+"/sso/api/v1/auth/logout", dev))
	h.session.OnReset(func() { h.resets.Add(1) })

	pipeline := NewPipeline(server.Client(), tokens, dev, nil)
	refresher := NewIdentityRefresher(server.Client(), server.URL+"/sso/api/v1/auth/refresh", dev, nil)
	coordinator := NewCoordinator(tokens, refresher, nil, nil)

	h.api, err = NewClient(server.URL+"/api/v1", pipeline, coordinator, h.session, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return h
}

func (h *harness) seed(t *testing.T, access, refresh string) {
	t.Helper()
	if err := h.tokens.Write(tokenstore.TokenPair{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("failed to seed tokens: %v", err)
	}
}

func (h *harness) stored(t *testing.T) (tokenstore.TokenPair, bool) {
	t.Helper()
	pair, ok, err := h.tokens.Read()
	if err != nil {
		t.Fatalf("failed to read tokens: %v", err)
	}
	return pair, ok
}
