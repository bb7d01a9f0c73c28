package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/flagctl/authclient"
	"github.com/go-authgate/flagctl/device"
	"github.com/go-authgate/flagctl/tokenstore"
	"github.com/go-authgate/flagctl/tui"
)

var (
	cfg               appConfig
	flagAPIURL        *string
	flagSSOURL        *string
	flagTokenFile     *string
	flagTokenBackend  *string
	flagTarget        *string
	flagConcurrency   *string
	flagUserAgent     *string
	configInitialized bool
)

const (
	// requestTimeout bounds a single HTTP exchange with either backend.
	requestTimeout   = 5 * time.Minute
	keyringService   = "flagctl"
	defaultUserAgent = "flagctl"
	userDetailsPath  = "api/v1/user/details"

	targetAPI = "api"
	targetSSO = "sso"
)

// appConfig is the resolved configuration of one run.
type appConfig struct {
	APIURL       string `validate:"required,url"`
	SSOURL       string `validate:"required,url"`
	TokenFile    string `validate:"required_if=TokenBackend file"`
	TokenBackend string `validate:"oneof=file keyring memory"`
	UserAgent    string
	RefreshPath  string `validate:"required"`
	LogoutPath   string `validate:"required"`
	Target       string `validate:"oneof=api sso"`
	Concurrency  int    `validate:"gte=1,lte=1000"`
	AccessToken  string `validate:"required_with=RefreshToken"`
	RefreshToken string `validate:"required_with=AccessToken"`
	LogLevel     string `validate:"oneof=debug info warn error"`
	LogFormat    string `validate:"oneof=text json"`
	LogFile      string
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagAPIURL = flag.String("api-url", "", "Flag API base URL (or API_URL / <ENV>_API_URL env)")
	flagSSOURL = flag.String("sso-url", "", "Identity service base URL (or SSO_URL / <ENV>_SSO_URL env)")
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: .flagctl-tokens.json or TOKEN_FILE env)",
	)
	flagTokenBackend = flag.String("token-backend", "", "Token backend: file, keyring or memory")
	flagTarget = flag.String("target", "", "Backend to call: api or sso (default: api)")
	flagConcurrency = flag.String("concurrency", "", "Number of identical calls sent in parallel")
	flagUserAgent = flag.String("user-agent", "", "User agent used to classify the device")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [METHOD PATH [JSON_BODY]]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Without arguments, fetches %s from the identity service.\n\n", userDetailsPath)
		flag.PrintDefaults()
	}
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	env := determineEnv(getEnv("APP_HOST", ""))

	// Priority: flag > env > per-environment env > default
	cfg = appConfig{
		APIURL:       getEnvURL(*flagAPIURL, "API_URL", env, "http://localhost:18000/api/v1"),
		SSOURL:       getEnvURL(*flagSSOURL, "SSO_URL", env, "http://localhost:8080"),
		TokenFile:    getConfig(*flagTokenFile, "TOKEN_FILE", ".flagctl-tokens.json"),
		TokenBackend: strings.ToLower(getConfig(*flagTokenBackend, "TOKEN_BACKEND", "file")),
		UserAgent:    getConfig(*flagUserAgent, "USER_AGENT", defaultUserAgent),
		RefreshPath:  getEnv("REFRESH_PATH", "api/v1/auth/refresh"),
		LogoutPath:   getEnv("LOGOUT_PATH", "api/v1/auth/logout"),
		Target:       strings.ToLower(getConfig(*flagTarget, "TARGET", targetAPI)),
		AccessToken:  getEnv("ACCESS_TOKEN", ""),
		RefreshToken: getEnv("REFRESH_TOKEN", ""),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:      getEnv("LOG_FILE", ""),
	}

	for name, u := range map[string]string{"API_URL": cfg.APIURL, "SSO_URL": cfg.SSOURL} {
		if err := validateServerURL(u); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.APIURL), "http://") ||
		strings.HasPrefix(strings.ToLower(cfg.SSOURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}

	n, err := strconv.Atoi(getConfig(*flagConcurrency, "CONCURRENCY", "1"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: CONCURRENCY must be an integer")
		os.Exit(1)
	}
	cfg.Concurrency = n

	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// callSpec is the call a run issues, parsed from the positional arguments.
type callSpec struct {
	Method string
	Path   string
	Body   []byte
}

// parseCall reads METHOD PATH [JSON_BODY]. With no arguments it asks the
// identity service who the session belongs to.
func parseCall(args []string, target string) (callSpec, string, error) {
	switch len(args) {
	case 0:
		return callSpec{Method: http.MethodGet, Path: userDetailsPath}, targetSSO, nil
	case 2, 3:
		c := callSpec{Method: strings.ToUpper(args[0]), Path: args[1]}
		if len(args) == 3 {
			c.Body = []byte(args[2])
		}
		return c, target, nil
	default:
		return callSpec{}, "", errors.New("expected METHOD PATH [JSON_BODY]")
	}
}

// app is the wired client stack for one run.
type app struct {
	store     *tokenstore.Store
	device    *device.Provider
	session   *authclient.Session
	api       *authclient.Client
	sso       *authclient.Client
	loggedOut atomic.Bool
}

// newHTTPClient builds the client shared by every backend call.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}
}

// newApp wires token storage, device identity, refresh coordination and the
// two backend clients. Both clients share one coordinator and one session.
func newApp(
	c appConfig,
	backend tokenstore.Backend,
	httpClient *http.Client,
	d tui.Displayer,
	logger *slog.Logger,
) (*app, error) {
	a := &app{
		store:  tokenstore.New(backend, logger),
		device: device.NewProvider(backend, c.UserAgent),
	}

	// Logout notification is best effort; retry transient failures in the background.
	notifier, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	nav := authclient.NavigatorFunc(d.Navigated)
	a.session = authclient.NewSession(a.store, nav,
		authclient.WithServerLogout(notifier, joinURL(c.SSOURL, c.LogoutPath), a.device),
		authclient.WithSessionObserver(d),
		authclient.WithSessionLogger(logger),
	)
	a.session.OnReset(func() { a.loggedOut.Store(true) })

	pipeline := authclient.NewPipeline(httpClient, a.store, a.device, logger)
	refresher := authclient.NewIdentityRefresher(
		httpClient,
		joinURL(c.SSOURL, c.RefreshPath),
		a.device,
		logger,
	)
	coordinator := authclient.NewCoordinator(a.store, refresher, d, logger)

	a.api, err = authclient.NewClient(c.APIURL, pipeline, coordinator, a.session,
		authclient.WithObserver(d),
		authclient.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	// The identity service rotates tokens and ends sessions but is never
	// itself a reason to refresh.
	a.sso, err = authclient.NewClient(c.SSOURL, pipeline, coordinator, a.session,
		authclient.WithoutRefresh(),
		authclient.WithObserver(d),
		authclient.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// client returns the backend client for target.
func (a *app) client(target string) *authclient.Client {
	if target == targetSSO {
		return a.sso
	}
	return a.api
}

// runResult summarises a batch of calls.
type runResult struct {
	Succeeded int
	Failed    int
	Revoked   bool
}

// callConcurrently issues call n times in parallel. Successful bodies are
// written to out, one per line.
func callConcurrently(
	ctx context.Context,
	client *authclient.Client,
	call callSpec,
	n int,
	out io.Writer,
	d tui.Displayer,
) runResult {
	var (
		mu  sync.Mutex
		res runResult
		wg  sync.WaitGroup
	)

	d.Calling(call.Method, call.Path, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := uuid.NewString()[:8]
			start := time.Now()
			resp, err := client.Call(ctx, call.Method, call.Path, call.Body)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				if errors.Is(err, authclient.ErrSessionRevoked) {
					res.Revoked = true
				}
				d.CallFailed(id, err)
				return
			}
			res.Succeeded++
			d.CallOK(id, resp.StatusCode, time.Since(start))
			if len(resp.Body) > 0 {
				fmt.Fprintln(out, strings.TrimRight(string(resp.Body), "\n"))
			}
		}()
	}
	wg.Wait()
	return res
}

// isTTY reports whether stderr is a character device (interactive terminal).
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, authclient.ErrSessionRevoked):
		return 2
	default:
		return 1
	}
}

func main() {
	initConfig()

	tty := isTTY()

	// The TUI owns stderr; without LOG_FILE its logs are dropped.
	var logFallback io.Writer = os.Stderr
	if tty {
		logFallback = io.Discard
	}
	logger, closeLog, err := setupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, logFallback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	var runErr error
	if tty {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		runErr = run(tui.NewProgramDisplayer(p), logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
	} else {
		runErr = run(tui.NewPlainDisplayer(os.Stderr), logger)
	}

	_ = closeLog()
	os.Exit(exitCode(runErr))
}

func run(d tui.Displayer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	call, target, err := parseCall(flag.Args(), cfg.Target)
	if err != nil {
		d.Fatal(err)
		return err
	}

	backend, err := newBackend(cfg.TokenBackend, cfg.TokenFile)
	if err != nil {
		d.Fatal(err)
		return err
	}

	a, err := newApp(cfg, backend, newHTTPClient(), d, logger)
	if err != nil {
		d.Fatal(err)
		return err
	}

	if seeded, err := seedTokens(a.store, cfg.AccessToken, cfg.RefreshToken); err != nil {
		d.Fatal(err)
		return err
	} else if seeded {
		attrs := []any{}
		if exp := tokenstore.Expiry(cfg.AccessToken); !exp.IsZero() {
			attrs = append(attrs, slog.Time("expires", exp))
		}
		logger.Info("seeded tokens from environment", attrs...)
	}

	baseURL := cfg.APIURL
	if target == targetSSO {
		baseURL = cfg.SSOURL
	}
	d.Banner(target, baseURL)

	start := time.Now()
	res := callConcurrently(ctx, a.client(target), call, cfg.Concurrency, os.Stdout, d)
	d.Done(res.Succeeded, res.Failed, time.Since(start))

	switch {
	case res.Revoked || a.loggedOut.Load():
		return authclient.ErrSessionRevoked
	case res.Failed > 0:
		return fmt.Errorf("%d of %d calls failed", res.Failed, cfg.Concurrency)
	}
	return nil
}
