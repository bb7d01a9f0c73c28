package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/go-authgate/flagctl/tokenstore"
)

var configValidator = validator.New()

// validate checks the resolved configuration and reports every offending
// field by its environment key.
func (c appConfig) validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", configKeys[fe.Field()], fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// configKeys maps appConfig fields to the environment keys users set.
var configKeys = map[string]string{
	"APIURL":       "API_URL",
	"SSOURL":       "SSO_URL",
	"TokenFile":    "TOKEN_FILE",
	"TokenBackend": "TOKEN_BACKEND",
	"UserAgent":    "USER_AGENT",
	"RefreshPath":  "REFRESH_PATH",
	"LogoutPath":   "LOGOUT_PATH",
	"Target":       "TARGET",
	"Concurrency":  "CONCURRENCY",
	"AccessToken":  "ACCESS_TOKEN",
	"RefreshToken": "REFRESH_TOKEN",
	"LogLevel":     "LOG_LEVEL",
	"LogFormat":    "LOG_FORMAT",
	"LogFile":      "LOG_FILE",
}

// environment is the deployment the console is pointed at.
type environment string

const (
	envDev   environment = "dev"
	envStage environment = "stage"
	envProd  environment = "prod"
)

// envPrefix returns the prefix of the per-environment URL keys, e.g. STAGE_API_URL.
func (e environment) envPrefix() string {
	return strings.ToUpper(string(e))
}

// isLocalNetwork reports whether host points at a developer machine or LAN.
func isLocalNetwork(host string) bool {
	return strings.HasPrefix(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "10.0.") ||
		strings.HasPrefix(host, "0.0.0.0") ||
		strings.HasSuffix(host, ".local")
}

// determineEnv maps the console host to an environment. Unknown hosts fall
// back to dev.
func determineEnv(host string) environment {
	host = strings.ToLower(host)
	switch {
	case host == "":
		return envDev
	case isLocalNetwork(host), strings.Contains(host, "dev"), strings.Contains(host, "demo"):
		return envDev
	case strings.Contains(host, "stage"):
		return envStage
	case strings.Contains(host, "live"):
		return envProd
	default:
		return envDev
	}
}

// getEnvURL returns value with priority: flag > KEY > <ENV>_KEY > default
func getEnvURL(flagValue, key string, env environment, defaultValue string) string {
	return getConfig(flagValue, key, getEnv(env.envPrefix()+"_"+key, defaultValue))
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// joinURL appends a relative path to a base URL.
func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// newBackend opens the token backend named by kind.
func newBackend(kind, path string) (tokenstore.Backend, error) {
	switch strings.ToLower(kind) {
	case "", "file":
		return tokenstore.NewFileBackend(path), nil
	case "keyring":
		return tokenstore.NewKeyringBackend(keyringService), nil
	case "memory":
		return tokenstore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q (want file, keyring or memory)", kind)
	}
}

// seedTokens stores a pair from configuration, replacing whatever was there.
// Both values must be given together.
func seedTokens(store *tokenstore.Store, access, refresh string) (bool, error) {
	if access == "" && refresh == "" {
		return false, nil
	}
	if access == "" || refresh == "" {
		return false, errors.New("ACCESS_TOKEN and REFRESH_TOKEN must be set together")
	}
	if err := store.Write(tokenstore.TokenPair{AccessToken: access, RefreshToken: refresh}); err != nil {
		return false, fmt.Errorf("failed to seed tokens: %w", err)
	}
	return true, nil
}

// parseLevel converts a string to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates the process logger. Records go to logFile when set,
// otherwise to fallback.
func setupLogger(level, format, logFile string, fallback io.Writer) (*slog.Logger, func() error, error) {
	writer := fallback
	closer := func() error { return nil }

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		writer = file
		closer = file.Close
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler), closer, nil
}
