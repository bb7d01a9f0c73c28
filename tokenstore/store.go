package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// Key is the backend key the token pair is stored under.
const Key = "tokens"

// ErrNoTokens is returned by Token when the store holds no pair.
var ErrNoTokens = errors.New("no tokens stored")

// ErrCleared is returned by WriteIf when the store was cleared after the
// caller took its generation.
var ErrCleared = errors.New("token store was cleared")

// TokenPair is the access/refresh token pair of one session.
// It is always replaced as a whole, never field by field.
type TokenPair struct {
	AccessToken  string `json:"x-access-token"`
	RefreshToken string `json:"x-refresh-token"`
}

// Store reads and replaces the session's TokenPair on top of a Backend.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	log     *slog.Logger

	// generation counts Clear calls.
	generation uint64
}

// Ensure Store can be handed to oauth2 consumers directly.
var _ oauth2.TokenSource = (*Store)(nil)

// New creates a Store on top of backend. A nil logger uses slog.Default().
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		log:     logger.With(slog.String("component", "tokenstore")),
	}
}

// Read returns the stored pair. ok is false when the session is
// unauthenticated. A stored blob that cannot be decoded, or that lacks an
// access token, reads as absent.
func (s *Store) Read() (pair TokenPair, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.backend.Get(Key)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, false, nil
	}
	if err != nil {
		return TokenPair{}, false, fmt.Errorf("failed to read tokens: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		s.log.Warn("discarding unreadable token blob", slog.String("error", err.Error()))
		return TokenPair{}, false, nil
	}
	if pair.AccessToken == "" {
		return TokenPair{}, false, nil
	}
	return pair, true, nil
}

// Write atomically replaces the stored pair.
func (s *Store) Write(pair TokenPair) error {
	if pair.AccessToken == "" {
		return errors.New("refusing to store a token pair without an access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(pair)
}

// Generation returns a value that changes every time the store is cleared.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// WriteIf replaces the stored pair only if the store has not been cleared
// since generation was taken. Otherwise it returns ErrCleared and leaves the
// store untouched.
func (s *Store) WriteIf(generation uint64, pair TokenPair) error {
	if pair.AccessToken == "" {
		return errors.New("refusing to store a token pair without an access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		s.log.Debug("dropping token pair written after clear",
			slog.String("access_preview", Preview(pair.AccessToken)))
		return ErrCleared
	}
	return s.write(pair)
}

func (s *Store) write(pair TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	if err := s.backend.Set(Key, string(data)); err != nil {
		return fmt.Errorf("failed to write tokens: %w", err)
	}
	attrs := []any{slog.String("access_preview", Preview(pair.AccessToken))}
	if exp := Expiry(pair.AccessToken); !exp.IsZero() {
		attrs = append(attrs, slog.Time("expires", exp))
	}
	s.log.Debug("token pair replaced", attrs...)
	return nil
}

// Clear removes the stored pair.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if err := s.backend.Remove(Key); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// Token implements oauth2.TokenSource over the stored pair.
func (s *Store) Token() (*oauth2.Token, error) {
	pair, ok, err := s.Read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoTokens
	}
	return &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       Expiry(pair.AccessToken),
	}, nil
}

// Preview shortens a token for logs.
func Preview(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
