package tokenstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStore_ReadEmpty(t *testing.T) {
	store := New(NewMemoryBackend(), nil)

	_, ok, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ok {
		t.Errorf("Expected empty store to read as absent")
	}
}

func TestStore_WriteReadClear(t *testing.T) {
	store := New(NewMemoryBackend(), nil)
	want := TokenPair{AccessToken: "tokA", RefreshToken: "refA"}

	if err := store.Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, ok, err := store.Read()
	if err != nil || !ok {
		t.Fatalf("Read after write: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := store.Read(); ok {
		t.Errorf("Expected store to be empty after Clear")
	}
}

func TestStore_WriteRejectsEmptyAccessToken(t *testing.T) {
	store := New(NewMemoryBackend(), nil)
	if err := store.Write(TokenPair{RefreshToken: "refA"}); err == nil {
		t.Errorf("Expected error for pair without access token")
	}
}

func TestStore_WriteIfDropsPairAfterClear(t *testing.T) {
	store := New(NewMemoryBackend(), nil)
	if err := store.Write(TokenPair{AccessToken: "tokA", RefreshToken: "refA"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	gen := store.Generation()
	if err := store.WriteIf(gen, TokenPair{AccessToken: "tokB", RefreshToken: "refB"}); err != nil {
		t.Fatalf("WriteIf with current generation failed: %v", err)
	}
	if got, _, _ := store.Read(); got.AccessToken != "tokB" {
		t.Errorf("Expected tokB, got %q", got.AccessToken)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	err := store.WriteIf(gen, TokenPair{AccessToken: "tokC", RefreshToken: "refC"})
	if !errors.Is(err, ErrCleared) {
		t.Fatalf("Expected ErrCleared, got %v", err)
	}
	if _, ok, _ := store.Read(); ok {
		t.Errorf("Expected store to stay empty after a stale write")
	}
}

func TestStore_UnreadableBlobReadsAsAbsent(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Set(Key, "{not json")
	store := New(backend, nil)

	_, ok, err := store.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ok {
		t.Errorf("Expected corrupt blob to read as absent")
	}
}

func TestStore_WireFormat(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Set(Key, `{"x-access-token":"a1","x-refresh-token":"r1"}`)
	store := New(backend, nil)

	pair, ok, err := store.Read()
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if pair.AccessToken != "a1" || pair.RefreshToken != "r1" {
		t.Errorf("Unexpected pair %+v", pair)
	}
}

func TestStore_ConcurrentWritesNeverTear(t *testing.T) {
	store := New(NewFileBackend(filepath.Join(t.TempDir(), "tokens.json")), nil)

	const writers = 6
	var wg sync.WaitGroup
	wg.Add(writers * 2)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()
			pair := TokenPair{
				AccessToken:  fmt.Sprintf("access-%d", id),
				RefreshToken: fmt.Sprintf("refresh-%d", id),
			}
			if err := store.Write(pair); err != nil {
				t.Errorf("Writer %d: %v", id, err)
			}
		}(i)
		go func() {
			defer wg.Done()
			pair, ok, err := store.Read()
			if err != nil {
				t.Errorf("Reader: %v", err)
				return
			}
			if !ok {
				return
			}
			var a, r int
			fmt.Sscanf(pair.AccessToken, "access-%d", &a)
			fmt.Sscanf(pair.RefreshToken, "refresh-%d", &r)
			if a != r {
				t.Errorf("Torn pair observed: %+v", pair)
			}
		}()
	}
	wg.Wait()
}

func TestStore_FileBackendSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	want := TokenPair{AccessToken: "tokA", RefreshToken: "refA"}

	if err := New(NewFileBackend(path), nil).Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A fresh Store over the same file plays the part of a reloaded process
	got, ok, err := New(NewFileBackend(path), nil).Read()
	if err != nil || !ok {
		t.Fatalf("Read after restart: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestFileBackend_PreservesOtherKeys(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "store.json"))

	if err := backend.Set("uuid", "device-1"); err != nil {
		t.Fatalf("Set uuid: %v", err)
	}
	if err := backend.Set(Key, "blob"); err != nil {
		t.Fatalf("Set tokens: %v", err)
	}
	if err := backend.Remove(Key); err != nil {
		t.Fatalf("Remove tokens: %v", err)
	}

	if v, err := backend.Get("uuid"); err != nil || v != "device-1" {
		t.Errorf("Expected uuid to survive, got %q (%v)", v, err)
	}
	if _, err := backend.Get(Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for removed key, got %v", err)
	}
}

func TestKeyringBackend_RoundTrip(t *testing.T) {
	keyring.MockInit()
	backend := NewKeyringBackend("flagctl-test")

	if _, err := backend.Get(Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before Set, got %v", err)
	}
	if err := backend.Set(Key, "blob"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, err := backend.Get(Key); err != nil || v != "blob" {
		t.Errorf("Expected blob, got %q (%v)", v, err)
	}
	if err := backend.Remove(Key); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := backend.Remove(Key); err != nil {
		t.Errorf("Removing a missing key should not fail: %v", err)
	}
}

func TestStore_TokenSource(t *testing.T) {
	store := New(NewMemoryBackend(), nil)

	if _, err := store.Token(); !errors.Is(err, ErrNoTokens) {
		t.Errorf("Expected ErrNoTokens, got %v", err)
	}

	store.Write(TokenPair{AccessToken: "tokA", RefreshToken: "refA"})
	tok, err := store.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "tokA" || tok.Type() != "Bearer" {
		t.Errorf("Unexpected token %+v", tok)
	}
	if !tok.Expiry.IsZero() {
		t.Errorf("Opaque token should have no expiry, got %v", tok.Expiry)
	}
}
