// Package tokenstore persists the access/refresh token pair that authenticates
// every outbound call.
//
// A Store sits on top of a Backend, the durable key/value blob storage the
// session survives in. Backends are interchangeable: a JSON file shared between
// processes, the OS keychain, or plain memory for tests.
package tokenstore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by a Backend when the key holds no value.
var ErrNotFound = errors.New("key not found")

// Backend is a synchronous key/value blob store.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) (string, error)
	// Set replaces the value stored under key.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// MemoryBackend keeps values in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
