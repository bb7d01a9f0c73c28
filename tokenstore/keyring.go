package tokenstore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores each key as a separate secret in the OS keychain
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend returns a KeyringBackend that files secrets under service.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (k *KeyringBackend) Set(key, value string) error {
	return keyring.Set(k.service, key, value)
}

func (k *KeyringBackend) Remove(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
