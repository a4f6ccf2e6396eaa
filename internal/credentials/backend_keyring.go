package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service name records are filed under.
const DefaultKeyringService = "pipeline-console"

// KeyringBackend stores records in the OS keychain/credential manager.
type KeyringBackend struct {
	service string
}

// NewKeyringBackend creates a keyring backend for the given service name.
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Get(key string) ([]byte, error) {
	v, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credentials from keyring: %w", err)
	}
	return []byte(v), nil
}

func (k *KeyringBackend) Set(key string, value []byte) error {
	if err := keyring.Set(k.service, key, string(value)); err != nil {
		return fmt.Errorf("failed to save credentials to keyring: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}
