package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "codexbridge"
	keyringUser    = "agent-api-key"
)

// StoreAPIKey saves the agent API key in the OS keyring.
func StoreAPIKey(key string) error {
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// LookupAPIKey returns the stored agent API key, or "" when none is set.
func LookupAPIKey() (string, error) {
	key, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read api key: %w", err)
	}
	return key, nil
}

// DeleteAPIKey removes the stored agent API key. Deleting a missing key is
// not an error.
func DeleteAPIKey() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}
