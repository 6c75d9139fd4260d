package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "cubebuilder"
	// KeyringUser is the user identifier for credentials.
	KeyringUser = "default"
	// KeyringSTACTokenItem is the key for the STAC provider bearer token.
	KeyringSTACTokenItem = "stac-token"
)

// KeyringManager stores STAC provider credentials in the OS keychain, used
// by the `cubectl configure` admin command.
type KeyringManager struct {
	logger *slog.Logger
}

func NewKeyringManager() *KeyringManager {
	return &KeyringManager{logger: slog.Default().With("component", "keyring")}
}

// IsAvailable reports whether a usable OS keychain is present.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "probe")
	return err == nil || err == keyring.ErrNotFound
}

// SaveSTACToken stores the STAC bearer token securely in the OS keychain.
func (km *KeyringManager) SaveSTACToken(token string) error {
	if token == "" {
		return fmt.Errorf("stac token cannot be empty")
	}
	if err := keyring.Set(KeyringService, KeyringSTACTokenItem, token); err != nil {
		km.logger.Error("failed to save STAC token to keychain", "error", err)
		return fmt.Errorf("save to OS keychain: %w", err)
	}
	km.logger.Info("stac token saved to keychain", "service", KeyringService)
	return nil
}

// GetSTACToken retrieves the STAC bearer token from the OS keychain.
func (km *KeyringManager) GetSTACToken() (string, error) {
	token, err := keyring.Get(KeyringService, KeyringSTACTokenItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read from OS keychain: %w", err)
	}
	return token, nil
}

// DeleteSTACToken removes the stored STAC bearer token.
func (km *KeyringManager) DeleteSTACToken() error {
	err := keyring.Delete(KeyringService, KeyringSTACTokenItem)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("delete from OS keychain: %w", err)
	}
	return nil
}
