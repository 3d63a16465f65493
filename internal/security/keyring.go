// Package security stores secret step payloads in the OS keyring.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name used for keyring entries.
	KeyringService = "sshsmoke"

	keySecretFmt = "step:%s"
	probeKey     = "__sshsmoke_probe__"
)

// ErrKeyringUnavailable is returned when no system keyring can be reached.
var ErrKeyringUnavailable = errors.New("keyring not available")

// KeyringStore provides OS keyring integration for secret step payloads.
// It uses the system keyring (macOS Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
	mu      sync.RWMutex
}

// NewKeyringStore creates a new keyring store.
// If the system keyring is not available, the store will be disabled.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	if err := keyring.Set(KeyringService, probeKey, "probe"); err != nil {
		slog.Debug("keyring not available",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probeKey)

	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// StoreSecret stores a step payload under name.
func (ks *KeyringStore) StoreSecret(name string, payload []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	if err := keyring.Set(KeyringService, fmt.Sprintf(keySecretFmt, name), encoded); err != nil {
		return fmt.Errorf("store secret %q: %w", name, err)
	}

	slog.Debug("stored secret in keyring", slog.String("name", name))
	return nil
}

// GetSecret retrieves the payload stored under name. A missing entry is an
// error: a scenario that names a keyring entry cannot run without it.
func (ks *KeyringStore) GetSecret(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if !ks.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}

	encoded, err := keyring.Get(KeyringService, fmt.Sprintf(keySecretFmt, name))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("secret %q not found in keyring (run: sshsmoke secret set %s)", name, name)
		}
		return nil, fmt.Errorf("get secret %q: %w", name, err)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode secret %q: %w", name, err)
	}
	return payload, nil
}

// DeleteSecret removes the entry stored under name. Deleting a missing
// entry succeeds.
func (ks *KeyringStore) DeleteSecret(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}

	if err := keyring.Delete(KeyringService, fmt.Sprintf(keySecretFmt, name)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete secret %q: %w", name, err)
	}
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("secret name is required")
	}
	return nil
}
