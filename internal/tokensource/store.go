package tokensource

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyring coordinates for the stored API key.
const (
	keyringService = "toolgate"
	keyringUser    = "anthropic-api-key"
)

// EnvVar is the environment variable the env store reads.
const EnvVar = "ANTHROPIC_API_KEY"

// ErrNoKey is returned when no API key is configured in a store.
var ErrNoKey = errors.New("no API key configured")

// KeyStore reads and writes the provider API key. Read-only stores return an
// error from Write.
type KeyStore interface {
	Read() (string, error)
	Write(key string) error
}

// KeyringStore persists the key in the OS credential store.
type KeyringStore struct{}

// NewKeyringStore creates a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

// Read returns the stored key, or ErrNoKey when none is set.
func (s *KeyringStore) Read() (string, error) {
	key, err := keyring.Get(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("read key from keyring: %w", err)
	}
	return key, nil
}

// Write stores the key; an empty key clears the entry.
func (s *KeyringStore) Write(key string) error {
	if key == "" {
		err := keyring.Delete(keyringService, keyringUser)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("clear key from keyring: %w", err)
		}
		return nil
	}
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("write key to keyring: %w", err)
	}
	return nil
}

// EnvStore reads the key from the environment through an injected getenv
// function. Write always fails: env storage is read-only.
type EnvStore struct {
	getenv func(string) string
}

// NewEnvStore creates an EnvStore over getenv.
func NewEnvStore(getenv func(string) string) *EnvStore {
	return &EnvStore{getenv: getenv}
}

// Read returns the key from the environment, or ErrNoKey when unset.
func (s *EnvStore) Read() (string, error) {
	if key := s.getenv(EnvVar); key != "" {
		return key, nil
	}
	return "", ErrNoKey
}

// Write fails: the environment cannot be written through this store.
func (s *EnvStore) Write(string) error {
	return fmt.Errorf("env key storage is read-only")
}

// Fallback chains stores: Read returns the first configured key, Write goes
// to the first store. Used to prefer the keyring with an env fallback.
type Fallback []KeyStore

// Read returns the first configured key across the chain.
func (f Fallback) Read() (string, error) {
	for _, store := range f {
		key, err := store.Read()
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoKey) {
			return "", err
		}
	}
	return "", ErrNoKey
}

// Write delegates to the first store in the chain.
func (f Fallback) Write(key string) error {
	if len(f) == 0 {
		return fmt.Errorf("no key store configured")
	}
	return f[0].Write(key)
}
