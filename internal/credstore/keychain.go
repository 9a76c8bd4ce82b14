package credstore

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keychainService   = "casadeck"
	keychainOpTimeout = 5 * time.Second
)

// errSecretNotFound is returned when the keychain holds no entry.
var errSecretNotFound = errors.New("secret not found")

// keyringProvider abstracts go-keyring for tests.
type keyringProvider interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Delete(service, user string) error        { return keyring.Delete(service, user) }

// keychain mirrors secrets into the OS keychain. A call that hangs past the
// timeout disables the keychain for the rest of the process and the store
// serves from its encrypted table alone.
type keychain struct {
	account  string
	provider keyringProvider
	timeout  time.Duration
	disabled atomic.Bool
}

func newKeychain(account string, p keyringProvider) *keychain {
	return &keychain{account: account, provider: p, timeout: keychainOpTimeout}
}

func (k *keychain) user(key string) string {
	return k.account + "/" + key
}

func (k *keychain) set(key, value string) error {
	if err := k.withTimeout("set", func() error {
		return k.provider.Set(keychainService, k.user(key), value)
	}); err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

func (k *keychain) get(key string) (string, error) {
	var val string
	err := k.withTimeout("get", func() error {
		var getErr error
		val, getErr = k.provider.Get(keychainService, k.user(key))
		return getErr
	})
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("keychain get %q: %w", key, errSecretNotFound)
		}
		return "", fmt.Errorf("keychain get %q: %w", key, err)
	}
	return val, nil
}

func (k *keychain) delete(key string) error {
	err := k.withTimeout("delete", func() error {
		return k.provider.Delete(keychainService, k.user(key))
	})
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}

// withTimeout runs fn in a goroutine since go-keyring has no context support.
// A timed out goroutine leaks until the provider returns.
func (k *keychain) withTimeout(op string, fn func() error) error {
	if k.disabled.Load() {
		return fmt.Errorf("%s: keychain disabled", op)
	}
	ch := make(chan error, 1)
	go func() { ch <- fn() }()

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		k.disabled.Store(true)
		return fmt.Errorf("%s: timed out after %v", op, k.timeout)
	}
}
