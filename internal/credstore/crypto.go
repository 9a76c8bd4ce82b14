package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

const (
	keySize     = 32 // AES-256
	keyFileName = ".casadeck.key"
	// encPrefix marks encrypted values in the table.
	encPrefix = "enc:v1:"
)

// keyPath places the key file next to the database.
func keyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), keyFileName)
}

// loadKey reads the key at path. It returns nil, nil when the file does not
// exist yet.
func loadKey(path string, log zerolog.Logger) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read encryption key: %w", err)
	}
	defer func() { _ = f.Close() }()

	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				log.Warn().Str("path", path).Str("mode", fmt.Sprintf("%#o", perm)).Msg("encryption key is readable by others")
			}
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read encryption key: %w", err)
	}
	if len(data) != keySize {
		return nil, fmt.Errorf("encryption key at %s has invalid size %d (expected %d)", path, len(data), keySize)
	}
	return data, nil
}

// createKey writes a fresh key to path. The key is fully written to a temp
// file and then hard-linked into place, so path never holds a partial key and
// concurrent creators converge on whichever link won.
func createKey(path string, log zerolog.Logger) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), keyFileName+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create encryption key temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmpFile.Write(key); err != nil {
		_ = tmpFile.Close()
		return nil, fmt.Errorf("write encryption key temp: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return nil, fmt.Errorf("chmod encryption key temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close encryption key temp: %w", err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			raced, loadErr := loadKey(path, log)
			if loadErr != nil {
				return nil, loadErr
			}
			if raced == nil {
				return nil, fmt.Errorf("encryption key %s disappeared after concurrent creation", path)
			}
			return raced, nil
		}
		return nil, fmt.Errorf("link encryption key: %w", err)
	}
	return key, nil
}

// encryptValue seals plaintext with AES-256-GCM and returns a prefixed
// base64 string.
func encryptValue(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptValue(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return "", fmt.Errorf("value is not encrypted (missing %s prefix)", encPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("encrypted value too short")
	}
	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt value: %w", err)
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
