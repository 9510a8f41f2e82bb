// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"

	"github.com/yllada/vpnd-client/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "vpnd-client"

	// AccountKey is the entry holding the account number.
	AccountKey = "account-number"
)

// Argon2id parameters for the file fallback key.
const (
	kdfTime    = 1
	kdfMemory  = 19 * 1024
	kdfThreads = 2
	kdfKeyLen  = 32
)

// Store keeps secrets in the system keyring, or in an encrypted file
// under dir when no keyring service is reachable.
// It satisfies common.CredentialStore.
type Store struct {
	mu      sync.RWMutex
	local   bool
	file    string
	key     []byte
	entries map[string]string
}

var _ common.CredentialStore = (*Store)(nil)

// New checks the system keyring and returns a Store backed by it, or by an
// encrypted file in dir when the check fails.
func New(dir string) *Store {
	testKey := serviceName + "-check"
	if err := keyring.Set(serviceName, testKey, "check"); err == nil {
		keyring.Delete(serviceName, testKey)
		return &Store{file: filepath.Join(dir, common.CredentialsFileName)}
	}
	common.LogDebug("System keyring unavailable, using encrypted file in %s", dir)
	return NewFileStore(dir)
}

// NewFileStore returns a Store that only uses the encrypted file in dir.
func NewFileStore(dir string) *Store {
	s := &Store{file: filepath.Join(dir, common.CredentialsFileName)}
	s.initLocal()
	return s
}

// initLocal switches the store to file storage. Caller holds mu or owns s.
func (s *Store) initLocal() {
	if s.local {
		return
	}
	s.local = true
	s.key = deriveKey()
	s.entries = make(map[string]string)
	s.load()
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, getMachineID(), os.Getuid())
	salt := []byte(serviceName + "/credentials/v1")
	return argon2.IDKey([]byte(secret), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
}

func getMachineID() string {
	// Try to read machine-id
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	// Fallback
	return "default-machine-id"
}

func (s *Store) load() {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return
	}

	decrypted, err := decrypt(s.key, data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credentials file %s: %v", s.file, err)
		return
	}

	if err := json.Unmarshal(decrypted, &s.entries); err != nil {
		common.LogWarn("Ignoring corrupt credentials file %s: %v", s.file, err)
	}
}

// save writes the entries to disk. Caller holds mu.
func (s *Store) save() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}

	encrypted, err := encrypt(s.key, data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(s.file, encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// IsLocal reports whether the store uses the encrypted file.
func (s *Store) IsLocal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// Store saves a secret under key.
func (s *Store) Store(key, secret string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.local {
		err := keyring.Set(serviceName, key, secret)
		if err == nil {
			return nil
		}
		// Fallback to local storage
		common.LogWarn("System keyring write failed, falling back to file: %v", err)
		s.initLocal()
	}
	s.entries[key] = secret
	return s.save()
}

// Get retrieves the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.local {
		secret, err := keyring.Get(serviceName, key)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return "", common.ErrCredentialsNotFound
	}

	secret, exists := s.entries[key]
	if !exists {
		return "", common.ErrCredentialsNotFound
	}
	return secret, nil
}

// Delete removes the secret stored under key. Deleting a missing key is
// not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.local {
		err := keyring.Delete(serviceName, key)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.save()
}

// Exists checks if a secret is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}
