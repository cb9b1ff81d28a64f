package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// ErrWrongMasterPassword is returned when stored secrets cannot be opened.
var ErrWrongMasterPassword = errors.New("wrong master password")

const (
	credentialsFileName = "credentials.enc"
	pbkdf2Iterations    = 100000
	keyLength           = 32 // AES-256
	saltLength          = 32
)

// CredentialStore keeps host passwords encrypted with a key derived from a
// master password.
type CredentialStore struct {
	path    string
	salt    []byte
	key     []byte
	secrets map[string]string // profile id -> sealed password
	mu      sync.RWMutex
}

type credentialsFile struct {
	Salt        string            `json:"salt"`
	Credentials map[string]string `json:"credentials"`
}

// OpenCredentialStore opens or creates the store in configDir. An existing
// store is checked against masterPassword.
func OpenCredentialStore(configDir, masterPassword string) (*CredentialStore, error) {
	cs := &CredentialStore{
		path:    filepath.Join(configDir, credentialsFileName),
		secrets: make(map[string]string),
	}

	err := cs.load(masterPassword)
	switch {
	case err == nil:
		return cs, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	cs.salt = salt
	cs.key = deriveKey(masterPassword, salt)
	if err := cs.save(); err != nil {
		return nil, err
	}
	return cs, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
}

func (cs *CredentialStore) load(masterPassword string) error {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return err
	}

	var cf credentialsFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(cf.Salt)
	if err != nil {
		return fmt.Errorf("failed to decode salt: %w", err)
	}

	cs.salt = salt
	cs.key = deriveKey(masterPassword, salt)
	if cf.Credentials != nil {
		cs.secrets = cf.Credentials
	}

	// One successful open proves the password.
	for _, sealed := range cs.secrets {
		if _, err := cs.open(sealed); err != nil {
			return ErrWrongMasterPassword
		}
		break
	}
	return nil
}

// save writes the store. Caller holds the lock or owns cs exclusively.
func (cs *CredentialStore) save() error {
	data, err := json.MarshalIndent(credentialsFile{
		Salt:        base64.StdEncoding.EncodeToString(cs.salt),
		Credentials: cs.secrets,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return os.WriteFile(cs.path, data, 0600)
}

func (cs *CredentialStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cs.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (cs *CredentialStore) seal(plaintext string) (string, error) {
	aead, err := cs.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (cs *CredentialStore) open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	aead, err := cs.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SetPassword stores the password of a profile.
func (cs *CredentialStore) SetPassword(profileID, password string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	sealed, err := cs.seal(password)
	if err != nil {
		return err
	}
	cs.secrets[profileID] = sealed
	return cs.save()
}

// Password returns the stored password of a profile, "" when none is stored.
func (cs *CredentialStore) Password(profileID string) (string, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	sealed, ok := cs.secrets[profileID]
	if !ok {
		return "", nil
	}
	return cs.open(sealed)
}

// HasPassword reports whether a password is stored for a profile.
func (cs *CredentialStore) HasPassword(profileID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, ok := cs.secrets[profileID]
	return ok
}

// DeletePassword forgets the password of a profile.
func (cs *CredentialStore) DeletePassword(profileID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.secrets, profileID)
	return cs.save()
}

// ChangeMasterPassword re-encrypts every password under a new master
// password and a fresh salt.
func (cs *CredentialStore) ChangeMasterPassword(newPassword string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	plain := make(map[string]string, len(cs.secrets))
	for id, sealed := range cs.secrets {
		p, err := cs.open(sealed)
		if err != nil {
			return fmt.Errorf("failed to decrypt password for %s: %w", id, err)
		}
		plain[id] = p
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	cs.salt = salt
	cs.key = deriveKey(newPassword, salt)
	cs.secrets = make(map[string]string, len(plain))
	for id, p := range plain {
		sealed, err := cs.seal(p)
		if err != nil {
			return fmt.Errorf("failed to encrypt password for %s: %w", id, err)
		}
		cs.secrets[id] = sealed
	}
	return cs.save()
}

// CredentialsFileExists reports whether configDir holds a credential store.
func CredentialsFileExists(configDir string) bool {
	_, err := os.Stat(filepath.Join(configDir, credentialsFileName))
	return err == nil
}
