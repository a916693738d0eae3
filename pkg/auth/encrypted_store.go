package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// PassphraseEnv names the variable holding the vault passphrase. Without
// it a random passphrase is generated once and kept next to the vault.
const PassphraseEnv = "TWITGATHER_PASSPHRASE"

const (
	vaultVersion = 2
	saltLen      = 16
	nonceLen     = 24
	scryptN      = 1 << 15
)

// vault is the on-disk layout. Account names and modification times are
// readable; each secret section is sealed on its own.
type vault struct {
	Version  int                     `json:"version"`
	Salt     []byte                  `json:"salt"`
	Accounts map[string]vaultAccount `json:"accounts"`
}

type vaultAccount struct {
	OAuth1   []byte    `json:"oauth1,omitempty"`
	Bearer   []byte    `json:"bearer,omitempty"`
	Modified time.Time `json:"modified"`
}

// oauth1Section is the plaintext of the archive mode secrets
type oauth1Section struct {
	ConsumerKey       string `json:"ck"`
	ConsumerSecret    string `json:"cs"`
	AccessToken       string `json:"at"`
	AccessTokenSecret string `json:"ats"`
}

// EncryptedFileStore keeps credentials in a passphrase protected file. It
// backs the keyring on machines without a secret service.
type EncryptedFileStore struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	key     *[32]byte
	keySalt []byte
}

// NewEncryptedFileStore opens (or prepares) the vault at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	pass, err := loadPassphrase(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

// loadPassphrase reads PassphraseEnv or the .passphrase file in dir,
// creating the file on first use
func loadPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	file := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return bytes.TrimSpace(content), nil
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, err
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(file, pass, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}

func (s *EncryptedFileStore) Store(creds *Credentials) error {
	if creds == nil || creds.Name == "" {
		return ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		v, err = newVault()
	}
	if err != nil {
		return err
	}

	key, err := s.deriveKey(v.Salt)
	if err != nil {
		return err
	}

	acct := vaultAccount{Modified: creds.LastModified}
	if acct.Modified.IsZero() {
		acct.Modified = time.Now()
	}
	if creds.HasOAuth1() {
		if acct.OAuth1, err = seal(key, oauth1Section{
			ConsumerKey:       creds.ConsumerKey,
			ConsumerSecret:    creds.ConsumerSecret,
			AccessToken:       creds.AccessToken,
			AccessTokenSecret: creds.AccessTokenSecret,
		}); err != nil {
			return err
		}
	}
	if creds.BearerToken != "" {
		if acct.Bearer, err = seal(key, creds.BearerToken); err != nil {
			return err
		}
	}

	v.Accounts[creds.Name] = acct
	return s.write(v)
}

func (s *EncryptedFileStore) Retrieve(name string) (*Credentials, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}

	acct, ok := v.Accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return s.open(v, name, acct)
}

// List returns every account, sorted by name
func (s *EncryptedFileStore) List() ([]*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return []*Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(v.Accounts))
	for name := range v.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	all := make([]*Credentials, 0, len(names))
	for _, name := range names {
		creds, err := s.open(v, name, v.Accounts[name])
		if err != nil {
			return nil, err
		}
		all = append(all, creds)
	}
	return all, nil
}

// Delete removes an account; the file goes away with the last one
func (s *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := v.Accounts[name]; !ok {
		return ErrCredentialsNotFound
	}

	delete(v.Accounts, name)
	if len(v.Accounts) == 0 {
		return os.Remove(s.path)
	}
	return s.write(v)
}

func (s *EncryptedFileStore) Exists(name string) bool {
	creds, err := s.Retrieve(name)
	return err == nil && creds != nil
}

func newVault() (*vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &vault{Version: vaultVersion, Salt: salt, Accounts: make(map[string]vaultAccount)}, nil
}

func (s *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse credential vault: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported credential vault version %d", v.Version)
	}
	if v.Accounts == nil {
		v.Accounts = make(map[string]vaultAccount)
	}
	return &v, nil
}

// write replaces the vault file through a temporary file
func (s *EncryptedFileStore) write(v *vault) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential vault: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credential vault: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// deriveKey runs scrypt once per salt
func (s *EncryptedFileStore) deriveKey(salt []byte) (*[32]byte, error) {
	if s.key != nil && bytes.Equal(s.keySalt, salt) {
		return s.key, nil
	}

	derived, err := scrypt.Key(s.passphrase, salt, scryptN, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)

	s.key = &key
	s.keySalt = append([]byte(nil), salt...)
	return s.key, nil
}

func (s *EncryptedFileStore) open(v *vault, name string, acct vaultAccount) (*Credentials, error) {
	key, err := s.deriveKey(v.Salt)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{Name: name, LastModified: acct.Modified}
	if len(acct.OAuth1) > 0 {
		var o oauth1Section
		if err := unseal(key, acct.OAuth1, &o); err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		creds.ConsumerKey = o.ConsumerKey
		creds.ConsumerSecret = o.ConsumerSecret
		creds.AccessToken = o.AccessToken
		creds.AccessTokenSecret = o.AccessTokenSecret
	}
	if len(acct.Bearer) > 0 {
		if err := unseal(key, acct.Bearer, &creds.BearerToken); err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
	}
	return creds, nil
}

// seal encodes v as JSON and encrypts it with a fresh nonce prepended
func seal(key *[32]byte, v interface{}) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

func unseal(key *[32]byte, box []byte, v interface{}) error {
	if len(box) < nonceLen+secretbox.Overhead {
		return errors.New("sealed section too short")
	}

	var nonce [nonceLen]byte
	copy(nonce[:], box[:nonceLen])
	plain, ok := secretbox.Open(nil, box[nonceLen:], &nonce, key)
	if !ok {
		return errors.New("wrong passphrase or corrupted credential vault")
	}
	return json.Unmarshal(plain, v)
}
