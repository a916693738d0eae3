package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"twitgather/pkg/config"
)

// Credentials holds one set of Twitter API secrets. Archive mode signs
// requests with the four OAuth1 values; stream mode uses the bearer token.
type Credentials struct {
	Name              string    `json:"name"`
	ConsumerKey       string    `json:"consumer_key,omitempty"`
	ConsumerSecret    string    `json:"consumer_secret,omitempty"`
	AccessToken       string    `json:"access_token,omitempty"`
	AccessTokenSecret string    `json:"access_token_secret,omitempty"`
	BearerToken       string    `json:"bearer_token,omitempty"`
	LastModified      time.Time `json:"last_modified"`
}

// HasOAuth1 reports whether all four OAuth1 secrets are set
func (c *Credentials) HasOAuth1() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" &&
		c.AccessToken != "" && c.AccessTokenSecret != ""
}

// ValidFor checks that the secrets needed by mode are present
func (c *Credentials) ValidFor(mode string) error {
	var missing []error
	if mode == config.ModeArchive || mode == config.ModeBoth {
		if !c.HasOAuth1() {
			missing = append(missing, errors.New("archive mode needs consumer key, consumer secret, access token and access token secret"))
		}
	}
	if mode == config.ModeStream || mode == config.ModeBoth {
		if c.BearerToken == "" {
			missing = append(missing, errors.New("stream mode needs a bearer token"))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, errors.Join(missing...))
	}
	return nil
}

// Apply copies the stored secrets into cfg where cfg has none. Values given
// on the command line or in the environment take precedence.
func (c *Credentials) Apply(cfg *config.TwitterConfig) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.ConsumerKey, c.ConsumerKey)
	fill(&cfg.ConsumerSecret, c.ConsumerSecret)
	fill(&cfg.AccessToken, c.AccessToken)
	fill(&cfg.AccessTokenSecret, c.AccessTokenSecret)
	fill(&cfg.BearerToken, c.BearerToken)
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials under their name
	Store(creds *Credentials) error

	// Retrieve gets the credentials saved under name
	Retrieve(name string) (*Credentials, error)

	// List returns all stored credentials
	List() ([]*Credentials, error)

	// Delete removes the credentials saved under name
	Delete(name string) error

	// Exists checks if credentials exist under name
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManagerWithStores creates a manager over explicit stores, consulted in
// order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// NewManager creates a new credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Add environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves credentials using the first available store
func (m *Manager) Store(creds *Credentials) error {
	if creds.Name == "" {
		return errors.New("name is required")
	}
	if !creds.HasOAuth1() && creds.BearerToken == "" {
		return errors.New("either the four OAuth1 secrets or a bearer token are required")
	}

	creds.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(creds); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Credentials, error) {
	for _, store := range m.stores {
		if creds, err := store.Retrieve(name); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault gets the environment credentials or the first stored set
func (m *Manager) RetrieveDefault() (*Credentials, error) {
	if len(m.stores) > 0 {
		if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
			if creds, err := envStore.Retrieve(""); err == nil && creds != nil {
				return creds, nil
			}
		}
	}

	all, err := m.List()
	if err == nil && len(all) > 0 {
		return all[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored credentials from all stores
func (m *Manager) List() ([]*Credentials, error) {
	byName := make(map[string]*Credentials)

	for _, store := range m.stores {
		all, err := store.List()
		if err != nil {
			continue
		}
		for _, creds := range all {
			// Use the most recently modified version
			if existing, ok := byName[creds.Name]; !ok || creds.LastModified.After(existing.LastModified) {
				byName[creds.Name] = creds
			}
		}
	}

	var result []*Credentials
	for _, creds := range byName {
		result = append(result, creds)
	}

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("credentials not found: %s", name)
	}

	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	all, err := m.List()
	if err != nil {
		return err
	}

	for _, creds := range all {
		_ = m.Delete(creds.Name)
	}

	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/twitgather, creating it
func getConfigDir() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, config.AppName)

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeCredentials creates a copy with every secret masked
func SanitizeCredentials(creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}

	return &Credentials{
		Name:              creds.Name,
		ConsumerKey:       maskString(creds.ConsumerKey),
		ConsumerSecret:    maskString(creds.ConsumerSecret),
		AccessToken:       maskString(creds.AccessToken),
		AccessTokenSecret: maskString(creds.AccessTokenSecret),
		BearerToken:       maskString(creds.BearerToken),
		LastModified:      creds.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
