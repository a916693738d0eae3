package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It reads TWITGATHER_* names first and the bare lowercase names second.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func getenv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func (e *EnvironmentStore) read() *Credentials {
	return &Credentials{
		ConsumerKey:       getenv("TWITGATHER_CONSUMER_KEY", "consumer_key"),
		ConsumerSecret:    getenv("TWITGATHER_CONSUMER_SECRET", "consumer_secret"),
		AccessToken:       getenv("TWITGATHER_ACCESS_TOKEN", "access_token"),
		AccessTokenSecret: getenv("TWITGATHER_ACCESS_TOKEN_SECRET", "access_token_secret"),
		BearerToken:       getenv("TWITGATHER_BEARER_TOKEN", "bearer_token"),
	}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Credentials, error) {
	creds := e.read()
	if !creds.HasOAuth1() && creds.BearerToken == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "environment"
	}
	creds.Name = name
	creds.LastModified = time.Now()
	return creds, nil
}

// List returns a single entry if environment variables are set
func (e *EnvironmentStore) List() ([]*Credentials, error) {
	creds, err := e.Retrieve("")
	if err != nil {
		return []*Credentials{}, nil
	}
	return []*Credentials{creds}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	creds := e.read()
	return creds.HasOAuth1() || creds.BearerToken != ""
}
