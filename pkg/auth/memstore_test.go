package auth

import "sync"

// memStore is an in-memory CredentialStore
type memStore struct {
	mu      sync.Mutex
	entries map[string]Credentials
	listErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]Credentials)}
}

func (m *memStore) Store(creds *Credentials) error {
	if creds == nil || creds.Name == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[creds.Name] = *creds
	return nil
}

func (m *memStore) Retrieve(name string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &c, nil
}

func (m *memStore) List() ([]*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := make([]*Credentials, 0, len(m.entries))
	for _, c := range m.entries {
		c := c
		all = append(all, &c)
	}
	return all, nil
}

func (m *memStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.entries, name)
	return nil
}

func (m *memStore) Exists(name string) bool {
	_, err := m.Retrieve(name)
	return err == nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
