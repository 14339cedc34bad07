// Package client implements the consumer side of the support channel: the
// visitor widget program and the admin console program, over the same
// websocket protocol the gateway speaks.
package client

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Identity is the durable visitor-side record. The id is generated once
// and survives reloads; name and email are cached after the pre-chat form
// but are never authoritative over what the server returns.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// IdentityStore persists the identity as a JSON file. It never expires an
// id on its own; only an explicit Rotate (start new chat) replaces it.
type IdentityStore struct {
	path string

	mu  sync.Mutex
	cur Identity
}

// NewIdentityStore loads (or lazily creates) the identity at path.
func NewIdentityStore(path string) (*IdentityStore, error) {
	s := &IdentityStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		// corrupt identity file: start over rather than fail the widget
		s.cur = Identity{}
	}
	return s, nil
}

func newVisitorID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return hex.EncodeToString(buf)
}

// EnsureID returns the persisted visitor id, generating and persisting one
// on first use. Idempotent across reloads.
func (s *IdentityStore) EnsureID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.ID != "" {
		return s.cur.ID, nil
	}
	s.cur.ID = newVisitorID()
	if err := s.save(); err != nil {
		return "", err
	}
	return s.cur.ID, nil
}

// Rotate issues a fresh id and clears the cached contact fields. Used only
// by "start new chat".
func (s *IdentityStore) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Identity{ID: newVisitorID()}
	if err := s.save(); err != nil {
		return "", err
	}
	return s.cur.ID, nil
}

// SetContact caches the pre-chat fields locally so reconnects can announce
// them.
func (s *IdentityStore) SetContact(name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Name = name
	s.cur.Email = email
	return s.save()
}

// Current returns a copy of the stored identity.
func (s *IdentityStore) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// save writes the identity file; caller holds s.mu.
func (s *IdentityStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
