// internal/token/token.go
package token

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store supplies the GitHub credential used by the fetch client. An
// absent token is the empty string, not an error; errors mean the
// backing storage itself failed.
type Store interface {
	Token() (string, error)
	Save(token string) error
}

// FileStore keeps the token in a single file so it survives restarts
// and can be rotated at runtime through the API.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// StaticStore holds the token in memory, seeded from configuration.
// Saves apply until the process exits.
type StaticStore struct {
	mu    sync.Mutex
	token string
}

func NewStaticStore(token string) *StaticStore {
	return &StaticStore{token: token}
}

func (s *StaticStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *StaticStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}
