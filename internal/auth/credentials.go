package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/portfolio-client/internal/errors"
)

// FileCredentialStore keeps the session token in a file readable only by
// the current user
type FileCredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentialStore creates a store backed by path
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// Path returns the backing file
func (s *FileCredentialStore) Path() string {
	return s.path
}

// Save replaces the stored token
func (s *FileCredentialStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return apperrors.NewStorageError("save credentials", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return apperrors.NewStorageError("save credentials", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("save credentials", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("save credentials", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewStorageError("save credentials", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.NewStorageError("save credentials", err)
	}
	return nil
}

// Retrieve returns the stored token. A missing file means nobody is logged
// in and is not an error.
func (s *FileCredentialStore) Retrieve(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, apperrors.NewStorageError("retrieve credentials", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Delete removes the stored token
func (s *FileCredentialStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return apperrors.NewStorageError("delete credentials", err)
	}
	return nil
}

// MemoryCredentialStore keeps the token for the life of the process
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryCredentialStore creates an empty store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryCredentialStore) Retrieve(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != "", nil
}

func (s *MemoryCredentialStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
