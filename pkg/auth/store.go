package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTokenPath is where the credential lives, relative to the working
// directory.
const DefaultTokenPath = "vts_auth_token.txt"

// CredentialStore persists the single plugin token of this installation.
type CredentialStore interface {
	// Load returns ok=false when no credential has been stored yet.
	Load() (token string, ok bool, err error)
	Save(token string) error
	// Delete removes the credential. Deleting a missing credential is not an error.
	Delete() error
}

// FileStore keeps the token as plaintext in one file. A missing file means
// the plugin has not been paired.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	if strings.TrimSpace(path) == "" {
		path = DefaultTokenPath
	}
	return &FileStore{Path: path}
}

func (s *FileStore) Load() (string, bool, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read credential %q: %w", s.Path, err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

func (s *FileStore) Save(token string) error {
	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credential dir %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.Path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write credential %q: %w", s.Path, err)
	}
	return nil
}

func (s *FileStore) Delete() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete credential %q: %w", s.Path, err)
	}
	return nil
}
