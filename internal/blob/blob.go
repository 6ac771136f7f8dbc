// Package blob stores raw uploaded files on local disk, one directory per user.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves and loads upload bytes under a root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory is not configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// UserDir returns the directory holding userID's uploads.
func (s *Store) UserDir(userID string) string {
	return filepath.Join(s.root, safeSegment(userID))
}

// Save writes data under a generated name that keeps the original extension. It returns
// the stored file name and the path to pass to Read and Delete.
func (s *Store) Save(userID, originalName string, data []byte) (name, path string, err error) {
	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create user upload directory: %w", err)
	}
	name = uuid.New().String() + strings.ToLower(filepath.Ext(originalName))
	path = filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write upload: %w", err)
	}
	return name, path, nil
}

// Read returns the bytes stored at path.
func (s *Store) Read(path string) ([]byte, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// Delete removes the file at path. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

func (s *Store) contains(path string) error {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside the upload directory", path)
	}
	return nil
}

// safeSegment keeps user ids from escaping the root directory.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
