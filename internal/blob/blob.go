// Package blob stores uploaded source content on the local filesystem under
// the application data directory. Paths returned by Put are the job's
// durable back-reference to its content.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is a filesystem-backed blob store rooted at a single directory.
type Store struct {
	root string
}

// NewStore creates a blob store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Put writes content under a unique name derived from the original filename
// and returns the stored path.
func (s *Store) Put(filename string, content []byte) (string, error) {
	name := uuid.New().String() + sanitizeExt(filename)
	path := filepath.Join(s.root, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", name, err)
	}
	return path, nil
}

// Get reads stored content back. The path must be one previously returned
// by Put; anything outside the store root is refused.
func (s *Store) Get(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving blob path: %w", err)
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob root: %w", err)
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("blob path %s outside store root", path)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", path, err)
	}
	return content, nil
}

// sanitizeExt keeps only a plausible file extension from the original name.
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext[min(1, len(ext)):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
