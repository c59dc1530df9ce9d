// Package audiostore keeps the synthesized question audio for the lifetime
// of a run and serves it back to observers under /audio/.
package audiostore

import (
	"fmt"
	"os"
	"path/filepath"
)

// URLPrefix is the path under which stored audio is served.
const URLPrefix = "/audio/"

// Store is a local-directory audio artifact store. Synthesized audio for the
// same question is content-addressed by the caller, so existing files are
// reused across runs instead of re-synthesized.
type Store struct {
	dir string
}

// New creates the store, making the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory, for static file serving.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether audio with the given name is already stored.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// Save writes audio under name and returns its serving reference.
func (s *Store) Save(name string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio %s: %w", name, err)
	}
	return s.Ref(name), nil
}

// Load reads previously stored audio back.
func (s *Store) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read audio %s: %w", name, err)
	}
	return data, nil
}

// Ref returns the serving URL path for a stored name.
func (s *Store) Ref(name string) string { return URLPrefix + name }
