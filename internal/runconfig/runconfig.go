// Package runconfig holds the process-wide transcription settings shared by
// every run: phrase hints and the STT provider. Reads are atomic snapshots so
// a mid-run change affects only adapter calls issued after it.
package runconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Provider selects which speech-to-text backend transcribes audio.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderOpenAI Provider = "openai"
)

// Valid reports whether the provider is one of the known backends.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderOpenAI:
		return true
	}
	return false
}

// ErrInvalidProvider is returned by Store.Set for unknown provider values.
var ErrInvalidProvider = errors.New("unknown stt provider")

// Config is one snapshot of the shared settings.
type Config struct {
	PhraseHints []string `json:"phrase_hints"`
	Provider    Provider `json:"stt_provider"`
}

// Store keeps the current Config behind an atomic pointer: readers always get
// a complete snapshot and writers never block in-flight reads. Last write
// wins. When a file path is configured, accepted writes are persisted so the
// settings survive restarts.
type Store struct {
	current atomic.Pointer[Config]

	mu     sync.Mutex // serializes writers and file persistence
	path   string
	logger *log.Logger
}

// NewStore creates a store seeded with defaults, overridden by the persisted
// file at path if one exists. An empty path disables persistence.
func NewStore(path string, defaults Config, logger *log.Logger) *Store {
	s := &Store{path: path, logger: logger}

	cfg := sanitize(defaults)
	if path != "" {
		if loaded, err := loadFile(path); err == nil {
			cfg = sanitize(loaded)
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Printf("runconfig: failed to load %s: %v", path, err)
		}
	}

	s.current.Store(&cfg)
	return s
}

// Get returns the current configuration snapshot. The returned hint slice is
// a copy, so callers may iterate or mutate it freely.
func (s *Store) Get() Config {
	cfg := s.current.Load()
	out := Config{Provider: cfg.Provider}
	if len(cfg.PhraseHints) > 0 {
		out.PhraseHints = make([]string, len(cfg.PhraseHints))
		copy(out.PhraseHints, cfg.PhraseHints)
	}
	return out
}

// Set validates and installs a new configuration. An invalid write is
// rejected synchronously and the prior configuration is retained; runs in
// flight are unaffected either way.
func (s *Store) Set(cfg Config) error {
	if !cfg.Provider.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, cfg.Provider)
	}

	next := sanitize(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(&next)

	if s.path != "" {
		if err := saveFile(s.path, next); err != nil {
			// The in-memory config is already live; persistence is best effort.
			s.logger.Printf("runconfig: failed to persist %s: %v", s.path, err)
		}
	}
	return nil
}

// sanitize de-duplicates phrase hints preserving first-seen order and drops
// empty entries.
func sanitize(cfg Config) Config {
	out := Config{Provider: cfg.Provider}
	if out.Provider == "" {
		out.Provider = ProviderGoogle
	}

	seen := make(map[string]struct{}, len(cfg.PhraseHints))
	for _, hint := range cfg.PhraseHints {
		if hint == "" {
			continue
		}
		if _, ok := seen[hint]; ok {
			continue
		}
		seen[hint] = struct{}{}
		out.PhraseHints = append(out.PhraseHints, hint)
	}
	return out
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if !cfg.Provider.Valid() {
		cfg.Provider = ProviderGoogle
	}
	return cfg, nil
}

func saveFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
