// Package apikey holds the upstream API credential, read from the
// environment or from a key file that can be rotated while running.
package apikey

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrEmptyKey = errors.New("apikey: empty key")

// NormalizeKey trims whitespace. The upstream expects the bare key.
func NormalizeKey(s string) string {
	return strings.TrimSpace(s)
}

// Redact keeps the last four characters of key for logs and responses.
func Redact(key string) string {
	key = NormalizeKey(key)
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// FileLoader reads a key from disk and caches the last normalized value.
// It returns the cached value if the file content is unchanged.
type FileLoader struct {
	path   string
	mu     sync.Mutex
	cached string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path is the watched file.
func (l *FileLoader) Path() string { return l.path }

// Load reads and normalizes the key from the loader's file.
// The returned boolean indicates whether the value differs from the cached one.
func (l *FileLoader) Load() (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", false, err
	}

	key := NormalizeKey(string(data))
	if key == "" {
		l.cached = ""
		return "", false, ErrEmptyKey
	}

	if key == l.cached {
		return l.cached, false, nil
	}

	l.cached = key
	return key, true, nil
}

// Source is the key in use. A file-backed source keeps the last good key when
// a reload fails.
type Source struct {
	loader *FileLoader

	mu  sync.RWMutex
	key string
}

// NewSource returns a source seeded with static. When path is set the file
// is loaded immediately and takes precedence over static.
func NewSource(static, path string) (*Source, error) {
	s := &Source{key: NormalizeKey(static)}
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	s.loader = NewFileLoader(path)
	if _, err := s.Reload(); err != nil {
		return s, err
	}
	return s, nil
}

// Get returns the current key, empty when none is configured.
func (s *Source) Get() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Configured reports whether a key is available.
func (s *Source) Configured() bool { return s.Get() != "" }

// Reload re-reads the key file. It reports whether the key changed.
func (s *Source) Reload() (bool, error) {
	if s.loader == nil {
		return false, errors.New("apikey: key file not configured")
	}
	key, changed, err := s.loader.Load()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", s.loader.Path(), err)
	}
	if changed {
		s.mu.Lock()
		s.key = key
		s.mu.Unlock()
	}
	return changed, nil
}

// ReloadKey re-reads the key file and returns the redacted key now in use.
func (s *Source) ReloadKey() (string, error) {
	if _, err := s.Reload(); err != nil {
		return "", err
	}
	return Redact(s.Get()), nil
}
