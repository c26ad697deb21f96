package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a key or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedBackend is returned for unknown DSN schemes.
	ErrUnsupportedBackend = errors.New("unsupported store backend")
)

// Backend is a scoped key-value store with atomic single-key operations.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// BackendFactory opens a Backend for a DSN.
type BackendFactory func(dsn string) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}{
	factories: map[string]BackendFactory{},
}

// RegisterBackendFactory makes a backend available under scheme, taking
// precedence over the built-in ones.
func RegisterBackendFactory(scheme string, factory BackendFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookupBackendFactory(scheme string) (BackendFactory, bool) {
	scheme = normalizeScheme(scheme)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildFromDSN opens the backend named by dsn:
// memory://, sqlite://path, pebble://dir, postgres://...
// A bare path is treated as a sqlite database.
func BuildFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrUnsupportedBackend)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemory(), nil
	case "", "sqlite", "sqlite3", "file":
		path, err := dsnPath(dsn, parsed.Scheme)
		if err != nil {
			return nil, err
		}
		return NewSQLite(path)
	case "pebble":
		path, err := dsnPath(dsn, parsed.Scheme)
		if err != nil {
			return nil, err
		}
		return NewPebble(path)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, scheme)
	}
}

// dsnPath returns the filesystem path of a file-backed DSN, expanding a
// leading ~ to the home directory.
func dsnPath(dsn, scheme string) (string, error) {
	path := dsn
	if scheme != "" {
		path = strings.TrimPrefix(dsn, scheme+"://")
		path = strings.TrimPrefix(path, scheme+":")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", fmt.Errorf("%w: missing path in %q", ErrUnsupportedBackend, dsn)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
