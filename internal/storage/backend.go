// Package storage persists session snapshots. A Backend stores one snapshot
// per user; the file backend is the default, with SQLite and Supabase as
// alternatives selected by configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
)

var (
	// ErrNotFound is returned by Load when the user has no saved session.
	ErrNotFound = errors.New("no saved session")
	// ErrUnavailable is returned while a backend is failing fast.
	ErrUnavailable = errors.New("storage temporarily unavailable")
	// ErrInvalidUser is returned for user ids that cannot name a session.
	ErrInvalidUser = errors.New("invalid user id")
)

// Backend loads and saves session snapshots.
type Backend interface {
	Load(ctx context.Context, userID string) (*graph.Snapshot, error)
	Save(ctx context.Context, userID string, snap graph.Snapshot) error
	Name() string
}

// Kind names a backend implementation.
const (
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindSupabase = "supabase"
)

// Options selects and configures a backend.
type Options struct {
	Kind        string
	Dir         string
	Encrypt     bool
	SQLitePath  string
	SupabaseURL string
	SupabaseKey string
	// Logger receives circuit breaker state changes.
	Logger *zap.Logger
}

// Open returns the backend named by opts.Kind, wrapped in a circuit breaker
// for remote backends.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindFile:
		dir := opts.Dir
		if dir == "" {
			dir = filepath.Join(DataDir(), "sessions")
		}
		return NewFileBackend(dir, opts.Encrypt), nil
	case KindSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(DataDir(), "valence.db")
		}
		return OpenSQLite(path)
	case KindSupabase:
		b, err := NewSupabaseBackend(opts.SupabaseURL, opts.SupabaseKey)
		if err != nil {
			return nil, err
		}
		return NewBreaker(b, BreakerSettings{Logger: opts.Logger}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want file, sqlite or supabase)", opts.Kind)
	}
}

// DataDir is $XDG_CONFIG_HOME/valence, or ~/.config/valence.
func DataDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "valence")
}

var userPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// ValidUser reports whether id can be used as a session key.
func ValidUser(id string) error {
	if !userPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUser, id)
	}
	return nil
}
