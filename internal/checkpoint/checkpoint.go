// Package checkpoint persists the journal position a drain cycle committed.
//
// A PositionStore holds opaque string values under string keys with no
// expiry. Absence of a value means "read the journal from the beginning".
// The pump writes the position only after every group of a cycle was
// published.
package checkpoint

import (
	"context"
	"fmt"
	"io"
)

// DefaultKey is the key the pump stores its cursor under.
const DefaultKey = "journal_position"

// PositionStore is a durable single-value-per-key checkpoint.
type PositionStore interface {
	// Get returns the stored value. ok is false when nothing is stored.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put stores value under key with no expiry, replacing any previous one.
	Put(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the SQLite file or Pebble directory.
	Path          string
	RedisAddr     string
	RedisPassword string
}

// Open builds the configured backend. The returned closer releases it.
func Open(cfg Config) (PositionStore, io.Closer, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendRedis:
		s, err := NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendPebble:
		s, err := OpenPebble(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendMemory:
		s := NewMemory()
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
