package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var pebblePrefix = []byte("checkpoint/")

// Pebble keeps positions in a local Pebble directory. Every write is synced
// so a committed position survives a crash.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (creating if needed) the Pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("pebble checkpoint: directory is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func pebbleKey(key string) []byte {
	return append(append([]byte(nil), pebblePrefix...), key...)
}

func (p *Pebble) Get(_ context.Context, key string) (string, bool, error) {
	val, closer, err := p.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer closer.Close()
	return string(val), true, nil
}

func (p *Pebble) Put(_ context.Context, key, value string) error {
	if err := p.db.Set(pebbleKey(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble put %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Delete(_ context.Context, key string) error {
	if err := p.db.Delete(pebbleKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
