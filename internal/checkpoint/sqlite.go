package checkpoint

import (
	"context"

	"github.com/roach88/formsheet/internal/store"
)

// SQLite keeps positions in the formsheet database.
type SQLite struct {
	db *store.Store
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already open store. Closing the result closes db.
func NewSQLite(db *store.Store) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	return s.db.GetPosition(ctx, key)
}

func (s *SQLite) Put(ctx context.Context, key, value string) error {
	return s.db.PutPosition(ctx, key, value)
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.db.DeletePosition(ctx, key)
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
