package store

import (
	"context"
	"fmt"
)

// MergedSet returns which of ids are already recorded for sheetPath.
func (s *Store) MergedSet(ctx context.Context, sheetPath string, ids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id FROM merged_submissions
		WHERE sheet_path = ?
		ORDER BY seq ASC, submission_id COLLATE BINARY ASC
	`, sheetPath)
	if err != nil {
		return nil, fmt.Errorf("query merged submissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan merged submission: %w", err)
		}
		if want[id] {
			seen[id] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merged submissions: %w", err)
	}
	return seen, nil
}

// RecordMerged records ids as written into sheetPath. Ids already present
// are ignored. The whole batch commits or none of it does.
func (s *Store) RecordMerged(ctx context.Context, sheetPath, formID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record merged: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM merged_submissions`,
	).Scan(&seq); err != nil {
		return fmt.Errorf("record merged: next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO merged_submissions (sheet_path, submission_id, form_id, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record merged: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		seq++
		if _, err := stmt.ExecContext(ctx, sheetPath, id, formID, seq); err != nil {
			return fmt.Errorf("record merged %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record merged: commit: %w", err)
	}
	return nil
}

// CountMerged returns how many submissions are recorded for formID.
func (s *Store) CountMerged(ctx context.Context, formID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM merged_submissions WHERE form_id = ?`, formID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count merged: %w", err)
	}
	return n, nil
}
