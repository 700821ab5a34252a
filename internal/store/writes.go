package store

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/write"
)

// SaveUserWrite logs a pending write under the session that made it.
// Saving the same write id again replaces the row.
func (s *Store) SaveUserWrite(ctx context.Context, session string, rec write.Record) error {
	kind, payload, err := marshalRecord(rec)
	if err != nil {
		return fmt.Errorf("save user write %d: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_writes (id, session, path, kind, payload, visible)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session = excluded.session,
			path = excluded.path,
			kind = excluded.kind,
			payload = excluded.payload,
			visible = excluded.visible
	`, rec.ID, session, rec.Path.String(), kind, payload, rec.Visible)
	if err != nil {
		return fmt.Errorf("save user write %d: %w", rec.ID, err)
	}
	return nil
}

// RemoveUserWrite deletes an acknowledged write. Removing an unknown id
// is not an error.
func (s *Store) RemoveUserWrite(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_writes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove user write %d: %w", id, err)
	}
	return nil
}

// LoadUserWrites returns every pending write in write id order.
func (s *Store) LoadUserWrites(ctx context.Context) ([]write.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, kind, payload, visible
		FROM user_writes
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query user writes: %w", err)
	}
	defer rows.Close()

	var records []write.Record
	for rows.Next() {
		var (
			id                  int64
			path, kind, payload string
			visible             bool
		)
		if err := rows.Scan(&id, &path, &kind, &payload, &visible); err != nil {
			return nil, fmt.Errorf("scan user write: %w", err)
		}
		rec, err := unmarshalRecord(id, path, kind, payload, visible)
		if err != nil {
			return nil, fmt.Errorf("user write %d: %w", id, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user writes: %w", err)
	}
	return records, nil
}
