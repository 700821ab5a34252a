package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// WriteRow is a persisted user write as stored.
type WriteRow struct {
	ID      int64           `json:"id"`
	Session string          `json:"session"`
	Path    string          `json:"path"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Visible bool            `json:"visible"`
}

// CacheRow is a persisted server cache entry.
type CacheRow struct {
	Path    string          `json:"path"`
	Hash    string          `json:"hash"`
	Payload json.RawMessage `json:"payload"`
}

// Dump is the full store contents, used by `treesync inspect`.
type Dump struct {
	Writes      []WriteRow `json:"writes"`
	ServerCache []CacheRow `json:"server_cache"`
}

// ReadDump returns every row. Writes are ordered by id and cache entries
// by path, byte-wise, so dumps are deterministic.
func (s *Store) ReadDump(ctx context.Context) (Dump, error) {
	dump := Dump{Writes: []WriteRow{}, ServerCache: []CacheRow{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, path, kind, payload, visible
		FROM user_writes
		ORDER BY id ASC
	`)
	if err != nil {
		return Dump{}, fmt.Errorf("query user writes: %w", err)
	}
	for rows.Next() {
		var w WriteRow
		var payload string
		if err := rows.Scan(&w.ID, &w.Session, &w.Path, &w.Kind, &payload, &w.Visible); err != nil {
			rows.Close()
			return Dump{}, fmt.Errorf("scan user write: %w", err)
		}
		w.Payload = json.RawMessage(payload)
		dump.Writes = append(dump.Writes, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Dump{}, fmt.Errorf("iterate user writes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT path, hash, payload
		FROM server_cache
		ORDER BY path COLLATE BINARY ASC
	`)
	if err != nil {
		return Dump{}, fmt.Errorf("query server cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c CacheRow
		var payload string
		if err := rows.Scan(&c.Path, &c.Hash, &payload); err != nil {
			return Dump{}, fmt.Errorf("scan server cache: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		dump.ServerCache = append(dump.ServerCache, c)
	}
	if err := rows.Err(); err != nil {
		return Dump{}, fmt.Errorf("iterate server cache: %w", err)
	}
	return dump, nil
}
