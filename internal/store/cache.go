package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// SaveServerCache stores n as the complete server data at path. Rows for
// locations below path are dropped since the new row covers them.
func (s *Store) SaveServerCache(ctx context.Context, path tree.Path, n node.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save server cache %s: %w", path, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM server_cache WHERE path LIKE ? ESCAPE '\'`,
		likePrefix(path)); err != nil {
		return fmt.Errorf("save server cache %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO server_cache (path, payload, hash)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET payload = excluded.payload, hash = excluded.hash
	`, path.String(), marshalNode(n), n.Hash()); err != nil {
		return fmt.Errorf("save server cache %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save server cache %s: %w", path, err)
	}
	return nil
}

// LoadServerCache returns the cached data at path. It is found when path
// or one of its ancestors was saved.
func (s *Store) LoadServerCache(ctx context.Context, path tree.Path) (node.Node, bool, error) {
	ancestor := tree.Root()
	for i := 0; ; i++ {
		var payload string
		err := s.db.QueryRowContext(ctx, `SELECT payload FROM server_cache WHERE path = ?`,
			ancestor.String()).Scan(&payload)
		switch {
		case err == nil:
			n, err := unmarshalNode(payload)
			if err != nil {
				return nil, false, fmt.Errorf("server cache %s: %w", ancestor, err)
			}
			return n.Child(tree.RelativePath(ancestor, path)), true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, false, fmt.Errorf("query server cache %s: %w", ancestor, err)
		}
		if i == path.Len() {
			return nil, false, nil
		}
		ancestor = ancestor.Child(path.Segments()[i])
	}
}

// ServerCache implements synctree.Persistence. Read failures are logged
// and reported as a cache miss.
func (s *Store) ServerCache(path tree.Path) (node.Node, bool) {
	n, ok, err := s.LoadServerCache(context.Background(), path)
	if err != nil {
		slog.Warn("server cache read failed", "path", path.String(), "error", err)
		return nil, false
	}
	return n, ok
}

// likePrefix matches the strict descendants of path.
func likePrefix(path tree.Path) string {
	prefix := path.String()
	if !path.IsEmpty() {
		prefix += "/"
	}
	escaped := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, prefix[i])
	}
	return string(escaped) + "_%"
}
