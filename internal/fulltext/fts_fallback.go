//go:build !sqlite_fts5

package fulltext

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over elements.body.
	return nil
}

func ftsInsert(_ *sql.Tx, _, _, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) error { return nil }

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT identifier, document, title, substr(body, 1, 200)
		FROM elements
		WHERE title LIKE ? OR body LIKE ?
		ORDER BY document, position
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("fulltext: search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Identifier, &h.Document, &h.Title, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
