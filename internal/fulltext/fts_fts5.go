//go:build sqlite_fts5

package fulltext

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS elements_fts USING fts5(
			document UNINDEXED,
			identifier UNINDEXED,
			title,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, docID, identifier, title, body string) error {
	_, err := tx.Exec(`INSERT INTO elements_fts (document, identifier, title, body) VALUES (?, ?, ?, ?)`,
		docID, identifier, title, body)
	if err != nil {
		return fmt.Errorf("fulltext: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, docID string) error {
	if _, err := tx.Exec(`DELETE FROM elements_fts WHERE document = ?`, docID); err != nil {
		return fmt.Errorf("fulltext: delete fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching elements with snippets.
func (db *DB) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT identifier,
		       document,
		       title,
		       snippet(elements_fts, 3, '<b>', '</b>', '...', 64)
		FROM elements_fts
		WHERE elements_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
