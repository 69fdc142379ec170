package fulltext

import (
	"fmt"
	"time"

	"github.com/starford/specdex/internal/document"
)

// Hit is one full-text match.
type Hit struct {
	Identifier string `json:"identifier"`
	Document   string `json:"document"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// ReplaceDocument replaces every element row of doc, and its FTS entries,
// within one transaction.
func (db *DB) ReplaceDocument(doc *document.Document) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("fulltext: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO documents (id, fingerprint, generation, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			generation  = excluded.generation,
			updated_at  = excluded.updated_at
	`, doc.ID, doc.Fingerprint, doc.Generation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fulltext: upsert document: %w", err)
	}

	if err := ftsDelete(tx, doc.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM elements WHERE document = ?`, doc.ID); err != nil {
		return fmt.Errorf("fulltext: clear elements: %w", err)
	}
	if len(doc.Elements) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO elements (document, position, identifier, kind, title, body) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("fulltext: prepare element insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range doc.Elements {
			if _, err := stmt.Exec(doc.ID, i, e.ID.String(), string(e.ID.Kind), e.Title, e.Body); err != nil {
				return fmt.Errorf("fulltext: insert element %s: %w", e.ID, err)
			}
			if err := ftsInsert(tx, doc.ID, e.ID.String(), e.Title, e.Body); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document and all of its element rows.
func (db *DB) DeleteDocument(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("fulltext: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM elements WHERE document = ?`, id); err != nil {
		return fmt.Errorf("fulltext: delete elements: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("fulltext: delete document: %w", err)
	}
	return tx.Commit()
}

// Fingerprints returns the stored fingerprint of every mirrored document.
func (db *DB) Fingerprints() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, fingerprint FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("fulltext: fingerprints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, fp string
		if err := rows.Scan(&id, &fp); err != nil {
			return nil, err
		}
		out[id] = fp
	}
	return out, rows.Err()
}
