package index

import (
	"database/sql"
	"errors"
	"fmt"
)

// SetTags adds tags to one document's tag set. Adding an already-present tag
// is a no-op success. The update is a single-document transaction: readers
// see the old set or the new set, never a partial one, and queries against
// other documents are not blocked beyond the store's short writer lock.
func (s *Store) SetTags(docID int64, tags ...string) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		if err := documentExists(tx, docID); err != nil {
			return err
		}
		for _, tag := range tags {
			if tag == "" {
				continue
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO document_tags(document_id, tag) VALUES(?, ?)`, docID, tag); err != nil {
				return fmt.Errorf("set tag %q on document %d: %w", tag, docID, err)
			}
		}
		return nil
	})
}

// ClearTags removes tags from one document's tag set. Clearing an absent tag
// is a no-op success.
func (s *Store) ClearTags(docID int64, tags ...string) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		if err := documentExists(tx, docID); err != nil {
			return err
		}
		for _, tag := range tags {
			if _, err := tx.Exec(`DELETE FROM document_tags WHERE document_id = ? AND tag = ?`, docID, tag); err != nil {
				return fmt.Errorf("clear tag %q on document %d: %w", tag, docID, err)
			}
		}
		return nil
	})
}

// TagsFor returns the current tag set of one document.
func (s *Store) TagsFor(docID int64) ([]string, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE id = ?`, docID).Scan(&n); err != nil {
		return nil, fmt.Errorf("check document %d: %w", docID, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.stringsFor(`SELECT tag FROM document_tags WHERE document_id = ? ORDER BY tag`, docID)
}

// AllTags snapshots every tag set keyed by message identifier. The builder
// uses this to carry tags forward across a full rebuild of the same archive.
func (s *Store) AllTags() (map[string][]string, error) {
	rows, err := s.db.Query(`
		SELECT d.message_id, t.tag
		FROM document_tags t
		JOIN documents d ON d.id = t.document_id
		WHERE d.message_id != ''
		ORDER BY d.message_id, t.tag`)
	if err != nil {
		return nil, fmt.Errorf("snapshot tags: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var msgID, tag string
		if err := rows.Scan(&msgID, &tag); err != nil {
			return nil, fmt.Errorf("scan tag snapshot: %w", err)
		}
		out[msgID] = append(out[msgID], tag)
	}
	return out, rows.Err()
}

func documentExists(tx *sql.Tx, docID int64) error {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM documents WHERE id = ?`, docID).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check document %d: %w", docID, err)
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	return nil
}
