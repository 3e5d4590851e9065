package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cameronkerrnz/sriracha/internal/mbox"
)

// Document is the indexed projection of one envelope plus its range and
// mutable tag set. Envelope-derived fields are never updated in place: any
// change to them requires re-indexing the range.
type Document struct {
	ID        int64
	MessageID string
	Range     mbox.Range
	DateUnix  int64

	Subject         string
	Sender          string // display form, e.g. "Alice <alice@example.com>"
	RecipientsTo    string
	RecipientsCc    string
	AttachmentNames string
	HasAttachments  bool
	Truncated       bool

	// Body and AttachmentText feed the full-text index only; point lookups
	// do not read them back (raw bytes come from the archive).
	Body           string
	AttachmentText string

	// DecodeFlags names envelope fields that decoded degraded or failed.
	DecodeFlags []string

	Labels []string
	Tags   []string
}

// InsertDocument inserts one document atomically: the typed row, its labels,
// its full-text row, and any carried-forward tags commit together, so a
// concurrent reader sees either the whole document or nothing.
func (s *Store) InsertDocument(doc *Document) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO documents (
				message_id, range_offset, range_length, date_unix,
				subject, sender, recipients_to, recipients_cc,
				attachment_names, has_attachments, truncated, decode_flags
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.MessageID, doc.Range.Offset, doc.Range.Length, doc.DateUnix,
			doc.Subject, doc.Sender, doc.RecipientsTo, doc.RecipientsCc,
			doc.AttachmentNames, boolInt(doc.HasAttachments), boolInt(doc.Truncated),
			strings.Join(doc.DecodeFlags, ","),
		)
		if err != nil {
			return fmt.Errorf("insert document at offset %d: %w", doc.Range.Offset, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("document id: %w", err)
		}
		doc.ID = id

		if s.fts5 {
			if _, err := tx.Exec(`
				INSERT INTO documents_fts (
					rowid, subject, body, sender, recipients_to, recipients_cc,
					attachment_names, attachment_text
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, doc.Subject, doc.Body, doc.Sender, doc.RecipientsTo,
				doc.RecipientsCc, doc.AttachmentNames, doc.AttachmentText,
			); err != nil {
				return fmt.Errorf("insert fts row %d: %w", id, err)
			}
		}

		for _, label := range doc.Labels {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO document_labels(document_id, label) VALUES(?, ?)`, id, label); err != nil {
				return fmt.Errorf("insert label %q: %w", label, err)
			}
		}
		for _, tag := range doc.Tags {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO document_tags(document_id, tag) VALUES(?, ?)`, id, tag); err != nil {
				return fmt.Errorf("insert tag %q: %w", tag, err)
			}
		}
		return nil
	})
}

// DeleteAllDocuments wipes every document, label, tag, and full-text row.
// Used at the start of a full rebuild.
func (s *Store) DeleteAllDocuments() error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM document_tags`,
			`DELETE FROM document_labels`,
			`DELETE FROM documents`,
		}
		if s.fts5 {
			stmts = append(stmts, `DELETE FROM documents_fts`)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	})
}

// DeleteDocumentsFrom removes every document whose range starts at or past
// the given offset. An update calls this before scanning so rows committed by
// an interrupted run cannot collide with the rescan. FTS rows are cleaned up
// explicitly (no FK cascade for virtual tables); labels and tags cascade.
func (s *Store) DeleteDocumentsFrom(offset int64) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		if s.fts5 {
			if _, err := tx.Exec(`
				DELETE FROM documents_fts
				WHERE rowid IN (SELECT id FROM documents WHERE range_offset >= ?)`, offset); err != nil {
				return fmt.Errorf("delete fts rows from offset %d: %w", offset, err)
			}
		}
		if _, err := tx.Exec(`DELETE FROM documents WHERE range_offset >= ?`, offset); err != nil {
			return fmt.Errorf("delete documents from offset %d: %w", offset, err)
		}
		return nil
	})
}

const documentColumns = `
	id, message_id, range_offset, range_length, date_unix,
	subject, sender, recipients_to, recipients_cc,
	attachment_names, has_attachments, truncated, decode_flags`

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var hasAtt, trunc int
	var flags string
	err := row.Scan(
		&d.ID, &d.MessageID, &d.Range.Offset, &d.Range.Length, &d.DateUnix,
		&d.Subject, &d.Sender, &d.RecipientsTo, &d.RecipientsCc,
		&d.AttachmentNames, &hasAtt, &trunc, &flags,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.HasAttachments = hasAtt != 0
	d.Truncated = trunc != 0
	if flags != "" {
		d.DecodeFlags = strings.Split(flags, ",")
	}
	return &d, nil
}

// GetByMessageID returns the document for a message identifier. When
// identifiers collide, the earliest range wins (callers needing a specific
// occurrence should look up by range).
func (s *Store) GetByMessageID(messageID string) (*Document, error) {
	row := s.db.QueryRow(`SELECT`+documentColumns+`
		FROM documents WHERE message_id = ? ORDER BY range_offset LIMIT 1`, messageID)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, err
	}
	return s.attachOverlay(doc)
}

// GetByRange returns the document for an exact range offset.
func (s *Store) GetByRange(rng mbox.Range) (*Document, error) {
	row := s.db.QueryRow(`SELECT`+documentColumns+`
		FROM documents WHERE range_offset = ?`, rng.Offset)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, err
	}
	return s.attachOverlay(doc)
}

func (s *Store) attachOverlay(doc *Document) (*Document, error) {
	var err error
	if doc.Labels, err = s.stringsFor(`SELECT label FROM document_labels WHERE document_id = ? ORDER BY label`, doc.ID); err != nil {
		return nil, err
	}
	if doc.Tags, err = s.stringsFor(`SELECT tag FROM document_tags WHERE document_id = ? ORDER BY tag`, doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) stringsFor(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// NameCount is a label or tag with its document count.
type NameCount struct {
	Name  string
	Count int64
}

// ListLabels returns the archive's native labels with document counts,
// sorted by count descending.
func (s *Store) ListLabels() ([]NameCount, error) {
	return s.nameCounts(`SELECT label, COUNT(*) FROM document_labels GROUP BY label ORDER BY COUNT(*) DESC, label`)
}

// ListTags returns user tags with document counts, sorted by count descending.
func (s *Store) ListTags() ([]NameCount, error) {
	return s.nameCounts(`SELECT tag, COUNT(*) FROM document_tags GROUP BY tag ORDER BY COUNT(*) DESC, tag`)
}

func (s *Store) nameCounts(query string) ([]NameCount, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()
	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
