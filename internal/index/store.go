// Package index persists the searchable projection of an archive: typed
// document rows, an FTS5 full-text index, the native label set, and the
// mutable tag overlay. The index lives in a single SQLite file beside the
// archive and is always disposable — the archive is the source of truth.
package index

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cameronkerrnz/sriracha/internal/mbox"
)

//go:embed schema.sql schema_fts.sql
var schemaFS embed.FS

// SchemaVersion identifies the on-disk index format. An index written with a
// different version is treated as absent and must be rebuilt; there is no
// migration path.
const SchemaVersion = 1

var (
	// ErrSchemaVersion marks an index written by a different format version.
	ErrSchemaVersion = errors.New("index schema version mismatch; rebuild required")

	// ErrStale marks an index whose stored fingerprint no longer matches the
	// live archive.
	ErrStale = errors.New("index is stale relative to archive")

	// ErrNotFound marks a lookup for a document that is not in the index.
	ErrNotFound = errors.New("document not found")
)

const sqliteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// PathFor derives the index file path for an archive: same directory,
// derived name.
func PathFor(archivePath string) string {
	dir := filepath.Dir(archivePath)
	base := filepath.Base(archivePath)
	return filepath.Join(dir, base+".sriracha.db")
}

// Store is the persisted index for one archive. Reads may proceed
// concurrently; writes are serialized by an internal lock so callers never
// have to coordinate.
type Store struct {
	db     *sql.DB
	dbPath string
	fts5   bool // whether the driver build includes the FTS5 module

	// writeMu enforces the single-writer discipline across the builder and
	// tag mutations.
	writeMu sync.Mutex
}

// isSQLiteError checks if err is a sqlite3.Error whose message contains
// substr. Handles both value and pointer forms of the driver error.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Meta is the stored header checked on open.
type Meta struct {
	ArchivePath   string
	Fingerprint   mbox.Fingerprint
	EndOffset     int64  // end of the indexed prefix of the archive
	PrefixSHA256  string // hash of archive bytes [0, EndOffset)
	BuiltAt       time.Time
	DocumentCount int64
	Diagnostics   []string
}

// Open opens an existing index file. A missing file is ErrNotExist; a
// version mismatch is ErrSchemaVersion — both mean the caller should build.
func Open(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open index %s: %w", dbPath, err)
	}
	s, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	version, err := s.metaInt("schema_version")
	if err != nil || version != SchemaVersion {
		s.Close()
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", dbPath, ErrSchemaVersion)
		}
		return nil, fmt.Errorf("index %s has version %d, want %d: %w", dbPath, version, SchemaVersion, ErrSchemaVersion)
	}
	if err := s.initFTS(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Create creates a fresh, empty index file, replacing any existing one
// (including one with an incompatible schema version).
func Create(dbPath string) (*Store, error) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove old index %s: %w", dbPath+suffix, err)
		}
	}
	s, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		s.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	if err := s.initFTS(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.setMeta("schema_version", strconv.Itoa(SchemaVersion)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// initFTS creates the full-text table when the driver build carries the FTS5
// module. Some builds do not (the module ships behind the sqlite_fts5 build
// tag); those degrade to substring search over the stored columns rather
// than failing, so the flag is re-detected on every open.
func (s *Store) initFTS() error {
	ftsSchema, err := schemaFS.ReadFile("schema_fts.sql")
	if err != nil {
		return fmt.Errorf("read embedded fts schema: %w", err)
	}
	if _, err := s.db.Exec(string(ftsSchema)); err != nil {
		if isSQLiteError(err, "no such module: fts5") {
			s.fts5 = false
			return nil
		}
		return fmt.Errorf("create fts schema: %w", err)
	}
	s.fts5 = true
	return nil
}

// FTS5Available reports whether full-text search is backed by FTS5. When
// false, text queries fall back to substring matching on stored columns.
func (s *Store) FTS5Available() bool {
	return s.fts5
}

func openDB(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+sqliteParams)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index %s: %w", dbPath, err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for the read-only query engine.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the index file path.
func (s *Store) Path() string {
	return s.dbPath
}

// withWriteTx runs fn in a transaction under the writer lock. Rolled back on
// error, committed otherwise.
func (s *Store) withWriteTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Meta returns the stored header. Missing keys yield zero values so a fresh
// index reads as "never built".
func (s *Store) Meta() (*Meta, error) {
	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meta: %w", err)
	}

	m := &Meta{ArchivePath: kv["archive_path"], PrefixSHA256: kv["prefix_sha256"]}
	m.Fingerprint.Size, _ = strconv.ParseInt(kv["fingerprint_size"], 10, 64)
	m.Fingerprint.ModTime, _ = strconv.ParseInt(kv["fingerprint_mtime"], 10, 64)
	m.EndOffset, _ = strconv.ParseInt(kv["end_offset"], 10, 64)
	if v := kv["built_at"]; v != "" {
		m.BuiltAt, _ = time.Parse(time.RFC3339, v)
	}
	if v := kv["diagnostics"]; v != "" {
		_ = json.Unmarshal([]byte(v), &m.Diagnostics)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&m.DocumentCount); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	return m, nil
}

// SetBuildMeta records the header after a successful build or update.
// Diagnostics are capped to keep the header small.
func (s *Store) SetBuildMeta(archivePath string, fp mbox.Fingerprint, endOffset int64, prefixSHA256 string, diagnostics []string) error {
	const maxDiagnostics = 200
	if len(diagnostics) > maxDiagnostics {
		diagnostics = diagnostics[:maxDiagnostics]
	}
	diagJSON, err := json.Marshal(diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	return s.withWriteTx(func(tx *sql.Tx) error {
		entries := map[string]string{
			"archive_path":      archivePath,
			"fingerprint_size":  strconv.FormatInt(fp.Size, 10),
			"fingerprint_mtime": strconv.FormatInt(fp.ModTime, 10),
			"end_offset":        strconv.FormatInt(endOffset, 10),
			"prefix_sha256":     prefixSHA256,
			"built_at":          time.Now().UTC().Format(time.RFC3339),
			"diagnostics":       string(diagJSON),
		}
		for k, v := range entries {
			if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES(?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return fmt.Errorf("set meta %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Store) setMeta(key, value string) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return fmt.Errorf("set meta %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) metaInt(key string) (int, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Stats holds index statistics for the stats command.
type Stats struct {
	DocumentCount int64
	LabelCount    int64
	TagCount      int64
	TaggedCount   int64
	IndexSize     int64
}

// GetStats returns statistics about the index.
func (s *Store) GetStats() (*Stats, error) {
	st := &Stats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM documents`, &st.DocumentCount},
		{`SELECT COUNT(DISTINCT label) FROM document_labels`, &st.LabelCount},
		{`SELECT COUNT(DISTINCT tag) FROM document_tags`, &st.TagCount},
		{`SELECT COUNT(DISTINCT document_id) FROM document_tags`, &st.TaggedCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats %q: %w", q.query, err)
		}
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		st.IndexSize = info.Size()
	}
	return st, nil
}
