// Package archive is the top-level handle on one mbox archive and its index:
// opening, building, searching, retrieval, and tagging flow through a Session.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cameronkerrnz/sriracha/internal/builder"
	"github.com/cameronkerrnz/sriracha/internal/index"
	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/query"
	"github.com/cameronkerrnz/sriracha/internal/retrieve"
	"github.com/cameronkerrnz/sriracha/internal/search"
)

// ErrNoIndex reports an operation that needs an index on an archive that has
// none (or whose index has an incompatible schema version).
var ErrNoIndex = errors.New("archive has no usable index; build one first")

// Session is an open archive plus its index, if one exists. The archive file
// stays open read-only for the session's lifetime so ranges resolved during
// the session read consistent bytes even if the file is replaced on disk.
type Session struct {
	path      string
	indexPath string
	f         *os.File

	store  *index.Store
	engine *query.Engine

	log *slog.Logger
}

// Options configures Open.
type Options struct {
	// IndexPath overrides the derived index location.
	IndexPath string

	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Open opens an archive for use. The archive must exist; the index is
// optional. An index written with a different schema version is treated as
// absent, never silently misread.
func Open(path string, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory, not an mbox archive", absPath)
	}

	s := &Session{
		path:      absPath,
		indexPath: opts.IndexPath,
		f:         f,
		log:       log,
	}
	if s.indexPath == "" {
		s.indexPath = index.PathFor(absPath)
	}

	store, err := index.Open(s.indexPath)
	switch {
	case err == nil:
		s.store = store
		s.engine = query.New(store)
		s.warnIfNoFTS()
	case errors.Is(err, os.ErrNotExist):
		// No index yet; searchless operations still work.
	case errors.Is(err, index.ErrSchemaVersion):
		log.Warn("index schema version mismatch; treating as absent", "index", s.indexPath)
	default:
		f.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the archive file and the index.
func (s *Session) Close() error {
	var firstErr error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			firstErr = err
		}
		s.store = nil
		s.engine = nil
	}
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Path returns the archive path.
func (s *Session) Path() string { return s.path }

// IndexPath returns where the index lives (or would live).
func (s *Session) IndexPath() string { return s.indexPath }

// IndexPresent reports whether a usable index was found on open or has been
// built during the session.
func (s *Session) IndexPresent() bool { return s.store != nil }

// FullTextAvailable reports whether text queries run against the FTS5 index.
// SQLite builds without the fts5 module degrade to substring search.
func (s *Session) FullTextAvailable() bool {
	return s.store != nil && s.store.FTS5Available()
}

func (s *Session) warnIfNoFTS() {
	if s.store != nil && !s.store.FTS5Available() {
		s.log.Warn("sqlite driver lacks the fts5 module; text queries degrade to substring search on stored fields (rebuild the binary with -tags sqlite_fts5)",
			"index", s.indexPath)
	}
}

// Stale reports whether the index's stored fingerprint no longer matches the
// archive on disk. A stale index still exists; queries against it refuse.
func (s *Session) Stale() (bool, error) {
	if s.store == nil {
		return false, ErrNoIndex
	}
	meta, err := s.store.Meta()
	if err != nil {
		return false, err
	}
	if meta.ArchivePath == "" {
		// Created but never built to completion.
		return true, nil
	}
	fp, err := mbox.TakeFingerprint(s.path)
	if err != nil {
		return false, fmt.Errorf("fingerprint archive: %w", err)
	}
	return !meta.Fingerprint.Equal(fp), nil
}

// Build constructs the index from scratch, creating the index file if needed.
// An existing index's user tags are carried forward by message identifier.
func (s *Session) Build(ctx context.Context, opts builder.Options) (*builder.Summary, error) {
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	if s.store == nil {
		store, err := index.Create(s.indexPath)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.engine = query.New(store)
		s.warnIfNoFTS()
	}
	return builder.Build(ctx, s.store, s.path, opts)
}

// Update extends the index across an append-only archive change. A mutated
// prefix surfaces as builder.ErrAmbiguousUpdate with the index untouched.
func (s *Session) Update(ctx context.Context, opts builder.Options) (*builder.Summary, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	return builder.Update(ctx, s.store, s.path, opts)
}

// ensureFresh refuses operations that would serve answers from an index that
// no longer describes the archive.
func (s *Session) ensureFresh() error {
	stale, err := s.Stale()
	if err != nil {
		return err
	}
	if stale {
		return fmt.Errorf("%s: %w", s.path, index.ErrStale)
	}
	return nil
}

// Search parses and evaluates a query. Malformed queries return a
// *search.QueryError; a stale index returns index.ErrStale.
func (s *Session) Search(ctx context.Context, queryStr string, filters search.Filters, limit, offset int) ([]query.Reference, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}
	q, err := search.Parse(queryStr)
	if err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, q, filters, limit, offset)
}

// Resolve maps a message identifier (with or without angle brackets) to its
// indexed document. Unknown identifiers return index.ErrNotFound.
func (s *Session) Resolve(identifier string) (*index.Document, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}
	id := strings.Trim(strings.TrimSpace(identifier), "<>")
	return s.store.GetByMessageID(id)
}

// Raw returns the message's exact archive bytes, read fresh from the file.
func (s *Session) Raw(identifier string) ([]byte, error) {
	doc, err := s.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return retrieve.Fetch(s.f, doc.Range)
}

// RawAt returns the exact bytes of a known range without an index lookup.
func (s *Session) RawAt(rng mbox.Range) ([]byte, error) {
	return retrieve.Fetch(s.f, rng)
}

// Export streams a message's verbatim bytes to w.
func (s *Session) Export(identifier string, w io.Writer) error {
	doc, err := s.Resolve(identifier)
	if err != nil {
		return err
	}
	return retrieve.Export(s.f, doc.Range, w)
}

// SetTags adds tags to a message. Results are visible to queries that start
// after this call returns.
func (s *Session) SetTags(identifier string, tags ...string) error {
	doc, err := s.Resolve(identifier)
	if err != nil {
		return err
	}
	return s.store.SetTags(doc.ID, tags...)
}

// ClearTags removes tags from a message.
func (s *Session) ClearTags(identifier string, tags ...string) error {
	doc, err := s.Resolve(identifier)
	if err != nil {
		return err
	}
	return s.store.ClearTags(doc.ID, tags...)
}

// Tags returns a message's current tag set.
func (s *Session) Tags(identifier string) ([]string, error) {
	doc, err := s.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return s.store.TagsFor(doc.ID)
}

// Labels returns the archive's native labels with document counts.
func (s *Session) Labels() ([]index.NameCount, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	return s.store.ListLabels()
}

// TagList returns all user tags with document counts.
func (s *Session) TagList() ([]index.NameCount, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	return s.store.ListTags()
}

// Meta returns the index header.
func (s *Session) Meta() (*index.Meta, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	return s.store.Meta()
}

// Stats returns index statistics.
func (s *Session) Stats() (*index.Stats, error) {
	if s.store == nil {
		return nil, ErrNoIndex
	}
	return s.store.GetStats()
}
