// Package builder constructs the index for an archive: a full build scans
// every message, an update extends an existing index across an append-only
// change. The archive is never written; all output goes to the index store.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cameronkerrnz/sriracha/internal/index"
	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/mime"
)

// ErrAmbiguousUpdate reports that the archive changed before the previously
// indexed end offset, so the incremental path cannot tell which documents are
// still valid. The index is left untouched; a full build is required.
var ErrAmbiguousUpdate = errors.New("archive modified before indexed offset; full rebuild required")

const (
	defaultMaxMessageBytes int64 = 128 << 20 // 128 MiB
	validateScanBytes      int64 = 8 << 20
)

type Options struct {
	// MaxMessageBytes limits a single message read from the archive.
	// If zero, a default of 128 MiB is used.
	MaxMessageBytes int64

	// Progress, if non-nil, is called after each indexed message.
	Progress func(Progress)

	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Progress is a point-in-time snapshot of a running build. Bytes/TotalBytes
// gives a completion estimate; message totals are unknowable up front.
type Progress struct {
	Messages   int64
	Bytes      int64 // archive bytes consumed so far
	TotalBytes int64 // archive size at the start of the build
}

type Summary struct {
	MessagesIndexed int64
	Degraded        int64 // messages with at least one degraded field
	Truncated       int64
	TagsCarried     int64 // tags reapplied across a rebuild
	EndOffset       int64
	Duration        time.Duration
	Diagnostics     []string
}

// Build indexes the whole archive from scratch. Any existing documents in the
// store are discarded first; user tags are snapshotted by message identifier
// and reapplied to matching messages in the new build.
//
// Cancellation stops between messages: every document already inserted is
// complete, and the header is stamped with the end of the committed prefix,
// so the partial index stays queryable and a later update picks up where the
// build stopped.
func Build(ctx context.Context, store *index.Store, archivePath string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	if fi.Size() > 0 {
		if err := mbox.Validate(f, validateScanBytes); err != nil {
			return nil, fmt.Errorf("validate %s: %w", absPath, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek archive: %w", err)
		}
	}

	carried, err := store.AllTags()
	if err != nil {
		return nil, fmt.Errorf("snapshot tags: %w", err)
	}
	if err := store.DeleteAllDocuments(); err != nil {
		return nil, fmt.Errorf("clear index: %w", err)
	}

	summary := &Summary{}
	endOffset, err := indexStream(ctx, store, f, fi.Size(), carried, opts, summary)
	summary.EndOffset = endOffset
	if err != nil {
		if isCancellation(err) {
			// Stamp the committed prefix so the partial index stays
			// queryable and an update can resume from here.
			if herr := writeHeader(store, f, absPath, endOffset, summary.Diagnostics); herr != nil {
				return summary, herr
			}
		}
		return summary, err
	}

	if err := writeHeader(store, f, absPath, endOffset, summary.Diagnostics); err != nil {
		return summary, err
	}
	summary.Duration = time.Since(start)

	log.Info("build complete",
		"archive", absPath,
		"messages", summary.MessagesIndexed,
		"degraded", summary.Degraded,
		"tags_carried", summary.TagsCarried,
		"duration", summary.Duration)
	return summary, nil
}

// Update extends the index across an append-only archive change. The prefix
// up to the previously indexed end offset is re-hashed; any difference means
// the existing documents cannot be trusted and the update is refused with
// ErrAmbiguousUpdate, leaving the index untouched.
func Update(ctx context.Context, store *index.Store, archivePath string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	meta, err := store.Meta()
	if err != nil {
		return nil, err
	}
	if meta.ArchivePath == "" {
		return nil, fmt.Errorf("index has never been built; run a full build")
	}

	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	if fi.Size() < meta.EndOffset {
		return nil, fmt.Errorf("archive shrank from %d to %d bytes: %w", meta.EndOffset, fi.Size(), ErrAmbiguousUpdate)
	}
	prefixHash, err := mbox.HashPrefix(f, meta.EndOffset)
	if err != nil {
		return nil, fmt.Errorf("hash indexed prefix: %w", err)
	}
	if prefixHash != meta.PrefixSHA256 {
		return nil, fmt.Errorf("indexed prefix of %s changed: %w", absPath, ErrAmbiguousUpdate)
	}

	summary := &Summary{EndOffset: meta.EndOffset}
	if fi.Size() == meta.EndOffset {
		// Nothing appended; refresh the fingerprint (mtime may have moved).
		if err := writeHeader(store, f, absPath, meta.EndOffset, meta.Diagnostics); err != nil {
			return summary, err
		}
		summary.Duration = time.Since(start)
		log.Info("update: no new data", "archive", absPath)
		return summary, nil
	}

	// Rows past the header's end offset can exist if a previous update was
	// interrupted between its inserts and its header stamp; drop them so the
	// rescan cannot collide with them.
	if err := store.DeleteDocumentsFrom(meta.EndOffset); err != nil {
		return nil, fmt.Errorf("clear unstamped documents: %w", err)
	}

	if _, err := f.Seek(meta.EndOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek archive: %w", err)
	}

	endOffset, err := indexStream(ctx, store, f, fi.Size(), nil, opts, summary)
	summary.EndOffset = endOffset
	diagnostics := append(append([]string{}, meta.Diagnostics...), summary.Diagnostics...)
	if err != nil {
		if isCancellation(err) {
			if herr := writeHeader(store, f, absPath, endOffset, diagnostics); herr != nil {
				return summary, herr
			}
		}
		return summary, err
	}

	if err := writeHeader(store, f, absPath, endOffset, diagnostics); err != nil {
		return summary, err
	}
	summary.Duration = time.Since(start)

	log.Info("update complete",
		"archive", absPath,
		"messages_added", summary.MessagesIndexed,
		"end_offset", endOffset,
		"duration", summary.Duration)
	return summary, nil
}

// indexStream scans messages from f's current position and inserts a document
// per message. Scanning and decoding overlap insertion via a small pipeline.
// Returns the stream offset one past the last consumed message, or, on
// cancellation, one past the last document actually committed.
func indexStream(ctx context.Context, store *index.Store, f *os.File, totalBytes int64, carried map[string][]string, opts Options, summary *Summary) (int64, error) {
	maxBytes := opts.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageBytes
	}

	startOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("stream position: %w", err)
	}
	committed := startOffset

	g, ctx := errgroup.WithContext(ctx)
	records := make(chan *mbox.Record, 64)

	var endOffset int64
	g.Go(func() error {
		defer close(records)
		sc := mbox.NewScannerWithMaxMessageBytes(f, maxBytes)
		for {
			rec, err := sc.Next()
			if err == io.EOF {
				endOffset = sc.Offset()
				return nil
			}
			if err != nil {
				return fmt.Errorf("scan archive: %w", err)
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, problems := documentFor(rec)
			if tags, ok := carried[doc.MessageID]; ok && doc.MessageID != "" {
				doc.Tags = tags
				delete(carried, doc.MessageID)
				summary.TagsCarried += int64(len(tags))
			}
			if err := store.InsertDocument(doc); err != nil {
				return fmt.Errorf("index message at offset %d: %w", rec.Range.Offset, err)
			}
			committed = rec.Range.End()
			summary.MessagesIndexed++
			if len(doc.DecodeFlags) > 0 {
				summary.Degraded++
			}
			if doc.Truncated {
				summary.Truncated++
			}
			for _, p := range problems {
				summary.Diagnostics = append(summary.Diagnostics, fmt.Sprintf("offset %d: %s", rec.Range.Offset, p))
			}
			if opts.Progress != nil {
				opts.Progress(Progress{
					Messages:   summary.MessagesIndexed,
					Bytes:      rec.Range.End(),
					TotalBytes: totalBytes,
				})
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if isCancellation(err) {
			return committed, err
		}
		return 0, err
	}
	return endOffset, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// writeHeader stamps the index with the archive's identity after a
// successful build or update.
func writeHeader(store *index.Store, f *os.File, absPath string, endOffset int64, diagnostics []string) error {
	fp, err := mbox.TakeFingerprint(absPath)
	if err != nil {
		return fmt.Errorf("fingerprint archive: %w", err)
	}
	prefixHash, err := mbox.HashPrefix(f, endOffset)
	if err != nil {
		return fmt.Errorf("hash indexed prefix: %w", err)
	}
	return store.SetBuildMeta(absPath, fp, endOffset, prefixHash, diagnostics)
}

// documentFor projects one scanned record into its indexed document.
func documentFor(rec *mbox.Record) (*index.Document, []string) {
	env := mime.Decode(rec.Raw)

	doc := &index.Document{
		MessageID:    env.MessageID.Value,
		Range:        rec.Range,
		Subject:      env.Subject.Value,
		Sender:       formatAddresses(env.From.Value),
		RecipientsTo: formatAddresses(env.To.Value),
		RecipientsCc: formatAddresses(env.Cc.Value),
		Truncated:    rec.Truncated,
		Body:         env.Body.Value,
		DecodeFlags:  env.DegradedFields(),
		Labels:       env.Labels,
	}

	if env.Date.Status == mime.DecodeOK {
		doc.DateUnix = env.Date.Value.Unix()
	} else if t, ok := mbox.ParseFromSeparatorDate(rec.FromLine); ok {
		// Fall back to the separator line's date so the message still sorts.
		doc.DateUnix = t.Unix()
	}

	if len(env.Attachments) > 0 {
		doc.HasAttachments = true
		names := make([]string, 0, len(env.Attachments))
		var texts []string
		for _, a := range env.Attachments {
			if a.Filename != "" {
				names = append(names, a.Filename)
			}
			if a.Text != "" {
				texts = append(texts, a.Text)
			}
		}
		doc.AttachmentNames = strings.Join(names, ", ")
		doc.AttachmentText = strings.Join(texts, "\n\n")
	}

	return doc, env.Problems
}

// formatAddresses renders an address list in display form for storage and
// search: "Name <email>" entries joined by ", ".
func formatAddresses(addrs []mime.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case a.Name != "" && a.Email != "":
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Email))
		case a.Email != "":
			parts = append(parts, a.Email)
		case a.Name != "":
			parts = append(parts, a.Name)
		}
	}
	return strings.Join(parts, ", ")
}
