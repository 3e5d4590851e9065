package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cameronkerrnz/sriracha/internal/index"
	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/testutil"
)

func newTestStore(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Create(filepath.Join(t.TempDir(), "idx.sriracha.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeArchive(t *testing.T, messages ...*testutil.MessageBuilder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.mbox")
	testutil.WriteMbox(t, path, messages...)
	return path
}

func TestBuild_IndexesAllMessages(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("one@example.com").WithSubject("First message"),
		testutil.NewMessage("two@example.com").WithSubject("Second message").WithLabels("INBOX", "Work"),
		testutil.NewMessage("three@example.com").WithSubject("Third message"),
	)
	store := newTestStore(t)

	summary, err := Build(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if summary.MessagesIndexed != 3 {
		t.Errorf("MessagesIndexed = %d, want 3", summary.MessagesIndexed)
	}

	fi, err := os.Stat(archive)
	if err != nil {
		t.Fatal(err)
	}
	if summary.EndOffset != fi.Size() {
		t.Errorf("EndOffset = %d, want archive size %d", summary.EndOffset, fi.Size())
	}

	doc, err := store.GetByMessageID("two@example.com")
	if err != nil {
		t.Fatalf("GetByMessageID: %v", err)
	}
	if doc.Subject != "Second message" {
		t.Errorf("subject = %q", doc.Subject)
	}
	if len(doc.Labels) != 2 {
		t.Errorf("labels = %v, want INBOX and Work", doc.Labels)
	}

	meta, err := store.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", meta.DocumentCount)
	}
	if meta.PrefixSHA256 == "" {
		t.Error("prefix hash not recorded")
	}
}

func TestBuild_RangesReproduceArchiveBytes(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("a@example.com").WithBody("line one\nFrom here it continues\n"),
		testutil.NewMessage("b@example.com"),
	)
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	doc, err := store.GetByMessageID("a@example.com")
	if err != nil {
		t.Fatalf("GetByMessageID: %v", err)
	}
	raw, err := mbox.ReadRange(f, doc.Range)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	// The writer escaped the body "From " line; the stored range must
	// reproduce the escaped file bytes, not the logical message.
	if want := ">From here it continues"; !containsLine(raw, want) {
		t.Errorf("range bytes missing escaped line %q:\n%s", want, raw)
	}
}

func containsLine(raw []byte, line string) bool {
	for _, l := range splitLines(raw) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(raw []byte) []string {
	var out []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			out = append(out, string(raw[start:i]))
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, string(raw[start:]))
	}
	return out
}

func TestBuild_CancellationLeavesCompleteDocuments(t *testing.T) {
	var messages []*testutil.MessageBuilder
	for i := 0; i < 50; i++ {
		messages = append(messages, testutil.NewMessage(
			"msg-"+string(rune('a'+i%26))+"@example.com").WithSubject("Message"))
	}
	archive := writeArchive(t, messages...)
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	canceled := false
	opts := Options{Progress: func(p Progress) {
		if p.Messages >= 5 && !canceled {
			canceled = true
			cancel()
		}
	}}

	summary, err := Build(ctx, store, archive, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Build err = %v, want context.Canceled", err)
	}

	// Whatever was inserted must be complete documents, stamped into the
	// header so they stay queryable.
	meta, err := store.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.ArchivePath == "" {
		t.Fatal("header not stamped after cancellation")
	}
	if meta.DocumentCount == 0 || meta.DocumentCount >= 50 {
		t.Errorf("DocumentCount = %d, want a strict subset", meta.DocumentCount)
	}
	if meta.EndOffset != summary.EndOffset || meta.EndOffset == 0 {
		t.Errorf("EndOffset = %d (summary %d), want committed prefix", meta.EndOffset, summary.EndOffset)
	}
	if _, err := store.GetByMessageID("msg-a@example.com"); err != nil {
		t.Errorf("committed document not readable: %v", err)
	}

	// A fresh full build on the same archive reaches the full document set.
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("restart build: %v", err)
	}
	meta, err = store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.DocumentCount != 50 {
		t.Errorf("DocumentCount after restart = %d, want 50", meta.DocumentCount)
	}
}

func TestBuild_CancelledBuildIsQueryableAndResumable(t *testing.T) {
	var messages []*testutil.MessageBuilder
	for i := 0; i < 40; i++ {
		messages = append(messages, testutil.NewMessage(
			"part-"+string(rune('a'+i%26))+"@example.com").WithSubject("Partial build"))
	}
	archive := writeArchive(t, messages...)
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	canceled := false
	_, err := Build(ctx, store, archive, Options{Progress: func(p Progress) {
		if p.Messages >= 10 && !canceled {
			canceled = true
			cancel()
		}
	}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Build err = %v, want context.Canceled", err)
	}

	// The stamped fingerprint matches the live archive, so the partial
	// index is not stale and an update indexes only the remainder.
	fp, err := mbox.TakeFingerprint(archive)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Fingerprint.Equal(fp) {
		t.Error("stamped fingerprint differs from live archive")
	}
	committed := meta.DocumentCount

	summary, err := Update(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("Update after cancelled build: %v", err)
	}
	if summary.MessagesIndexed != 40-committed {
		t.Errorf("MessagesIndexed = %d, want %d", summary.MessagesIndexed, 40-committed)
	}
	meta, err = store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.DocumentCount != 40 {
		t.Errorf("DocumentCount = %d, want 40", meta.DocumentCount)
	}
}

func TestBuild_RebuildCarriesTagsForward(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("keep@example.com").WithSubject("Tagged"),
		testutil.NewMessage("other@example.com"),
	)
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("first build: %v", err)
	}

	doc, err := store.GetByMessageID("keep@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTags(doc.ID, "reviewed", "important"); err != nil {
		t.Fatalf("SetTags: %v", err)
	}

	summary, err := Build(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if summary.TagsCarried != 2 {
		t.Errorf("TagsCarried = %d, want 2", summary.TagsCarried)
	}

	doc, err = store.GetByMessageID("keep@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tags) != 2 {
		t.Errorf("tags after rebuild = %v, want [important reviewed]", doc.Tags)
	}
}

func TestUpdate_IndexesAppendedMessagesOnly(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("old1@example.com"),
		testutil.NewMessage("old2@example.com"),
	)
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	doc, err := store.GetByMessageID("old1@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTags(doc.ID, "keepme"); err != nil {
		t.Fatal(err)
	}

	testutil.AppendMbox(t, archive,
		testutil.NewMessage("new1@example.com").WithSubject("Appended"),
	)

	summary, err := Update(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if summary.MessagesIndexed != 1 {
		t.Errorf("MessagesIndexed = %d, want 1 (appended only)", summary.MessagesIndexed)
	}

	meta, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", meta.DocumentCount)
	}

	// Existing documents and their tags are untouched by an update.
	doc, err = store.GetByMessageID("old1@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tags) != 1 || doc.Tags[0] != "keepme" {
		t.Errorf("tags = %v, want [keepme]", doc.Tags)
	}

	if _, err := store.GetByMessageID("new1@example.com"); err != nil {
		t.Errorf("appended message not indexed: %v", err)
	}
}

func TestUpdate_RerunAfterCancelledUpdateSucceeds(t *testing.T) {
	archive := writeArchive(t, testutil.NewMessage("base@example.com"))
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var appended []*testutil.MessageBuilder
	for i := 0; i < 20; i++ {
		appended = append(appended, testutil.NewMessage(
			"appended-"+string(rune('a'+i))+"@example.com"))
	}
	testutil.AppendMbox(t, archive, appended...)

	ctx, cancel := context.WithCancel(context.Background())
	canceled := false
	_, err := Update(ctx, store, archive, Options{Progress: func(p Progress) {
		if p.Messages >= 3 && !canceled {
			canceled = true
			cancel()
		}
	}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Update err = %v, want context.Canceled", err)
	}

	// The documented recovery is simply running update again; it must pick
	// up where the interrupted run stopped instead of colliding with rows
	// that run already committed.
	if _, err := Update(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("rerun Update: %v", err)
	}
	meta, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.DocumentCount != 21 {
		t.Errorf("DocumentCount = %d, want 21", meta.DocumentCount)
	}
	fi, err := os.Stat(archive)
	if err != nil {
		t.Fatal(err)
	}
	if meta.EndOffset != fi.Size() {
		t.Errorf("EndOffset = %d, want archive size %d", meta.EndOffset, fi.Size())
	}
}

func TestUpdate_NoNewDataRefreshesFingerprint(t *testing.T) {
	archive := writeArchive(t, testutil.NewMessage("only@example.com"))
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Touch the file without changing content.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(archive, future, future); err != nil {
		t.Fatal(err)
	}

	summary, err := Update(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if summary.MessagesIndexed != 0 {
		t.Errorf("MessagesIndexed = %d, want 0", summary.MessagesIndexed)
	}

	fp, err := mbox.TakeFingerprint(archive)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Fingerprint.Equal(fp) {
		t.Error("fingerprint not refreshed")
	}
}

func TestUpdate_MutatedPrefixIsRejected(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("one@example.com").WithSubject("Original subject"),
		testutil.NewMessage("two@example.com"),
	)
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite a byte inside the indexed prefix, keeping the size identical.
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	mutated := []byte(string(data))
	copy(mutated[100:], []byte("X"))
	if err := os.WriteFile(archive, mutated, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Update(context.Background(), store, archive, Options{})
	if !errors.Is(err, ErrAmbiguousUpdate) {
		t.Fatalf("Update err = %v, want ErrAmbiguousUpdate", err)
	}

	// The refused update must leave the index untouched.
	after, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if after.DocumentCount != before.DocumentCount || after.EndOffset != before.EndOffset {
		t.Errorf("index modified by refused update: before=%+v after=%+v", before, after)
	}
}

func TestUpdate_ShrunkenArchiveIsRejected(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("one@example.com"),
		testutil.NewMessage("two@example.com"),
	)
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, archive, Options{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Update(context.Background(), store, archive, Options{})
	if !errors.Is(err, ErrAmbiguousUpdate) {
		t.Fatalf("Update err = %v, want ErrAmbiguousUpdate", err)
	}
}

func TestBuild_TruncatedFinalMessageIsIndexedAndFlagged(t *testing.T) {
	archive := writeArchive(t, testutil.NewMessage("whole@example.com"))
	// Simulate an interrupted delivery: partial message, no trailing newline.
	partial := testutil.NewMessage("partial@example.com").WithBody("cut off mid").String()
	partial = partial[:len(partial)-1]
	f, err := os.OpenFile(archive, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(partial); err != nil {
		t.Fatal(err)
	}
	f.Close()

	store := newTestStore(t)
	summary, err := Build(context.Background(), store, archive, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if summary.MessagesIndexed != 2 {
		t.Fatalf("MessagesIndexed = %d, want 2", summary.MessagesIndexed)
	}
	if summary.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", summary.Truncated)
	}

	doc, err := store.GetByMessageID("partial@example.com")
	if err != nil {
		t.Fatalf("GetByMessageID: %v", err)
	}
	if !doc.Truncated {
		t.Error("truncated message not flagged")
	}
}

func TestBuild_NonMboxFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notmail.txt")
	if err := os.WriteFile(path, []byte("just some text\nwith lines\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)
	if _, err := Build(context.Background(), store, path, Options{}); err == nil {
		t.Fatal("Build accepted a non-mbox file")
	}
}

func TestBuild_ProgressReportsByteEstimate(t *testing.T) {
	archive := writeArchive(t,
		testutil.NewMessage("one@example.com"),
		testutil.NewMessage("two@example.com"),
	)
	store := newTestStore(t)

	var last Progress
	_, err := Build(context.Background(), store, archive, Options{Progress: func(p Progress) { last = p }})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if last.Messages != 2 {
		t.Errorf("final progress messages = %d, want 2", last.Messages)
	}
	if last.TotalBytes == 0 || last.Bytes != last.TotalBytes {
		t.Errorf("final progress bytes = %d/%d, want full consumption", last.Bytes, last.TotalBytes)
	}
}
