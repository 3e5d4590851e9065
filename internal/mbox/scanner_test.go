package mbox

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestScanner_Next_RangesCoverStream(t *testing.T) {
	mboxData := strings.Join([]string{
		"From alice@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"Body1",
		"",
		"From bob@example.com Mon Jun 3 12:30:00 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	}, "\n")

	s := NewScanner(strings.NewReader(mboxData))

	var records []*Record
	for {
		rec, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Range.Offset != 0 {
		t.Errorf("first range should start at 0, got %d", records[0].Range.Offset)
	}
	if records[0].Range.End() != records[1].Range.Offset {
		t.Errorf("ranges must be contiguous: first ends at %d, second starts at %d",
			records[0].Range.End(), records[1].Range.Offset)
	}
	if got := records[1].Range.End(); got != int64(len(mboxData)) {
		t.Errorf("last range should end at stream end %d, got %d", len(mboxData), got)
	}

	// Raw must reproduce the exact file bytes of each range.
	for i, rec := range records {
		want := mboxData[rec.Range.Offset:rec.Range.End()]
		if string(rec.Raw) != want {
			t.Errorf("record %d raw mismatch:\ngot:  %q\nwant: %q", i, rec.Raw, want)
		}
	}
}

func TestScanner_Next_DoesNotUnescapeBodyLines(t *testing.T) {
	mboxData := strings.Join([]string{
		"From alice@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		">From escaped body line",
		">>From doubly escaped",
		"",
	}, "\n")

	s := NewScanner(strings.NewReader(mboxData))
	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	raw := string(rec.Raw)
	if !strings.Contains(raw, ">From escaped body line\n") {
		t.Errorf("scanner must not unescape, got raw:\n%s", raw)
	}
	if !strings.Contains(raw, ">>From doubly escaped\n") {
		t.Errorf("scanner must not unescape, got raw:\n%s", raw)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("escaped lines must not split the message, got: %v", err)
	}
}

func TestScanner_Next_MarkerInContentIsNotBoundary(t *testing.T) {
	// "From " at start of a body line without a parseable date is content,
	// not a separator.
	mboxData := strings.Join([]string{
		"From alice@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"From my point of view this is fine",
		"",
	}, "\n")

	s := NewScanner(strings.NewReader(mboxData))
	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if !strings.Contains(string(rec.Raw), "From my point of view") {
		t.Errorf("body line lost: %q", rec.Raw)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected single message, got: %v", err)
	}
}

func TestScanner_Next_TruncatedFinalMessage(t *testing.T) {
	mboxData := "From alice@example.com Mon Jan 1 00:00:00 2024\n" +
		"Subject: Interrupted\n" +
		"\n" +
		"partial body with no trailing newl" // interrupted write

	s := NewScanner(strings.NewReader(mboxData))
	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if !rec.Truncated {
		t.Errorf("expected Truncated for interrupted final record")
	}
	if got := rec.Range.End(); got != int64(len(mboxData)) {
		t.Errorf("partial range should still cover to EOF: end %d, want %d", got, len(mboxData))
	}
}

func TestUnescapeFrom(t *testing.T) {
	in := []byte(">From one\n>>From two\n>not from\nFrom sender@example.com Mon Jan 1 00:00:00 2024\n")
	got := string(UnescapeFrom(in))
	want := "From one\n>From two\n>not from\nFrom sender@example.com Mon Jan 1 00:00:00 2024\n"
	if got != want {
		t.Errorf("UnescapeFrom:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestReadRange_RoundTrip(t *testing.T) {
	mboxData := strings.Join([]string{
		"From alice@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		"Body1",
		"",
		"From bob@example.com Mon Jun 3 12:30:00 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	}, "\n")

	s := NewScanner(strings.NewReader(mboxData))
	first, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}

	got, err := ReadRange(bytes.NewReader([]byte(mboxData)), first.Range)
	if err != nil {
		t.Fatalf("ReadRange(): %v", err)
	}
	if !bytes.Equal(got, first.Raw) {
		t.Errorf("ReadRange not byte-identical to scanned record:\ngot:  %q\nwant: %q", got, first.Raw)
	}
}

func TestScanner_Offset_AfterSeek(t *testing.T) {
	pre := "From alice@example.com Mon Jan 1 00:00:00 2024\nSubject: A\n\nB\n"
	post := "From bob@example.com Mon Jun 3 12:30:00 2024\nSubject: B\n\nC\n"
	r := strings.NewReader(pre + post)
	if _, err := r.Seek(int64(len(pre)), io.SeekStart); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(r)
	rec, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if rec.Range.Offset != int64(len(pre)) {
		t.Errorf("range offset should be absolute after Seek: got %d, want %d", rec.Range.Offset, len(pre))
	}
}

func TestValidate(t *testing.T) {
	good := "garbage leading line\nFrom a@b.c Mon Jan 1 00:00:00 2024\n"
	if err := Validate(strings.NewReader(good), 1<<20); err != nil {
		t.Errorf("Validate(good): %v", err)
	}
	if err := Validate(strings.NewReader("not an mbox at all\n"), 1<<20); err == nil {
		t.Errorf("Validate should reject stream without separators")
	}
}

func TestParseFromSeparatorDate(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
	}{
		{"From alice@example.com Mon Jan 1 00:00:00 2024", true},
		{"From - Sat Feb 10 09:08:07 2018", true},
		{"From alice@example.com Mon Jan 1 00:00:00 2024 remote from host", true},
		{"From my point of view this is fine", false},
		{"From the archives", false},
	}
	for _, tc := range cases {
		if _, ok := ParseFromSeparatorDate(tc.line); ok != tc.ok {
			t.Errorf("ParseFromSeparatorDate(%q) = %v, want %v", tc.line, ok, tc.ok)
		}
	}
}
