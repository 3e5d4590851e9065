package mbox

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTakeFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mbox")
	if err := os.WriteFile(path, []byte("From a@b Mon Jan  2 15:04:05 2023\n\nhi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fp, err := TakeFingerprint(path)
	if err != nil {
		t.Fatalf("TakeFingerprint: %v", err)
	}
	if fp.Size != 38 {
		t.Errorf("Size = %d, want 38", fp.Size)
	}
	if fp.ModTime == 0 {
		t.Error("ModTime is zero")
	}

	again, err := TakeFingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fp.Equal(again) {
		t.Errorf("fingerprints differ for unchanged file: %+v vs %+v", fp, again)
	}

	if err := os.WriteFile(path, []byte("From a@b Mon Jan  2 15:04:05 2023\n\nhi there\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := TakeFingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if fp.Equal(changed) {
		t.Error("fingerprint unchanged after rewrite")
	}
}

func TestTakeFingerprint_Missing(t *testing.T) {
	_, err := TakeFingerprint(filepath.Join(t.TempDir(), "absent.mbox"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestHashPrefix(t *testing.T) {
	content := "From a@b Mon Jan  2 15:04:05 2023\n\nbody\n"
	r := strings.NewReader(content + "trailing data not covered")

	got, err := HashPrefix(r, int64(len(content)))
	if err != nil {
		t.Fatalf("HashPrefix: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("HashPrefix = %s, want %s", got, want)
	}

	// The hash covers only the prefix, so appended data must not change it.
	longer, err := HashPrefix(strings.NewReader(content+"even more"), int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if longer != got {
		t.Error("prefix hash changed when only appended data differed")
	}
}
