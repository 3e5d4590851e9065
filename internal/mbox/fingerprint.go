package mbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint identifies the content state of an archive file. A derived
// index is valid only while the live fingerprint matches the one it was
// built against.
type Fingerprint struct {
	Size    int64
	ModTime int64 // Unix nanoseconds
}

// TakeFingerprint stats the archive and returns its current fingerprint.
func TakeFingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return Fingerprint{Size: info.Size(), ModTime: info.ModTime().UnixNano()}, nil
}

// Equal reports whether two fingerprints describe the same archive state.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.ModTime == other.ModTime
}

// HashPrefix computes the sha256 of the first n bytes of r. Incremental
// updates use this to verify that the previously indexed prefix of the
// archive has not been rewritten.
func HashPrefix(r io.ReaderAt, n int64) (string, error) {
	h := sha256.New()
	sr := io.NewSectionReader(r, 0, n)
	if _, err := io.Copy(h, sr); err != nil {
		return "", fmt.Errorf("hash prefix (%d bytes): %w", n, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
