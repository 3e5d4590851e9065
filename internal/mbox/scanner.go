// Package mbox implements a streaming scanner for mbox archives.
//
// The scanner recovers message boundaries and byte ranges without loading the
// whole file into memory. A message begins at a line matching the Unix
// "From " separator convention (the marker at the start of a line followed by
// a ctime-like date) and ends immediately before the next such line or
// end-of-stream. Body lines that would collide with the marker are expected
// to have been escaped by the writer (">From "); the scanner does not
// unescape them, so the raw bytes of every message reproduce the file
// contents exactly. Unescaping is the decoder's concern.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const maxLineBytes = 32 << 20 // 32 MiB

var ErrMessageTooLarge = errors.New("mbox message exceeds max size")

// Range is the byte span of one message within the archive, including its
// "From " separator line. Ranges from a single scan never overlap and are
// strictly increasing in offset.
type Range struct {
	Offset int64
	Length int64
}

// End returns the offset one past the last byte of the range.
func (r Range) End() int64 { return r.Offset + r.Length }

// Record is a single message recovered from the archive.
type Record struct {
	Range Range

	// FromLine is the separator line without its trailing newline.
	FromLine string

	// Raw is the full byte content of the range: the separator line followed
	// by the RFC 5322 message, verbatim.
	Raw []byte

	// Truncated reports that the record ended at EOF without a terminating
	// separator and the file did not end cleanly (no trailing newline).
	// Interrupted appends produce these; the record is still usable.
	Truncated bool
}

type offsetReader struct {
	r io.Reader
	n int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	o.n += int64(n)
	return n, err
}

// Scanner reads message ranges from an mbox stream, one at a time.
type Scanner struct {
	or *offsetReader
	br *bufio.Reader

	// Separator line already read while collecting the previous message.
	nextFromLine   string
	nextFromRaw    []byte
	nextFromOffset int64
	hasNextFrom    bool
	eof            bool

	maxMessageBytes int64
}

// NewScanner creates a scanner over r. If r is seekable the offset counter is
// initialized from the current position, so ranges stay absolute after a
// prior Seek.
func NewScanner(r io.Reader) *Scanner {
	or := &offsetReader{r: r}
	if s, ok := r.(io.Seeker); ok {
		if off, err := s.Seek(0, io.SeekCurrent); err == nil {
			or.n = off
		}
	}
	return &Scanner{
		or: or,
		br: bufio.NewReader(or),
	}
}

// NewScannerWithMaxMessageBytes creates a scanner that rejects messages larger
// than maxMessageBytes. If maxMessageBytes <= 0, no limit is enforced.
func NewScannerWithMaxMessageBytes(r io.Reader, maxMessageBytes int64) *Scanner {
	s := NewScanner(r)
	s.maxMessageBytes = maxMessageBytes
	return s
}

// Offset reports the current logical read offset within the underlying
// stream, accounting for buffered data.
func (s *Scanner) Offset() int64 {
	return s.or.n - int64(s.br.Buffered())
}

// NextSeparatorOffset reports the stream offset where the next message's
// "From " line starts, or the current offset when none is buffered.
func (s *Scanner) NextSeparatorOffset() int64 {
	if s.hasNextFrom {
		return s.nextFromOffset
	}
	return s.Offset()
}

// Next returns the next message record from the stream.
// Returns io.EOF when there are no more messages.
func (s *Scanner) Next() (*Record, error) {
	if s.eof {
		return nil, io.EOF
	}

	// Find the separator line for this message, if the previous call didn't
	// already leave one buffered.
	if !s.hasNextFrom {
		for {
			lineStart := s.Offset()
			line, err := s.readLineBytes()
			if err != nil && err != io.EOF {
				return nil, err
			}
			if isFromSeparatorLine(line) {
				s.nextFromLine = string(bytes.TrimRight(line, "\r\n"))
				s.nextFromRaw = append([]byte(nil), line...)
				s.nextFromOffset = lineStart
				s.hasNextFrom = true
				break
			}
			if err == io.EOF {
				s.eof = true
				return nil, io.EOF
			}
		}
	}

	fromLine := s.nextFromLine
	start := s.nextFromOffset
	s.hasNextFrom = false

	var raw bytes.Buffer
	raw.Write(s.nextFromRaw)
	truncated := false
	var lastLine []byte

	for {
		lineStart := s.Offset()
		line, err := s.readLineBytes()
		if len(line) > 0 {
			if isFromSeparatorLine(line) {
				s.nextFromLine = string(bytes.TrimRight(line, "\r\n"))
				s.nextFromRaw = append([]byte(nil), line...)
				s.nextFromOffset = lineStart
				s.hasNextFrom = true
				break
			}
			raw.Write(line)
			lastLine = line
			if s.maxMessageBytes > 0 && int64(raw.Len()) > s.maxMessageBytes {
				return nil, fmt.Errorf("%w: limit %d bytes at offset %d", ErrMessageTooLarge, s.maxMessageBytes, start)
			}
		}

		if err != nil {
			if err == io.EOF {
				s.eof = true
				// A final record whose last line has no newline is the
				// signature of an interrupted append.
				if len(lastLine) > 0 && lastLine[len(lastLine)-1] != '\n' {
					truncated = true
				}
				break
			}
			return nil, err
		}
	}

	end := s.Offset()
	if s.hasNextFrom {
		end = s.nextFromOffset
	}

	return &Record{
		Range:     Range{Offset: start, Length: end - start},
		FromLine:  fromLine,
		Raw:       raw.Bytes(),
		Truncated: truncated,
	}, nil
}

func (s *Scanner) readLineBytes() ([]byte, error) {
	// ReadBytes returns bufio.ErrBufferFull when the buffer fills before the
	// delimiter. Treat that as a partial line and keep accumulating.
	var out []byte
	for {
		b, err := s.br.ReadBytes('\n')
		out = append(out, b...)
		if len(out) > maxLineBytes {
			return nil, fmt.Errorf("mbox line exceeds max length (%d bytes)", maxLineBytes)
		}
		if err == nil {
			return out, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == io.EOF {
			return out, io.EOF
		}
		if len(out) > 0 {
			return out, err
		}
		return nil, err
	}
}

var fromPrefix = []byte("From ")

// isFromSeparatorLine checks whether line (with or without trailing newline)
// looks like an mbox "From " separator. A line only qualifies when the token
// after the sender parses as a ctime-like date; escaped body lines (">From ")
// never qualify because they do not start with the marker.
func isFromSeparatorLine(line []byte) bool {
	if !bytes.HasPrefix(line, fromPrefix) {
		return false
	}
	trimmed := string(bytes.TrimRight(line, "\r\n"))
	_, ok := ParseFromSeparatorDate(trimmed)
	return ok
}

// UnescapeFrom removes a single leading '>' from any line in raw matching
// ^>+From  (mboxrd unquoting). Decoders call this before MIME parsing; the
// scanner itself never rewrites bytes.
func UnescapeFrom(raw []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(raw))
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i+1], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		out.Write(unescapeFromLine(line))
	}
	return out.Bytes()
}

func unescapeFromLine(line []byte) []byte {
	if len(line) == 0 || line[0] != '>' {
		return line
	}
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i < len(line) && bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

// ReadRange reads the exact bytes of a previously discovered range.
// The bytes are always read fresh from the file, never reconstructed.
func ReadRange(r io.ReaderAt, rng Range) ([]byte, error) {
	if rng.Offset < 0 || rng.Length < 0 {
		return nil, fmt.Errorf("invalid range {%d,%d}", rng.Offset, rng.Length)
	}
	buf := make([]byte, rng.Length)
	if _, err := r.ReadAt(buf, rng.Offset); err != nil {
		return nil, fmt.Errorf("read range {%d,%d}: %w", rng.Offset, rng.Length, err)
	}
	return buf, nil
}

// Validate scans the stream and returns an error if it doesn't look like an
// mbox file. It reads up to maxBytes. This is a heuristic.
func Validate(r io.Reader, maxBytes int64) error {
	if maxBytes <= 0 {
		return fmt.Errorf("maxBytes must be > 0")
	}
	br := bufio.NewReader(io.LimitReader(r, maxBytes))
	for {
		line, err := br.ReadString('\n')
		if isFromSeparatorLine([]byte(line)) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("no \"From \" separators found (not an mbox file?)")
			}
			return err
		}
	}
}
