// Package textutil provides text and encoding helpers for decoded messages.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// EnsureUTF8 returns s as valid UTF-8.
// Valid input is returned as-is. Otherwise charset detection and a short list
// of common mail encodings are tried; as a last resort invalid bytes become
// replacement characters. The second return reports whether a lossy or
// heuristic conversion was needed.
func EnsureUTF8(s string) (string, bool) {
	if utf8.ValidString(s) {
		return s, false
	}

	data := []byte(s)

	// Detection confidence is unreliable on short samples.
	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}

	detector := chardet.NewTextDetector()
	if result, err := detector.DetectBest(data); err == nil && result.Confidence >= minConfidence {
		if enc := EncodingByName(result.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded), true
			}
		}
	}

	// Single-byte Western encodings first (most common in mail), then the
	// multi-byte Asian encodings.
	encodings := []encoding.Encoding{
		charmap.Windows1252,
		charmap.ISO8859_1,
		charmap.ISO8859_15,
		japanese.ShiftJIS,
		japanese.EUCJP,
		korean.EUCKR,
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
	}
	for _, enc := range encodings {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded), true
		}
	}

	return SanitizeUTF8(s), true
}

// SanitizeUTF8 replaces invalid UTF-8 bytes with the replacement character.
func SanitizeUTF8(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// EncodingByName returns an encoding for the given IANA charset name,
// or nil when the name is unknown.
func EncodingByName(name string) encoding.Encoding {
	switch name {
	case "windows-1252", "CP1252", "cp1252":
		return charmap.Windows1252
	case "ISO-8859-1", "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1
	case "ISO-8859-15", "iso-8859-15", "latin9":
		return charmap.ISO8859_15
	case "ISO-8859-2", "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	case "Shift_JIS", "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "EUC-JP", "euc-jp", "eucjp":
		return japanese.EUCJP
	case "ISO-2022-JP", "iso-2022-jp":
		return japanese.ISO2022JP
	case "EUC-KR", "euc-kr", "euckr":
		return korean.EUCKR
	case "GB2312", "gb2312", "GBK", "gbk":
		return simplifiedchinese.GBK
	case "GB18030", "gb18030":
		return simplifiedchinese.GB18030
	case "Big5", "big5", "big-5":
		return traditionalchinese.Big5
	case "KOI8-R", "koi8-r":
		return charmap.KOI8R
	case "KOI8-U", "koi8-u":
		return charmap.KOI8U
	default:
		return nil
	}
}

// CollapseWhitespace collapses every run of whitespace (including line
// breaks) in s to a single space and trims the ends. Label values folded
// across header lines need this.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FirstLine returns the first line of a string, trimming leading newlines.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
