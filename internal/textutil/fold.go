package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FoldIndex locates the first case-insensitive occurrence of sub in s at or
// after byte offset from, walking both strings rune-wise so the returned
// [start, end) offsets are valid in s even when lowercasing changes a rune's
// encoded length. Returns (-1, -1) when there is no match.
func FoldIndex(s, sub string, from int) (start, end int) {
	if sub == "" || from < 0 || from >= len(s) {
		return -1, -1
	}
	want := []rune(strings.ToLower(sub))
	for i := from; i < len(s); {
		if end, ok := foldMatchAt(s, i, want); ok {
			return i, end
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

// foldMatchAt reports whether s matches want rune-for-rune at byte offset at,
// returning the byte offset just past the match.
func foldMatchAt(s string, at int, want []rune) (int, bool) {
	i := at
	for _, w := range want {
		r, size := utf8.DecodeRuneInString(s[i:])
		if size == 0 || unicode.ToLower(r) != w {
			return 0, false
		}
		i += size
	}
	return i, true
}
