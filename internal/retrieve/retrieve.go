// Package retrieve reads message bytes back out of an archive and locates
// query matches within decoded content for display.
package retrieve

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/mime"
	"github.com/cameronkerrnz/sriracha/internal/search"
	"github.com/cameronkerrnz/sriracha/internal/textutil"
)

// Fetch reads the exact bytes of one message range from the archive. The
// bytes are read fresh every time; nothing decoded is ever served back as if
// it were the original.
func Fetch(r io.ReaderAt, rng mbox.Range) ([]byte, error) {
	return mbox.ReadRange(r, rng)
}

// Export streams a message's raw bytes to w, byte-identical to the archive
// content including the separator line and any ">From " escaping.
func Export(r io.ReaderAt, rng mbox.Range, w io.Writer) error {
	raw, err := mbox.ReadRange(r, rng)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("export range {%d,%d}: %w", rng.Offset, rng.Length, err)
	}
	return nil
}

// Span is one located match within a decoded field.
type Span struct {
	Field string // "subject", "body", "from", "to", "cc", "attachment"
	Start int    // byte offset of the match within the field text
	End   int

	// Fragment is a short excerpt around the match for result display.
	Fragment string
}

// fragmentContext is how many bytes of context a fragment keeps on each side
// of its match.
const fragmentContext = 60

// Highlight decodes a message and locates the query's positive terms within
// its fields. Matching is case-insensitive and tolerant of simple suffixes
// (a query for "review" finds "reviews" and "reviewing"), approximating what
// the stemming index matched. Terms that only matched via stemming the
// approximation misses produce no span; callers must treat spans as
// best-effort display hints, never as the match authority.
func Highlight(raw []byte, q *search.Query) []Span {
	env := mime.Decode(raw)
	return HighlightEnvelope(env, q)
}

// HighlightEnvelope is Highlight for an already decoded envelope.
func HighlightEnvelope(env *mime.Envelope, q *search.Query) []Span {
	fields := []struct {
		name string
		text string
	}{
		{"subject", env.Subject.Value},
		{"body", env.Body.Value},
		{"from", formatAddresses(env.From.Value)},
		{"to", formatAddresses(env.To.Value)},
		{"cc", formatAddresses(env.Cc.Value)},
		{"attachment", attachmentNames(env)},
	}

	var spans []Span
	for _, t := range q.Terms() {
		for _, f := range fields {
			if !termTargets(t.Field, f.name) || f.text == "" {
				continue
			}
			for _, loc := range findTerm(f.text, t) {
				spans = append(spans, Span{
					Field:    f.name,
					Start:    loc[0],
					End:      loc[1],
					Fragment: fragment(f.text, loc[0], loc[1]),
				})
			}
		}
	}
	return spans
}

// termTargets reports whether a term with the given scope applies to a
// display field. Unscoped terms target the default fields, subject and body.
func termTargets(scope search.Field, field string) bool {
	switch scope {
	case search.FieldAny:
		return field == "subject" || field == "body"
	case search.FieldSubject:
		return field == "subject"
	case search.FieldBody:
		return field == "body"
	case search.FieldFrom:
		return field == "from"
	case search.FieldTo:
		return field == "to"
	case search.FieldCc:
		return field == "cc"
	case search.FieldAttachment, search.FieldAttachText:
		return field == "attachment"
	}
	return false
}

// findTerm returns [start,end) pairs for each occurrence of the term in text.
// Single words match at word starts and may extend over a short suffix;
// phrases match as a whole, case-insensitively. Offsets come from a fold-aware
// walk of the original text, never from a lowered copy, so they stay valid
// when lowercasing changes a rune's byte length.
func findTerm(text string, t search.Term) [][2]int {
	if t.Text == "" {
		return nil
	}

	var out [][2]int
	for from := 0; ; {
		start, end := textutil.FoldIndex(text, t.Text, from)
		if start < 0 {
			break
		}
		matchEnd := end
		from = matchEnd

		if !t.Phrase {
			if start > 0 && isWordByte(text[start-1]) {
				continue
			}
			// Extend across a trailing inflection so the visible highlight
			// covers the whole word.
			for end < len(text) && isWordByte(text[end]) {
				end++
			}
			if end-matchEnd > 4 {
				// Too long a tail to plausibly be an inflection of the term.
				continue
			}
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

// fragment extracts an excerpt around [start,end), snapped outward to
// whitespace so words are not cut mid-way.
func fragment(text string, start, end int) string {
	lo := start - fragmentContext
	if lo < 0 {
		lo = 0
	}
	hi := end + fragmentContext
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !isSpaceByte(text[lo]) {
		lo--
	}
	for hi < len(text) && !isSpaceByte(text[hi]) {
		hi++
	}
	frag := strings.TrimSpace(text[lo:hi])
	frag = strings.Join(strings.Fields(frag), " ")
	return frag
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

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

func attachmentNames(env *mime.Envelope) string {
	var names []string
	for _, a := range env.Attachments {
		if a.Filename != "" {
			names = append(names, a.Filename)
		}
	}
	return strings.Join(names, ", ")
}
