// Package mime decodes raw message bytes into structured envelopes using
// enmime. Decoding is best-effort: a header or part that cannot be decoded
// degrades that one field and is recorded as a problem, it never aborts the
// message.
package mime

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/textutil"
)

// DecodeStatus records how a single envelope field survived decoding.
type DecodeStatus int

const (
	DecodeOK       DecodeStatus = iota // decoded cleanly
	DecodeDegraded                     // decoded with repair (charset guess, raw fallback)
	DecodeFailed                       // not decodable; value is zero
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeDegraded:
		return "degraded"
	case DecodeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Field is a decoded value tagged with its decode status.
type Field[T any] struct {
	Value  T
	Status DecodeStatus
}

// Address is a mail address with optional display name.
type Address struct {
	Name  string
	Email string
}

// Attachment describes one non-body MIME part. Text is extracted only for a
// small allow-list of textual content types; opaque attachments contribute
// metadata only.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Text        string
}

// Envelope is the decoded, disposable view of one message. It is recomputed
// from the raw bytes on demand and never persisted as-is.
type Envelope struct {
	MessageID Field[string]
	Date      Field[time.Time]
	From      Field[[]Address]
	To        Field[[]Address]
	Cc        Field[[]Address]
	Subject   Field[string]

	// Body is the normalized plain-text body: paragraphs separated by blank
	// lines, HTML stripped when no text part exists.
	Body Field[string]

	Attachments []Attachment

	// Labels is the archive's native label set (X-Gmail-Labels), unrelated
	// to user tags.
	Labels []string

	// Problems collects non-fatal decode diagnostics for the build summary.
	Problems []string
}

// DegradedFields lists the envelope fields that did not decode cleanly.
func (e *Envelope) DegradedFields() []string {
	var out []string
	add := func(name string, s DecodeStatus) {
		if s != DecodeOK {
			out = append(out, name)
		}
	}
	add("message_id", e.MessageID.Status)
	add("date", e.Date.Status)
	add("from", e.From.Status)
	add("to", e.To.Status)
	add("cc", e.Cc.Status)
	add("subject", e.Subject.Status)
	add("body", e.Body.Status)
	return out
}

// maxAttachmentTextBytes bounds how much text is extracted from any one
// attachment part.
const maxAttachmentTextBytes = 256 << 10

// attachmentTextTypes is the allow-list of content types whose payload text
// is indexed. Everything else contributes only name/type/size.
var attachmentTextTypes = map[string]bool{
	"text/plain":       true,
	"text/csv":         true,
	"text/markdown":    true,
	"text/x-markdown":  true,
	"application/json": true,
}

// Decode parses the raw bytes of one message range into an Envelope.
//
// The range bytes include the mbox "From " separator line, which is stripped,
// and may contain mboxrd-escaped ">From " body lines, which are unescaped
// here before MIME parsing. Decode does not fail on malformed input: it
// returns an envelope with degraded fields and problems recorded.
func Decode(raw []byte) *Envelope {
	raw = stripSeparatorLine(raw)
	raw = mbox.UnescapeFrom(raw)

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// Unparseable as MIME. Index what we can: the raw text as a
		// degraded body so content search still finds the message.
		e := &Envelope{
			MessageID: Field[string]{Status: DecodeFailed},
			Date:      Field[time.Time]{Status: DecodeFailed},
			From:      Field[[]Address]{Status: DecodeFailed},
			To:        Field[[]Address]{Status: DecodeFailed},
			Cc:        Field[[]Address]{Status: DecodeFailed},
			Subject:   Field[string]{Status: DecodeFailed},
		}
		body, _ := textutil.EnsureUTF8(string(raw))
		e.Body = Field[string]{Value: normalizeBody(body), Status: DecodeDegraded}
		e.Problems = append(e.Problems, "mime parse: "+err.Error())
		return e
	}

	e := &Envelope{}
	e.MessageID = headerField(env, "Message-ID", func(v string) string {
		return strings.Trim(strings.TrimSpace(v), "<>")
	})
	e.Subject = headerField(env, "Subject", strings.TrimSpace)
	e.Date = dateField(env)
	e.From = addressField(env, "From")
	e.To = addressField(env, "To")
	e.Cc = addressField(env, "Cc")
	e.Body = bodyField(env)
	e.Labels = nativeLabels(env)
	e.Attachments = attachments(env)

	for _, perr := range env.Errors {
		e.Problems = append(e.Problems, perr.Error())
	}
	return e
}

// stripSeparatorLine removes a leading mbox "From " line if present.
func stripSeparatorLine(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		return raw[i+1:]
	}
	return nil
}

func headerField(env *enmime.Envelope, name string, clean func(string) string) Field[string] {
	v := env.GetHeader(name)
	if v == "" {
		return Field[string]{}
	}
	repaired := false
	v, repaired = textutil.EnsureUTF8(clean(v))
	status := DecodeOK
	if repaired {
		status = DecodeDegraded
	}
	return Field[string]{Value: v, Status: status}
}

func dateField(env *enmime.Envelope) Field[time.Time] {
	raw := env.GetHeader("Date")
	if raw == "" {
		return Field[time.Time]{Status: DecodeFailed}
	}
	if t, ok := parseDate(raw); ok {
		return Field[time.Time]{Value: t}
	}
	return Field[time.Time]{Status: DecodeFailed}
}

func addressField(env *enmime.Envelope, header string) Field[[]Address] {
	if env.GetHeader(header) == "" {
		return Field[[]Address]{}
	}
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		// Keep the raw header text as a single degraded entry rather than
		// dropping the field.
		raw, _ := textutil.EnsureUTF8(env.GetHeader(header))
		return Field[[]Address]{
			Value:  []Address{{Name: raw}},
			Status: DecodeDegraded,
		}
	}
	addrs := make([]Address, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		addrs = append(addrs, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return Field[[]Address]{Value: addrs}
}

func bodyField(env *enmime.Envelope) Field[string] {
	text := env.Text
	status := DecodeOK
	switch {
	case text == "" && env.HTML != "":
		text = StripHTML(env.HTML)
		status = DecodeDegraded
	case htmlDownconverted(env):
		// enmime synthesized the plain text from an HTML-only body.
		status = DecodeDegraded
	}
	repaired := false
	text, repaired = textutil.EnsureUTF8(text)
	if repaired {
		status = DecodeDegraded
	}
	return Field[string]{Value: normalizeBody(text), Status: status}
}

// htmlDownconverted reports whether the envelope's plain text came from an
// HTML-to-text conversion rather than a real text part.
func htmlDownconverted(env *enmime.Envelope) bool {
	for _, e := range env.Errors {
		if e.Name == enmime.ErrorPlainTextFromHTML {
			return true
		}
	}
	return false
}

// normalizeBody produces the single logical text blob stored in the index:
// LF line endings, runs of blank lines collapsed so paragraph positions stay
// stable for the highlight pass.
func normalizeBody(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// nativeLabels collects X-Gmail-Labels values: comma-separated, possibly
// folded across lines, whitespace collapsed.
func nativeLabels(env *enmime.Envelope) []string {
	seen := map[string]bool{}
	var labels []string
	for _, header := range env.GetHeaderValues("X-Gmail-Labels") {
		for _, label := range strings.Split(header, ",") {
			label = textutil.CollapseWhitespace(label)
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}

func attachments(env *enmime.Envelope) []Attachment {
	var out []Attachment
	for _, part := range append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...) {
		if isBodyPart(part) {
			continue
		}
		a := Attachment{
			Filename:    part.FileName,
			ContentType: baseContentType(part.ContentType),
			Size:        int64(len(part.Content)),
		}
		if attachmentTextTypes[a.ContentType] {
			content := part.Content
			if len(content) > maxAttachmentTextBytes {
				content = content[:maxAttachmentTextBytes]
			}
			text, _ := textutil.EnsureUTF8(string(content))
			a.Text = normalizeBody(text)
		}
		out = append(out, a)
	}
	return out
}

// isBodyPart reports whether a part is body content rather than an
// attachment: text/plain or text/html without a filename and without an
// explicit attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	ct := baseContentType(part.ContentType)
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disp := strings.ToLower(part.Disposition)
	if i := strings.Index(disp, ";"); i >= 0 {
		disp = strings.TrimSpace(disp[:i])
	}
	return disp != "attachment"
}

// baseContentType strips parameters: "text/plain; charset=utf-8" -> "text/plain".
func baseContentType(ct string) string {
	ct = strings.ToLower(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// dateFormats lists common mail date formats tried in order.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate attempts to parse a Date header in common formats, returning UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")

	// Strip a trailing parenthesized zone name like "(UTC)"; the numeric
	// offset before it is what matters.
	base := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		base = strings.TrimSpace(s[:idx])
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, base); err == nil {
			return t.UTC(), true
		}
	}
	if base != s {
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Block tags that become line breaks when HTML is stripped.
var blockTagRe = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol|dl|dt|dd)[^>]*>`)

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML removes HTML tags, decodes entities, and normalizes whitespace.
// Block elements become line breaks so the result reads as plain text.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00A0", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
