// Package search parses the query language: free-text terms, field-scoped
// terms, and boolean composition (AND by default, explicit OR, negation).
package search

import (
	"fmt"
	"strings"
	"time"
)

// QueryError reports a malformed query. It is surfaced synchronously to the
// caller; a bad query never degrades to a silent no-match.
type QueryError struct {
	Msg string
}

func (e *QueryError) Error() string {
	return "invalid query: " + e.Msg
}

func queryErrorf(format string, args ...any) *QueryError {
	return &QueryError{Msg: fmt.Sprintf(format, args...)}
}

// Field names a searchable text field. The zero value means "default
// fields" (subject and body).
type Field string

const (
	FieldAny        Field = ""
	FieldSubject    Field = "subject"
	FieldBody       Field = "body"
	FieldFrom       Field = "sender"
	FieldTo         Field = "recipients_to"
	FieldCc         Field = "recipients_cc"
	FieldAttachment Field = "attachment_names"
	FieldAttachText Field = "attachment_text"
)

// scopeFields maps query scopes to index fields.
var scopeFields = map[string]Field{
	"from":       FieldFrom,
	"to":         FieldTo,
	"cc":         FieldCc,
	"subject":    FieldSubject,
	"body":       FieldBody,
	"attachment": FieldAttachment,
	"filename":   FieldAttachment,
}

// Term is one text match requirement.
type Term struct {
	Field   Field
	Text    string
	Phrase  bool // quoted phrase, matched as a unit
	Negated bool
}

// Group is a set of terms OR'd together. Groups are AND'd.
type Group struct {
	Terms []Term
}

// Query is a parsed query plus the non-text constraints that ride along in
// the query string (label:, tag:, date scopes).
type Query struct {
	Groups  []Group // AND of OR-groups
	Negated []Term  // terms excluded from every result

	Labels    []string
	NotLabels []string
	Tags      []string
	NotTags   []string
	IDs       []string

	After         *time.Time
	Before        *time.Time
	HasAttachment bool
}

// IsEmpty reports a query with no constraints at all.
func (q *Query) IsEmpty() bool {
	return len(q.Groups) == 0 && len(q.Negated) == 0 &&
		len(q.Labels) == 0 && len(q.NotLabels) == 0 &&
		len(q.Tags) == 0 && len(q.NotTags) == 0 &&
		len(q.IDs) == 0 &&
		q.After == nil && q.Before == nil && !q.HasAttachment
}

// HasText reports whether any full-text terms are present.
func (q *Query) HasText() bool {
	return len(q.Groups) > 0
}

// Terms returns every positive term, flattened. The highlighter re-runs
// these against decoded text.
func (q *Query) Terms() []Term {
	var out []Term
	for _, g := range q.Groups {
		out = append(out, g.Terms...)
	}
	return out
}

// Filters are the structured constraints passed alongside the query text.
// They are always AND'd with the parsed query.
type Filters struct {
	Tags   []string
	Labels []string
	After  *time.Time
	Before *time.Time
}

// Parse parses a query string.
//
// Grammar: bare words and "quoted phrases" match subject+body; scope
// prefixes (from:, to:, cc:, subject:, body:, attachment:, label:, tag:,
// id:, before:, after:, has:attachment) restrict a term; adjacent terms are
// AND'd; OR between two terms groups them; a leading '-' or a NOT keyword
// negates the following term. An unknown scope is a *QueryError.
func Parse(queryStr string) (*Query, error) {
	q := &Query{}
	tokens := tokenize(queryStr)

	negateNext := false
	orPending := false

	appendTerm := func(t Term) {
		if t.Negated {
			q.Negated = append(q.Negated, t)
			return
		}
		if orPending && len(q.Groups) > 0 {
			last := len(q.Groups) - 1
			q.Groups[last].Terms = append(q.Groups[last].Terms, t)
		} else {
			q.Groups = append(q.Groups, Group{Terms: []Term{t}})
		}
		orPending = false
	}

	for _, token := range tokens {
		switch token {
		case "OR":
			orPending = true
			continue
		case "NOT":
			negateNext = true
			continue
		case "AND":
			// AND is the default; the keyword is accepted and ignored.
			continue
		}

		negated := negateNext
		negateNext = false
		if strings.HasPrefix(token, "-") && len(token) > 1 {
			negated = true
			token = token[1:]
		}

		if isQuotedPhrase(token) {
			appendTerm(Term{Text: unquote(token), Phrase: true, Negated: negated})
			continue
		}

		idx := strings.Index(token, ":")
		if idx <= 0 {
			if token != "" {
				appendTerm(Term{Text: token, Negated: negated})
			}
			continue
		}

		scope := strings.ToLower(token[:idx])
		value := token[idx+1:]
		phrase := isQuotedPhrase(value)
		value = unquote(value)
		if value == "" {
			return nil, queryErrorf("empty value for scope %q", scope)
		}

		if field, ok := scopeFields[scope]; ok {
			appendTerm(Term{Field: field, Text: value, Phrase: phrase, Negated: negated})
			continue
		}

		switch scope {
		case "label", "l":
			if negated {
				q.NotLabels = append(q.NotLabels, value)
			} else {
				q.Labels = append(q.Labels, value)
			}
		case "tag":
			if negated {
				q.NotTags = append(q.NotTags, value)
			} else {
				q.Tags = append(q.Tags, value)
			}
		case "id":
			if negated {
				return nil, queryErrorf("id: cannot be negated")
			}
			q.IDs = append(q.IDs, value)
		case "before":
			t, err := parseDate(value)
			if err != nil {
				return nil, err
			}
			q.Before = t
		case "after":
			t, err := parseDate(value)
			if err != nil {
				return nil, err
			}
			q.After = t
		case "has":
			if low := strings.ToLower(value); low == "attachment" || low == "attachments" {
				q.HasAttachment = true
			} else {
				return nil, queryErrorf("unsupported has: value %q", value)
			}
		default:
			return nil, queryErrorf("unknown field scope %q", scope)
		}
	}

	return q, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func isQuotedPhrase(token string) bool {
	return len(token) > 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a query string, preserving quoted phrases and
// scope:"quoted value" pairs as single tokens.
func tokenize(queryStr string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	afterColon := false
	scopeQuoted := false

	for _, char := range queryStr {
		switch {
		case char == '"' && !inQuotes:
			inQuotes = true
			scopeQuoted = afterColon
			if !afterColon && current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			if afterColon {
				current.WriteRune(char)
			}
			afterColon = false
		case char == '"' && inQuotes:
			inQuotes = false
			if scopeQuoted {
				current.WriteRune(char)
				tokens = append(tokens, current.String())
				current.Reset()
			} else if current.Len() > 0 {
				tokens = append(tokens, "\""+current.String()+"\"")
				current.Reset()
			}
			scopeQuoted = false
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			afterColon = false
		default:
			current.WriteRune(char)
			afterColon = char == ':'
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
}

func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, queryErrorf("unparseable date %q (want YYYY-MM-DD)", value)
}
