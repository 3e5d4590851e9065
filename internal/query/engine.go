// Package query evaluates parsed queries against an index, combining FTS5
// full-text matching with structured filters on labels, tags, and dates.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cameronkerrnz/sriracha/internal/index"
	"github.com/cameronkerrnz/sriracha/internal/mbox"
	"github.com/cameronkerrnz/sriracha/internal/search"
)

// Reference identifies one matching message. It carries enough to render a
// result line and to fetch the raw bytes, never the content itself.
type Reference struct {
	ID        int64
	MessageID string
	Range     mbox.Range
	Date      time.Time
	Subject   string
	Sender    string
	Truncated bool

	// Score is the relevance rank when the query had text terms; more
	// negative is better (bm25 convention). Zero for filter-only queries.
	Score float64

	// MatchedFields names the fields the query's terms were aimed at,
	// best-effort. Empty for filter-only queries.
	MatchedFields []string
}

// Engine runs read-only searches against one index.
type Engine struct {
	db   *sql.DB
	fts5 bool
}

// New returns an engine over the store's database.
func New(store *index.Store) *Engine {
	return &Engine{db: store.DB(), fts5: store.FTS5Available()}
}

// FullTextAvailable reports whether text queries run against the FTS5 index.
// When false they degrade to substring matching on stored columns.
func (e *Engine) FullTextAvailable() bool {
	return e.fts5
}

// bm25Weights ranks subject hits above body hits, with address fields in
// between. Column order follows the FTS table definition.
const bm25Weights = "bm25(documents_fts, 4.0, 1.0, 2.0, 1.5, 1.5, 2.0, 1.0)"

// Search evaluates a parsed query plus external filters, returning matches
// ordered by relevance (text queries) or recency (filter-only queries).
// Ties break on date then range offset so result order is deterministic.
func (e *Engine) Search(ctx context.Context, q *search.Query, f search.Filters, limit, offset int) ([]Reference, error) {
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var condArgs []any
	var scoreArgs []any
	selectScore := "0.0"
	orderBy := "d.date_unix DESC, d.range_offset"

	if q.HasText() {
		if e.fts5 {
			match, err := ftsExpr(q.Groups)
			if err != nil {
				return nil, err
			}
			selectScore = fmt.Sprintf(`(SELECT %s FROM documents_fts WHERE rowid = d.id AND documents_fts MATCH ?)`, bm25Weights)
			scoreArgs = append(scoreArgs, match)
			conditions = append(conditions, `d.id IN (SELECT rowid FROM documents_fts WHERE documents_fts MATCH ?)`)
			condArgs = append(condArgs, match)
			orderBy = "score, d.date_unix DESC, d.range_offset"
		} else {
			// Substring fallback over the stored columns; no relevance
			// ranking, results stay in recency order.
			for _, g := range q.Groups {
				alts := make([]string, 0, len(g.Terms))
				for _, t := range g.Terms {
					cond, pattern := likeCondition(t)
					alts = append(alts, cond)
					condArgs = append(condArgs, pattern)
				}
				if len(alts) == 1 {
					conditions = append(conditions, alts[0])
				} else {
					conditions = append(conditions, "("+strings.Join(alts, " OR ")+")")
				}
			}
		}
	}

	for _, t := range q.Negated {
		if e.fts5 {
			conditions = append(conditions, `d.id NOT IN (SELECT rowid FROM documents_fts WHERE documents_fts MATCH ?)`)
			condArgs = append(condArgs, termExpr(t))
		} else {
			cond, pattern := likeCondition(t)
			conditions = append(conditions, "NOT "+cond)
			condArgs = append(condArgs, pattern)
		}
	}

	labels := append(append([]string{}, q.Labels...), f.Labels...)
	for _, label := range labels {
		conditions = append(conditions, `EXISTS (SELECT 1 FROM document_labels dl WHERE dl.document_id = d.id AND dl.label = ?)`)
		condArgs = append(condArgs, label)
	}
	for _, label := range q.NotLabels {
		conditions = append(conditions, `NOT EXISTS (SELECT 1 FROM document_labels dl WHERE dl.document_id = d.id AND dl.label = ?)`)
		condArgs = append(condArgs, label)
	}

	tags := append(append([]string{}, q.Tags...), f.Tags...)
	for _, tag := range tags {
		conditions = append(conditions, `EXISTS (SELECT 1 FROM document_tags dt WHERE dt.document_id = d.id AND dt.tag = ?)`)
		condArgs = append(condArgs, tag)
	}
	for _, tag := range q.NotTags {
		conditions = append(conditions, `NOT EXISTS (SELECT 1 FROM document_tags dt WHERE dt.document_id = d.id AND dt.tag = ?)`)
		condArgs = append(condArgs, tag)
	}

	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = "?"
			condArgs = append(condArgs, id)
		}
		conditions = append(conditions, fmt.Sprintf("d.message_id IN (%s)", strings.Join(placeholders, ",")))
	}

	after, before := q.After, q.Before
	if f.After != nil {
		after = f.After
	}
	if f.Before != nil {
		before = f.Before
	}
	if after != nil {
		conditions = append(conditions, "d.date_unix >= ?")
		condArgs = append(condArgs, after.Unix())
	}
	if before != nil {
		conditions = append(conditions, "d.date_unix < ?")
		condArgs = append(condArgs, before.Unix())
	}

	if q.HasAttachment {
		conditions = append(conditions, "d.has_attachments = 1")
	}

	whereClause := strings.Join(conditions, " AND ")
	if whereClause == "" {
		whereClause = "1=1"
	}

	stmt := fmt.Sprintf(`
		SELECT
			d.id, d.message_id, d.range_offset, d.range_length,
			d.date_unix, d.subject, d.sender, d.truncated,
			%s AS score
		FROM documents d
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?`, selectScore, whereClause, orderBy)

	// Placeholder order mirrors the statement: score subquery, then the
	// WHERE conditions, then LIMIT/OFFSET.
	args := append(scoreArgs, condArgs...)
	args = append(args, limit, offset)

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []Reference
	for rows.Next() {
		var ref Reference
		var dateUnix int64
		var trunc int
		var score sql.NullFloat64
		if err := rows.Scan(
			&ref.ID, &ref.MessageID, &ref.Range.Offset, &ref.Range.Length,
			&dateUnix, &ref.Subject, &ref.Sender, &trunc, &score,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if dateUnix != 0 {
			ref.Date = time.Unix(dateUnix, 0).UTC()
		}
		ref.Truncated = trunc != 0
		ref.Score = score.Float64
		ref.MatchedFields = matchedFields(q, ref)
		results = append(results, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// Count returns how many documents satisfy the query, ignoring pagination.
func (e *Engine) Count(ctx context.Context, q *search.Query, f search.Filters) (int64, error) {
	refs, err := e.Search(ctx, q, f, 1<<31-1, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(refs)), nil
}

// ftsExpr renders AND-of-OR-groups as an FTS5 match expression.
func ftsExpr(groups []search.Group) (string, error) {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		alts := make([]string, 0, len(g.Terms))
		for _, t := range g.Terms {
			alts = append(alts, termExpr(t))
		}
		if len(alts) == 1 {
			parts = append(parts, alts[0])
		} else {
			parts = append(parts, "("+strings.Join(alts, " OR ")+")")
		}
	}
	if len(parts) == 0 {
		return "", &search.QueryError{Msg: "no text terms"}
	}
	return strings.Join(parts, " AND "), nil
}

// likeCondition renders one term for the substring fallback: a LIKE match on
// the nearest stored column, with user wildcards escaped so they stay literal.
func likeCondition(t search.Term) (cond, pattern string) {
	return likeColumn(t.Field) + ` LIKE ? ESCAPE '\'`, "%" + escapeLike(t.Text) + "%"
}

// likeColumn maps a term scope to a stored column. Body and attachment text
// live only in the full-text table, so those scopes degrade to the subject
// column when FTS5 is unavailable.
func likeColumn(f search.Field) string {
	switch f {
	case search.FieldFrom:
		return "d.sender"
	case search.FieldTo:
		return "d.recipients_to"
	case search.FieldCc:
		return "d.recipients_cc"
	case search.FieldAttachment, search.FieldAttachText:
		return "d.attachment_names"
	default:
		return "d.subject"
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// termExpr renders one term. Text is always double-quoted so user input can
// never inject FTS5 operators; embedded quotes are doubled per FTS syntax.
func termExpr(t search.Term) string {
	quoted := `"` + strings.ReplaceAll(t.Text, `"`, `""`) + `"`
	switch t.Field {
	case search.FieldAny:
		return "{subject body}:" + quoted
	default:
		return string(t.Field) + ":" + quoted
	}
}

// matchedFields reports which fields the query's positive terms addressed.
// Scoped terms name their field; unscoped terms are attributed to subject
// when the subject contains the text, body otherwise.
func matchedFields(q *search.Query, ref Reference) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, t := range q.Terms() {
		switch t.Field {
		case search.FieldAny:
			if strings.Contains(strings.ToLower(ref.Subject), strings.ToLower(t.Text)) {
				add("subject")
			} else {
				add("body")
			}
		case search.FieldFrom:
			add("from")
		case search.FieldTo:
			add("to")
		case search.FieldCc:
			add("cc")
		case search.FieldSubject:
			add("subject")
		case search.FieldBody:
			add("body")
		case search.FieldAttachment, search.FieldAttachText:
			add("attachment")
		}
	}
	return out
}
