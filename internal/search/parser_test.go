package search

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParse_BareWordsAreANDed(t *testing.T) {
	q, err := Parse("budget meeting")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Group{
		{Terms: []Term{{Text: "budget"}}},
		{Terms: []Term{{Text: "meeting"}}},
	}
	if diff := cmp.Diff(want, q.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_QuotedPhrase(t *testing.T) {
	q, err := Parse(`"quarterly report" budget`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Group{
		{Terms: []Term{{Text: "quarterly report", Phrase: true}}},
		{Terms: []Term{{Text: "budget"}}},
	}
	if diff := cmp.Diff(want, q.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FieldScopes(t *testing.T) {
	tests := []struct {
		query string
		field Field
		text  string
	}{
		{"from:alice", FieldFrom, "alice"},
		{"to:bob@example.com", FieldTo, "bob@example.com"},
		{"cc:carol", FieldCc, "carol"},
		{"subject:hello", FieldSubject, "hello"},
		{"body:world", FieldBody, "world"},
		{"attachment:report.pdf", FieldAttachment, "report.pdf"},
		{"filename:report.pdf", FieldAttachment, "report.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := Parse(tt.query)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.query, err)
			}
			terms := q.Terms()
			if len(terms) != 1 {
				t.Fatalf("got %d terms, want 1", len(terms))
			}
			if terms[0].Field != tt.field || terms[0].Text != tt.text {
				t.Errorf("got %+v, want field=%q text=%q", terms[0], tt.field, tt.text)
			}
		})
	}
}

func TestParse_ScopedPhrase(t *testing.T) {
	q, err := Parse(`subject:"project update"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Group{{Terms: []Term{{Field: FieldSubject, Text: "project update", Phrase: true}}}}
	if diff := cmp.Diff(want, q.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_ORGroupsTerms(t *testing.T) {
	q, err := Parse("urgent OR important deadline")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Group{
		{Terms: []Term{{Text: "urgent"}, {Text: "important"}}},
		{Terms: []Term{{Text: "deadline"}}},
	}
	if diff := cmp.Diff(want, q.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_ANDKeywordIsDefault(t *testing.T) {
	q, err := Parse("alpha AND beta")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Groups) != 2 {
		t.Errorf("got %d groups, want 2", len(q.Groups))
	}
}

func TestParse_Negation(t *testing.T) {
	for _, query := range []string{"report -draft", "report NOT draft"} {
		t.Run(query, func(t *testing.T) {
			q, err := Parse(query)
			if err != nil {
				t.Fatalf("Parse(%q): %v", query, err)
			}
			if len(q.Groups) != 1 || q.Groups[0].Terms[0].Text != "report" {
				t.Errorf("positive terms = %+v, want [report]", q.Groups)
			}
			wantNeg := []Term{{Text: "draft", Negated: true}}
			if diff := cmp.Diff(wantNeg, q.Negated); diff != "" {
				t.Errorf("negated mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_NegatedScope(t *testing.T) {
	q, err := Parse("-from:mailer-daemon")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	wantNeg := []Term{{Field: FieldFrom, Text: "mailer-daemon", Negated: true}}
	if diff := cmp.Diff(wantNeg, q.Negated); diff != "" {
		t.Errorf("negated mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_LabelsAndTags(t *testing.T) {
	q, err := Parse("label:INBOX tag:reviewed -label:Spam -tag:junk")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff([]string{"INBOX"}, q.Labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"reviewed"}, q.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Spam"}, q.NotLabels); diff != "" {
		t.Errorf("not-labels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"junk"}, q.NotTags); diff != "" {
		t.Errorf("not-tags (-want +got):\n%s", diff)
	}
}

func TestParse_IDScope(t *testing.T) {
	q, err := Parse("id:<abc123@example.com>")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff([]string{"<abc123@example.com>"}, q.IDs); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

func TestParse_DateScopes(t *testing.T) {
	q, err := Parse("after:2023-01-15 before:2023-06-30")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	wantAfter := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	wantBefore := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	if q.After == nil || !q.After.Equal(wantAfter) {
		t.Errorf("After = %v, want %v", q.After, wantAfter)
	}
	if q.Before == nil || !q.Before.Equal(wantBefore) {
		t.Errorf("Before = %v, want %v", q.Before, wantBefore)
	}
}

func TestParse_BadDateIsQueryError(t *testing.T) {
	_, err := Parse("after:yesterday")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("got %v, want *QueryError", err)
	}
}

func TestParse_NegatedIDIsQueryError(t *testing.T) {
	for _, q := range []string{"-id:x@example.com", "NOT id:x@example.com"} {
		_, err := Parse(q)
		var qerr *QueryError
		if !errors.As(err, &qerr) {
			t.Errorf("Parse(%q) = %v, want *QueryError", q, err)
		}
	}
}

func TestParse_HasAttachment(t *testing.T) {
	q, err := Parse("has:attachment invoice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !q.HasAttachment {
		t.Error("HasAttachment = false, want true")
	}
	if len(q.Groups) != 1 || q.Groups[0].Terms[0].Text != "invoice" {
		t.Errorf("groups = %+v, want [invoice]", q.Groups)
	}
}

func TestParse_UnknownScopeIsQueryError(t *testing.T) {
	_, err := Parse("bogus:value")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("got %v, want *QueryError", err)
	}
}

func TestParse_EmptyScopeValueIsQueryError(t *testing.T) {
	_, err := Parse("from:")
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("got %v, want *QueryError", err)
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	q, err := Parse("   ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !q.IsEmpty() {
		t.Errorf("IsEmpty() = false for blank query: %+v", q)
	}
}

func TestParse_ColonInsideValueIsKept(t *testing.T) {
	q, err := Parse("subject:re:hello")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	terms := q.Terms()
	if len(terms) != 1 || terms[0].Field != FieldSubject || terms[0].Text != "re:hello" {
		t.Errorf("terms = %+v, want subject:re:hello", terms)
	}
}
