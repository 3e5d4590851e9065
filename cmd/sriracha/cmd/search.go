package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cameronkerrnz/sriracha/internal/archive"
	"github.com/cameronkerrnz/sriracha/internal/query"
	"github.com/cameronkerrnz/sriracha/internal/retrieve"
	"github.com/cameronkerrnz/sriracha/internal/search"
	"github.com/cameronkerrnz/sriracha/internal/textutil"
)

var (
	searchLimit     int
	searchOffset    int
	searchJSON      bool
	searchNoExcerpt bool
)

var searchCmd = &cobra.Command{
	Use:   "search <archive.mbox> <query...>",
	Short: "Search an indexed archive",
	Long: `Search an indexed archive.

Supported query syntax:
  from:        Sender name or address
  to:          Recipient
  cc:          CC recipient
  subject:     Subject text
  body:        Body text
  attachment:  Attachment file name (filename: also works)
  label:       Archive label, e.g. label:INBOX (or l:)
  tag:         User tag
  id:          Message identifier
  has:         has:attachment - messages with attachments
  before:      Messages before date (YYYY-MM-DD)
  after:       Messages after date (YYYY-MM-DD)

Bare words and "quoted phrases" search subject and body. Terms are combined
with AND; use OR between terms for alternatives and a leading - (or NOT) to
exclude. Word matching is stemmed: "review" finds "reviews" and "reviewing".

Examples:
  sriracha search mail.mbox from:alice budget
  sriracha search mail.mbox subject:"quarterly report" after:2023-01-01
  sriracha search mail.mbox urgent OR important -tag:done
  sriracha search mail.mbox label:Work has:attachment`,
	Args:         cobra.MinimumNArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		queryStr := strings.Join(args[1:], " ")

		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		limit := searchLimit
		if limit <= 0 {
			limit = cfg.Search.Limit
		}
		refs, err := s.Search(cmd.Context(), queryStr, search.Filters{}, limit, searchOffset)
		if err != nil {
			return err
		}

		if len(refs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		if searchJSON {
			return printResultsJSON(refs)
		}
		q, err := search.Parse(queryStr)
		if err != nil {
			return err
		}
		return printResultsTable(s, q, refs)
	},
}

func printResultsTable(s *archive.Session, q *search.Query, refs []query.Reference) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tFROM\tSUBJECT\tID")
	for _, ref := range refs {
		date := "-"
		if !ref.Date.IsZero() {
			date = ref.Date.Format("2006-01-02")
		}
		subject := truncate(ref.Subject, 60)
		if ref.Truncated {
			subject += " [truncated]"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			date, truncate(ref.Sender, 30), subject, ref.MessageID)
	}
	w.Flush()

	if !searchNoExcerpt && q.HasText() {
		fmt.Println()
		for _, ref := range refs {
			printExcerpts(s, q, ref)
		}
	}

	fmt.Printf("\nShowing %d results\n", len(refs))
	return nil
}

func printExcerpts(s *archive.Session, q *search.Query, ref query.Reference) {
	raw, err := s.RawAt(ref.Range)
	if err != nil {
		return
	}
	spans := retrieve.Highlight(raw, q)
	if len(spans) == 0 {
		return
	}
	const maxExcerpts = 2
	fmt.Printf("%s\n", dim(ref.MessageID))
	for i, span := range spans {
		if i >= maxExcerpts {
			break
		}
		fmt.Printf("  %s: %s\n", span.Field, colorizeFragment(span, q))
	}
}

// colorizeFragment emphasizes each query term occurrence inside the fragment.
func colorizeFragment(span retrieve.Span, q *search.Query) string {
	frag := span.Fragment
	for _, t := range q.Terms() {
		frag = emphasizeTerm(frag, t.Text)
	}
	return frag
}

func emphasizeTerm(text, term string) string {
	if term == "" {
		return text
	}
	var out strings.Builder
	from := 0
	for {
		start, end := textutil.FoldIndex(text, term, from)
		if start < 0 {
			out.WriteString(text[from:])
			return out.String()
		}
		out.WriteString(text[from:start])
		out.WriteString(emphasize(text[start:end]))
		from = end
	}
}

func printResultsJSON(refs []query.Reference) error {
	output := make([]map[string]any, len(refs))
	for i, ref := range refs {
		var date string
		if !ref.Date.IsZero() {
			date = ref.Date.Format(time.RFC3339)
		}
		output[i] = map[string]any{
			"message_id":     ref.MessageID,
			"range_offset":   ref.Range.Offset,
			"range_length":   ref.Range.Length,
			"date":           date,
			"subject":        ref.Subject,
			"from":           ref.Sender,
			"score":          ref.Score,
			"matched_fields": ref.MatchedFields,
			"truncated":      ref.Truncated,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default from config)")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "skip this many results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().BoolVar(&searchNoExcerpt, "no-excerpt", false, "suppress match excerpts")
	rootCmd.AddCommand(searchCmd)
}
