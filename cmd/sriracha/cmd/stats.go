package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:          "stats <archive.mbox>",
	Short:        "Show index statistics for an archive",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		meta, err := s.Meta()
		if err != nil {
			return err
		}
		stats, err := s.Stats()
		if err != nil {
			return err
		}
		stale, err := s.Stale()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Archive:\t%s\n", s.Path())
		fmt.Fprintf(w, "Index:\t%s (%s)\n", s.IndexPath(), formatSize(stats.IndexSize))
		if !meta.BuiltAt.IsZero() {
			fmt.Fprintf(w, "Built:\t%s\n", meta.BuiltAt.Format("2006-01-02 15:04:05 MST"))
		}
		if stale {
			fmt.Fprintf(w, "Status:\tstale (archive changed; run update or index)\n")
		} else {
			fmt.Fprintf(w, "Status:\tcurrent\n")
		}
		fmt.Fprintf(w, "Messages:\t%d\n", stats.DocumentCount)
		fmt.Fprintf(w, "Labels:\t%d\n", stats.LabelCount)
		fmt.Fprintf(w, "Tags:\t%d (on %d messages)\n", stats.TagCount, stats.TaggedCount)
		if n := len(meta.Diagnostics); n > 0 {
			fmt.Fprintf(w, "Diagnostics:\t%d (use --verbose during index to see details)\n", n)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
