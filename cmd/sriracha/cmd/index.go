package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cameronkerrnz/sriracha/internal/builder"
)

var indexCmd = &cobra.Command{
	Use:   "index <archive.mbox>",
	Short: "Build the search index for an archive",
	Long: `Build the search index for an mbox archive from scratch.

The index is written beside the archive (or into the configured index
directory) and can be rebuilt at any time; user tags survive a rebuild by
message identifier. Interrupting a build is safe, but the index stays
unusable until a build completes.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		summary, err := s.Build(cmd.Context(), buildOptions())
		clearProgress()
		if err != nil {
			return err
		}
		printBuildSummary("Indexed", summary)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <archive.mbox>",
	Short: "Extend the index across an append-only archive change",
	Long: `Index only the messages appended since the last build or update.

The previously indexed part of the archive is verified by hash first. If it
changed in any way (messages rewritten, deleted, or reordered), the update is
refused and the index left untouched; run a full "index" build instead.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		summary, err := s.Update(cmd.Context(), buildOptions())
		clearProgress()
		if err != nil {
			if errors.Is(err, builder.ErrAmbiguousUpdate) {
				return fmt.Errorf("%w\n(run \"sriracha index %s\" to rebuild)", err, args[0])
			}
			return err
		}
		printBuildSummary("Added", summary)
		return nil
	},
}

func buildOptions() builder.Options {
	opts := builder.Options{
		MaxMessageBytes: cfg.MaxMessageBytes(),
		Logger:          logger,
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		opts.Progress = showProgress
	}
	return opts
}

func showProgress(p builder.Progress) {
	if p.Messages%100 != 0 {
		return
	}
	pct := int64(0)
	if p.TotalBytes > 0 {
		pct = p.Bytes * 100 / p.TotalBytes
	}
	fmt.Fprintf(os.Stderr, "\rIndexing... %d messages (%d%%)", p.Messages, pct)
}

func clearProgress() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "\r\033[K")
	}
}

func printBuildSummary(verb string, summary *builder.Summary) {
	fmt.Printf("%s %d messages in %s\n", verb, summary.MessagesIndexed, summary.Duration.Round(summaryRound))
	if summary.Degraded > 0 {
		fmt.Printf("  %d messages had fields that did not decode cleanly\n", summary.Degraded)
	}
	if summary.Truncated > 0 {
		fmt.Printf("  %d truncated final message\n", summary.Truncated)
	}
	if summary.TagsCarried > 0 {
		fmt.Printf("  %d tags carried forward\n", summary.TagsCarried)
	}
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(updateCmd)
}
