package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cameronkerrnz/sriracha/internal/archive"
	"github.com/cameronkerrnz/sriracha/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sriracha",
	Short: "Search and tag mbox mail archives",
	Long: `sriracha indexes mbox mail archives for full-text search.

The archive is the source of truth: the index is a disposable sidecar file
built beside it, and every message retrieved comes back byte-identical from
the archive. Search covers headers, bodies, and textual attachments, with
labels taken from the archive and user tags layered on top.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// ExecuteContext runs the root command with the given context, enabling
// graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SRIRACHA_HOME/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openSession opens the archive with configured index placement.
func openSession(path string) (*archive.Session, error) {
	return archive.Open(path, archive.Options{
		IndexPath: cfg.IndexPathFor(path),
		Logger:    logger,
	})
}
