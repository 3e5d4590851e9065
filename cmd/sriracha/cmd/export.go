package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <archive.mbox> <message-id>",
	Short: "Export a message's exact bytes",
	Long: `Export one message byte-identical to its archive content, including
the mbox separator line. The result is itself a valid single-message mbox
stream. Writes to stdout unless -o names a file.`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		out := os.Stdout
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}
		return s.Export(args[1], out)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
