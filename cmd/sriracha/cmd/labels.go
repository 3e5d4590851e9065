package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels <archive.mbox>",
	Short: "List the archive's native labels",
	Long: `List the labels found in the archive (X-Gmail-Labels headers) with
message counts. Labels come from the archive itself and are read-only;
use "tag" for your own annotations.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		labels, err := s.Labels()
		if err != nil {
			return err
		}
		if len(labels) == 0 {
			fmt.Println("No labels.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tMESSAGES")
		for _, nc := range labels {
			fmt.Fprintf(w, "%s\t%d\n", nc.Name, nc.Count)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
