package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage user tags on messages",
	Long: `Manage user tags on messages.

Tags live in the index, not the archive; the archive is never modified.
Tags survive an append-only update untouched and carry forward across a full
rebuild by message identifier.`,
}

var tagAddCmd = &cobra.Command{
	Use:          "add <archive.mbox> <message-id> <tag...>",
	Short:        "Add tags to a message",
	Args:         cobra.MinimumNArgs(3),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SetTags(args[1], args[2:]...); err != nil {
			return err
		}
		tags, err := s.Tags(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Tags: %s\n", strings.Join(tags, ", "))
		return nil
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:          "remove <archive.mbox> <message-id> <tag...>",
	Short:        "Remove tags from a message",
	Args:         cobra.MinimumNArgs(3),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.ClearTags(args[1], args[2:]...); err != nil {
			return err
		}
		tags, err := s.Tags(args[1])
		if err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Println("No tags.")
			return nil
		}
		fmt.Printf("Tags: %s\n", strings.Join(tags, ", "))
		return nil
	},
}

var tagListCmd = &cobra.Command{
	Use:          "list <archive.mbox> [message-id]",
	Short:        "List tags, for one message or the whole archive",
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 2 {
			tags, err := s.Tags(args[1])
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Println("No tags.")
				return nil
			}
			for _, tag := range tags {
				fmt.Println(tag)
			}
			return nil
		}

		counts, err := s.TagList()
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No tags.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tMESSAGES")
		for _, nc := range counts {
			fmt.Fprintf(w, "%s\t%d\n", nc.Name, nc.Count)
		}
		return w.Flush()
	},
}

func init() {
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRemoveCmd)
	tagCmd.AddCommand(tagListCmd)
	rootCmd.AddCommand(tagCmd)
}
