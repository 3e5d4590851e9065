package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cameronkerrnz/sriracha/internal/mime"
)

var showRaw bool

var showCmd = &cobra.Command{
	Use:   "show <archive.mbox> <message-id>",
	Short: "Display one message",
	Long: `Display one message from the archive.

By default the message is decoded: headers, body text, and attachment
metadata. With --raw the exact archive bytes are printed instead, including
the mbox separator line and any >From escaping.`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		raw, err := s.Raw(args[1])
		if err != nil {
			return err
		}
		if showRaw {
			cmd.OutOrStdout().Write(raw)
			return nil
		}

		doc, err := s.Resolve(args[1])
		if err != nil {
			return err
		}
		env := mime.Decode(raw)

		printHeader("Message-ID", env.MessageID.Value)
		if env.Date.Status == mime.DecodeOK {
			printHeader("Date", env.Date.Value.Format("Mon, 02 Jan 2006 15:04:05 MST"))
		}
		printHeader("From", formatAddressList(env.From.Value))
		printHeader("To", formatAddressList(env.To.Value))
		if len(env.Cc.Value) > 0 {
			printHeader("Cc", formatAddressList(env.Cc.Value))
		}
		printHeader("Subject", env.Subject.Value)
		if len(env.Labels) > 0 {
			printHeader("Labels", strings.Join(env.Labels, ", "))
		}
		if len(doc.Tags) > 0 {
			printHeader("Tags", strings.Join(doc.Tags, ", "))
		}
		if degraded := env.DegradedFields(); len(degraded) > 0 {
			printHeader("Decode", "degraded fields: "+strings.Join(degraded, ", "))
		}

		fmt.Println()
		fmt.Println(env.Body.Value)

		if len(env.Attachments) > 0 {
			fmt.Println()
			for _, a := range env.Attachments {
				fmt.Printf("[attachment: %s (%s, %s)]\n", a.Filename, a.ContentType, formatSize(a.Size))
			}
		}
		if doc.Truncated {
			fmt.Println()
			fmt.Println(dim("[message truncated at end of archive]"))
		}
		return nil
	},
}

func printHeader(name, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%s: %s\n", dim(name), value)
}

func formatAddressList(addrs []mime.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case a.Name != "" && a.Email != "":
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Email))
		case a.Email != "":
			parts = append(parts, a.Email)
		case a.Name != "":
			parts = append(parts, a.Name)
		}
	}
	return strings.Join(parts, ", ")
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print the exact archive bytes")
	rootCmd.AddCommand(showCmd)
}
