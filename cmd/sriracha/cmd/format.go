package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

const summaryRound = time.Millisecond

// truncate shortens s to max display cells, appending an ellipsis. Width is
// measured in terminal cells so CJK and emoji line up in table output.
func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "…")
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

var outProfile = func() termenv.Profile {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}()

// emphasize renders match text bold yellow when stdout is a terminal, and
// passes it through unchanged when piped.
func emphasize(s string) string {
	return outProfile.String(s).Foreground(outProfile.Color("11")).Bold().String()
}

// dim renders secondary text faint on terminals.
func dim(s string) string {
	return outProfile.String(s).Faint().String()
}
