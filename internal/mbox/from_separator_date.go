package mbox

import (
	"strings"
	"time"
)

var fromSeparatorDateLayouts = []string{
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 -0700 2006",
	"Mon Jan 2 15:04:05 -07:00 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan 2 15:04:05 2006 -0700",
	"Mon Jan 2 15:04:05 2006 -07:00",
	"Mon Jan 2 15:04:05 2006 MST",
	"Mon Jan 2 15:04 2006",
	"Mon Jan 2 15:04 MST 2006",
	"Mon Jan 2 15:04 2006 -0700",
	"Jan 2 15:04:05 2006",
	"Jan 2 15:04:05 -0700 2006",
	"Jan 2 15:04:05 MST 2006",
	"Jan 2 15:04:05 2006 -0700",
	"Jan 2 15:04:05 2006 MST",
}

// ParseFromSeparatorDate parses the ctime-like date portion of an mbox
// "From " separator line.
//
// This is intentionally permissive and is used as a heuristic for separator
// detection. In edge cases an unescaped body line that looks like a separator
// ("From <x> <ctime-like date> ...") can be misclassified; mbox writers are
// expected to escape such body lines (">From ").
func ParseFromSeparatorDate(line string) (time.Time, bool) {
	fields := strings.Fields(line)
	// Typical separator: "From <sender> <ctime-like date> [extra...]". Some
	// producers append extra tokens ("remote from ..."), so only the date
	// prefix is parsed.
	if len(fields) < 6 || fields[0] != "From" {
		return time.Time{}, false
	}

	for _, layout := range fromSeparatorDateLayouts {
		n := len(strings.Fields(layout))
		if len(fields) < 2+n {
			continue
		}
		dateStr := strings.Join(fields[2:2+n], " ")
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
