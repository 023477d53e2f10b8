package chatlist

import (
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// Yesterday is rendered for timestamps between 24h and 48h old.
const Yesterday = "Yesterday"

// Layouts controls how FormatTime renders recent and older timestamps.
type Layouts struct {
	Time string
	Date string
}

// DefaultLayouts renders "15:04" for today and "Jan 2, 2006" otherwise.
var DefaultLayouts = Layouts{Time: "15:04", Date: "Jan 2, 2006"}

// FormatTime humanizes an ISO timestamp relative to now. Unparsable input
// yields "". Less than 24h old (including future timestamps) renders as
// hour:minute in loc, less than 48h renders Yesterday, anything older
// renders as a date.
func FormatTime(iso string, now time.Time, loc *time.Location, l Layouts) string {
	if loc == nil {
		loc = time.Local
	}
	ts, ok := chat.ParseTimestamp(iso, loc)
	if !ok {
		return ""
	}
	if l.Time == "" {
		l.Time = DefaultLayouts.Time
	}
	if l.Date == "" {
		l.Date = DefaultLayouts.Date
	}

	age := now.Sub(ts)
	switch {
	case age < 24*time.Hour:
		return ts.In(loc).Format(l.Time)
	case age < 48*time.Hour:
		return Yesterday
	default:
		return ts.In(loc).Format(l.Date)
	}
}
