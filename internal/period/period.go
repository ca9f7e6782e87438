package period

import (
	"fmt"
	"strings"
	"time"
)

// Length is the span of one sampling period.
const Length = 7 * 24 * time.Hour

// Anchor identifies the weekly instant at which a new period begins.
type Anchor struct {
	Weekday time.Weekday
	Hour    int
}

// Default anchors periods on Wednesday 12:00 UTC.
var Default = Anchor{Weekday: time.Wednesday, Hour: 12}

// Start returns the most recent anchor instant at or before now.
func (a Anchor) Start(now time.Time) time.Time {
	now = now.UTC()
	days := (int(now.Weekday()) - int(a.Weekday) + 7) % 7
	start := time.Date(now.Year(), now.Month(), now.Day()-days, a.Hour, 0, 0, 0, time.UTC)
	if now.Before(start) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// End returns the exclusive end of the period containing now.
func (a Anchor) End(now time.Time) time.Time {
	return a.Start(now).Add(Length)
}

// Start applies the default anchor.
func Start(now time.Time) time.Time {
	return Default.Start(now)
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", v)
}
