// Package localtime handles the gallery's notion of local time.  Only a
// fixed numeric UTC offset is supported; there is no timezone database.
package localtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultOffset = "+00:00"

var offsetRe = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// ParseOffset turns "±HH:MM" into a fixed zone.  ok is false when the value
// is blank or malformed, in which case UTC is returned.
func ParseOffset(s string) (loc *time.Location, ok bool) {
	s = strings.TrimSpace(s)
	m := offsetRe.FindStringSubmatch(s)
	if m == nil {
		return time.UTC, false
	}
	hh, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	if hh > 14 || mm > 59 {
		return time.UTC, false
	}
	secs := hh*3600 + mm*60
	if m[1] == "-" {
		secs = -secs
	}
	return time.FixedZone("UTC"+m[1]+m[2]+":"+m[3], secs), true
}

// MustOffset is like ParseOffset but panics if s is malformed.  It is meant
// for offsets fixed at compile time.
func MustOffset(s string) *time.Location {
	loc, ok := ParseOffset(s)
	if !ok {
		panic(fmt.Sprintf("localtime: malformed offset %q", s))
	}
	return loc
}

// Day is the UTC span of one local calendar day.  End is the last
// millisecond of the day.
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the local day containing now, expressed in UTC.
func DayOf(now time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Day{
		Start: midnight.UTC(),
		End:   midnight.Add(24*time.Hour - time.Millisecond).UTC(),
	}
}

// ClockTime formats t as a 12-hour time of day in loc, e.g. "3:15 PM".
func ClockTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("3:04 PM")
}

// HumanDuration renders window durations the way they appear in denial
// messages: whole hours as "2 hours", otherwise whole minutes.
func HumanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
