package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Appointment is a read-only record returned by the scheduling service.
type Appointment struct {
	ContactID  ContactID `json:"contactId"`
	StartTime  Timestamp `json:"startTime"`
	LocationID string    `json:"locationId,omitempty"`
}

// ContactID is the scheduling service's opaque contact identifier.  Some
// upstream records encode it as a JSON number, so both forms are accepted.
type ContactID string

func (c *ContactID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ContactID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = ContactID(n.String())
	return nil
}

// Timestamp keeps an appointment start time in the form the upstream sent it.
// Resolution is deferred until the appointment is actually matched, so a
// single malformed record never fails a whole lookup.
type Timestamp struct {
	raw json.RawMessage
}

// TimestampFromMillis builds a Timestamp holding epoch milliseconds.
func TimestampFromMillis(ms int64) Timestamp {
	return Timestamp{raw: json.RawMessage(strconv.FormatInt(ms, 10))}
}

// TimestampFromString builds a Timestamp holding an ISO-8601 string.
func TimestampFromString(s string) Timestamp {
	b, _ := json.Marshal(s)
	return Timestamp{raw: b}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.raw = append(t.raw[:0], b...)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// String returns the raw upstream value, for logs.
func (t Timestamp) String() string { return string(t.raw) }

// offsetLayouts are ISO-8601 forms with a basic-format offset (+0000, -0500)
// that RFC 3339 parsing does not accept.
var offsetLayouts = []string{
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z0700",
}

// zonelessLayouts are ISO-8601 forms that carry no offset.  They are read in
// the caller-supplied location.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Resolve converts the raw value into an absolute instant.  Numbers (and
// all-digit strings) are epoch milliseconds; other strings are ISO-8601.
// Strings without an offset are interpreted in loc.
func (t Timestamp) Resolve(loc *time.Location) (time.Time, bool) {
	raw := bytes.TrimSpace(t.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, false
		}
		return fromMillis(n.String())
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if isDigits(s) {
		return fromMillis(s)
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), true
	}
	for _, layout := range offsetLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonelessLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Fractional epoch values such as 1704121200000.0.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}, false
		}
		if !(f >= math.MinInt64 && f < math.MaxInt64) {
			return time.Time{}, false
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
