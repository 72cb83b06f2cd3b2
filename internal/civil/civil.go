// Package civil interprets the remote API's timezone-naive timestamps.
//
// Every date/time string the Sarool API returns is wall-clock time in
// Europe/Paris. Some payloads carry a trailing "Z"; it does not mean UTC and
// is discarded before parsing.
package civil

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

// ZoneName is the IANA name of the civil timezone used by the API.
const ZoneName = "Europe/Paris"

var (
	zone     *time.Location
	zoneOnce sync.Once
)

// layouts accepted by Parse, tried in order.
var layouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Zone returns the civil timezone.
func Zone() *time.Location {
	zoneOnce.Do(func() {
		loc, err := time.LoadLocation(ZoneName)
		if err != nil {
			// Embedded tzdata makes this unreachable in practice.
			panic(fmt.Sprintf("civil: load %s: %v", ZoneName, err))
		}
		zone = loc
	})
	return zone
}

// ParseError reports a date field of a single record that could not be
// interpreted. It never aborts a batch; callers skip the record.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errEmpty       = errors.New("empty value")
	errNoEnd       = errors.New("neither end nor duration given")
	errNegative    = errors.New("negative duration")
	errEndBeforeSt = errors.New("end before start")
)

// Parse interprets s as wall-clock time in Zone().
func Parse(s string) (time.Time, error) {
	return parseField("date", s)
}

func parseField(field, s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimSuffix(v, "Z")
	if v == "" {
		return time.Time{}, &ParseError{Field: field, Value: s, Err: errEmpty}
	}

	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, v, Zone())
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Field: field, Value: s, Err: lastErr}
}

// ParseStart parses a record start field, tagging errors with the field name.
func ParseStart(s string) (time.Time, error) {
	return parseField("DateDebut", s)
}

// End computes the end instant of a record. A non-empty explicit end wins;
// otherwise start + minutes.
func End(start time.Time, end string, minutes *int) (time.Time, error) {
	if strings.TrimSpace(end) != "" {
		t, err := parseField("DateFin", end)
		if err != nil {
			return time.Time{}, err
		}
		if t.Before(start) {
			return time.Time{}, &ParseError{Field: "DateFin", Value: end, Err: errEndBeforeSt}
		}
		return t, nil
	}
	if minutes == nil {
		return time.Time{}, &ParseError{Field: "Duree", Err: errNoEnd}
	}
	if *minutes < 0 {
		return time.Time{}, &ParseError{Field: "Duree", Value: fmt.Sprint(*minutes), Err: errNegative}
	}
	return start.Add(time.Duration(*minutes) * time.Minute), nil
}

// Format renders t as naive wall-clock time in Zone(), the same shape the
// API uses in its own payloads.
func Format(t time.Time) string {
	return t.In(Zone()).Format("2006-01-02T15:04:05")
}

// Now returns clock() in Zone(), defaulting to time.Now.
func Now(clock func() time.Time) time.Time {
	if clock == nil {
		clock = time.Now
	}
	return clock().In(Zone())
}
