package store

import (
	"fmt"
	"strings"
	"time"
)

// TextTimeLayout is the fixed-width UTC layout used where timestamps are
// stored as text. Lexical order matches chronological order.
const TextTimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTextTime renders t in TextTimeLayout.
func FormatTextTime(t time.Time) any { return t.UTC().Format(TextTimeLayout) }

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02",
}

// ParseTime interprets a driver value as a UTC instant. Strings without an
// offset are taken as UTC.
func ParseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return x.UTC(), true
	case string:
		return parseTimeString(x)
	case []byte:
		return parseTimeString(string(x))
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// scanTime scans a nullable timestamp stored either natively or as text.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (t *scanTime) Scan(v any) error {
	if v == nil {
		t.Time, t.Valid = time.Time{}, false
		return nil
	}
	tt, ok := ParseTime(v)
	if !ok {
		return fmt.Errorf("unsupported timestamp value %v (%T)", v, v)
	}
	t.Time, t.Valid = tt, true
	return nil
}

func (t scanTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	x := t.Time
	return &x
}
