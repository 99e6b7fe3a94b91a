package models

import (
	"strings"
	"time"
)

// Timestamp is a date-time as entered by users and stored in the itinerary.
// Values are kept verbatim; malformed values are tolerated and reported by Time.
type Timestamp string

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Time parses the timestamp. ok is false for empty or unparseable values.
func (t Timestamp) Time() (time.Time, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Valid reports whether the timestamp parses.
func (t Timestamp) Valid() bool {
	_, ok := t.Time()
	return ok
}

// NewTimestamp formats t the way the engine writes timestamps back.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(time.RFC3339))
}
