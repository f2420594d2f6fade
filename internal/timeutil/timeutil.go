// Package timeutil provides shared time formatting helpers.
// All stored timestamps are RFC 3339 (nano, UTC) strings so SQLite
// lexicographic ordering matches chronological ordering.
package timeutil

import "time"

// Format renders t as RFC3339Nano in UTC. The zero time renders
// as the empty string.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Ptr is Format returning a *string, with nil for the zero time.
// Used for nullable timestamp columns.
func Ptr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := Format(t)
	return &s
}

// Parse accepts RFC3339Nano or RFC3339 timestamps.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}
