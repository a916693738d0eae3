package storage

import (
	"strings"

	"twitgather/pkg/record"
)

// NullSentinel is written in place of a null field
const NullSentinel = "none"

// Sanitize replaces newline, tab and carriage return with a space and then
// collapses double spaces in a single pass, so a value can never break a
// line or shift a column
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "  ", " ")
}

// Line serializes a record to one tab-separated line without the trailing
// newline
func Line(rec record.Record) string {
	fields := rec.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		if !f.Valid {
			cols[i] = NullSentinel
			continue
		}
		cols[i] = Sanitize(f.String)
	}
	return strings.Join(cols, "\t")
}
