// Package record flattens API posts into fixed-schema tuples of scalar
// fields. Column order is the dataset contract and never changes.
package record

import (
	"strconv"
	"time"
)

// Schema names, also used in dataset file names
const (
	SchemaArchive = "archive"
	SchemaStream  = "stream"
)

// TimeLayout is how timestamps are rendered in every column
const TimeLayout = "2006-01-02 15:04:05-07:00"

// Field is one scalar column value. An invalid Field is null.
type Field struct {
	String string
	Valid  bool
}

// Null is the null field
var Null = Field{}

// Str returns a non-null string field, even when s is empty
func Str(s string) Field {
	return Field{String: s, Valid: true}
}

// OptStr returns a string field that is null when s is empty
func OptStr(s string) Field {
	if s == "" {
		return Null
	}
	return Str(s)
}

// Int returns a non-null integer field
func Int(v int64) Field {
	return Str(strconv.FormatInt(v, 10))
}

// OptID returns an identifier field that is null when id is 0
func OptID(id int64) Field {
	if id == 0 {
		return Null
	}
	return Int(id)
}

// Time returns a UTC timestamp field that is null for the zero time
func Time(t time.Time) Field {
	if t.IsZero() {
		return Null
	}
	return Str(t.UTC().Format(TimeLayout))
}

// Record is a flattened post ready for tabular storage
type Record interface {
	// Schema is SchemaArchive or SchemaStream
	Schema() string
	// Key identifies the post across runs
	Key() string
	// Fields returns the column values in schema order
	Fields() []Field
}
