package record

import (
	"time"

	"twitgather/pkg/twitter"
)

// StreamColumns names the stream schema columns in order
var StreamColumns = []string{"id", "author_id", "created_at", "lang", "source", "text"}

// StreamRecord is the lean schema produced by the stream pipeline
type StreamRecord struct {
	ID        Field
	AuthorID  Field
	CreatedAt Field
	Lang      Field
	Source    Field
	Text      Field
}

// FromStreamPost extracts a StreamRecord; fields the stream omitted are null
func FromStreamPost(p twitter.StreamPost) *StreamRecord {
	return &StreamRecord{
		ID:        OptStr(p.ID),
		AuthorID:  OptStr(p.AuthorID),
		CreatedAt: streamTime(p.CreatedAt),
		Lang:      OptStr(p.Lang),
		Source:    OptStr(p.Source),
		Text:      Str(p.Text),
	}
}

func (r *StreamRecord) Schema() string { return SchemaStream }

func (r *StreamRecord) Key() string { return r.ID.String }

func (r *StreamRecord) Fields() []Field {
	return []Field{r.ID, r.AuthorID, r.CreatedAt, r.Lang, r.Source, r.Text}
}

// streamTime renders an RFC 3339 timestamp in TimeLayout, passing through
// anything it cannot parse
func streamTime(s string) Field {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return OptStr(s)
	}
	return Time(t)
}
