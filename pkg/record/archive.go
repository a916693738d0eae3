package record

import (
	"strings"

	"twitgather/pkg/twitter"
)

// ArchiveColumns names the archive schema columns in order
var ArchiveColumns = []string{
	"author_created_at",
	"author_description",
	"author_favourites_count",
	"author_followers_count",
	"author_friends_count",
	"author_id",
	"author_location",
	"author_name",
	"created_at",
	"hashtags",
	"full_text",
	"id",
	"lang",
	"in_reply_to_user_id",
	"retweet_count",
	"source",
	"geo",
	"retweeted_status_id",
}

// ArchiveRecord is the full schema produced by the backfill pipeline,
// including a snapshot of the author's profile
type ArchiveRecord struct {
	AuthorCreatedAt       Field
	AuthorDescription     Field
	AuthorFavouritesCount Field
	AuthorFollowersCount  Field
	AuthorFriendsCount    Field
	AuthorID              Field
	AuthorLocation        Field
	AuthorName            Field
	CreatedAt             Field
	Hashtags              Field
	FullText              Field
	ID                    Field
	Lang                  Field
	InReplyToUserID       Field
	RetweetCount          Field
	Source                Field
	Geo                   Field
	RetweetedStatusID     Field
}

// FromPost extracts an ArchiveRecord. Any missing nested structure yields a
// null for its own columns only.
func FromPost(p twitter.Post) *ArchiveRecord {
	r := &ArchiveRecord{
		CreatedAt:         Time(p.CreatedAt),
		Hashtags:          hashtags(p.Entities),
		FullText:          Str(p.FullText),
		ID:                Int(p.ID),
		Lang:              OptStr(p.Lang),
		InReplyToUserID:   OptID(p.InReplyToUserID),
		RetweetCount:      Int(int64(p.RetweetCount)),
		Source:            OptStr(p.Source),
		Geo:               Null,
		RetweetedStatusID: OptID(p.RetweetedStatusID),
	}

	if p.Geo != nil {
		r.Geo = Str(p.Geo.String())
	}

	if a := p.Author; a != nil {
		r.AuthorCreatedAt = Time(a.CreatedAt)
		r.AuthorDescription = Str(a.Description)
		r.AuthorFavouritesCount = Int(int64(a.FavouritesCount))
		r.AuthorFollowersCount = Int(int64(a.FollowersCount))
		r.AuthorFriendsCount = Int(int64(a.FriendsCount))
		r.AuthorID = Int(a.ID)
		r.AuthorLocation = Str(a.Location)
		r.AuthorName = Str(a.Name)
	}

	return r
}

// hashtags joins hashtag texts with commas; null when there are none
func hashtags(e *twitter.Entities) Field {
	if e == nil || len(e.Hashtags) == 0 {
		return Null
	}

	texts := make([]string, 0, len(e.Hashtags))
	for _, h := range e.Hashtags {
		texts = append(texts, h.Text)
	}
	return Str(strings.Join(texts, ","))
}

func (r *ArchiveRecord) Schema() string { return SchemaArchive }

func (r *ArchiveRecord) Key() string { return r.ID.String }

func (r *ArchiveRecord) Fields() []Field {
	return []Field{
		r.AuthorCreatedAt,
		r.AuthorDescription,
		r.AuthorFavouritesCount,
		r.AuthorFollowersCount,
		r.AuthorFriendsCount,
		r.AuthorID,
		r.AuthorLocation,
		r.AuthorName,
		r.CreatedAt,
		r.Hashtags,
		r.FullText,
		r.ID,
		r.Lang,
		r.InReplyToUserID,
		r.RetweetCount,
		r.Source,
		r.Geo,
		r.RetweetedStatusID,
	}
}
