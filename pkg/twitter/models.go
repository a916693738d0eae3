package twitter

import (
	"strconv"
	"time"
)

// Post is one search result from the historical search API. Zero values of
// optional scalar fields mean the API did not send them; nil pointers mean
// the nested structure was absent.
type Post struct {
	ID              int64
	CreatedAt       time.Time
	FullText        string
	Lang            string
	InReplyToUserID int64
	RetweetCount    int
	Source          string
	Geo             *Geo
	Entities        *Entities
	Author          *Author

	// RetweetedStatusID is the id of the original post when this one is a
	// retweet, 0 otherwise
	RetweetedStatusID int64
}

// Author is the profile snapshot attached to a Post
type Author struct {
	ID              int64
	Name            string
	Location        string
	Description     string
	CreatedAt       time.Time
	FavouritesCount int
	FollowersCount  int
	FriendsCount    int
}

// Geo is a point location
type Geo struct {
	Latitude  float64
	Longitude float64
}

// String renders the point as "lat,long"
func (g *Geo) String() string {
	return strconv.FormatFloat(g.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(g.Longitude, 'f', -1, 64)
}

// Entities holds the structured entities parsed out of a post's text
type Entities struct {
	Hashtags []Hashtag
}

// Hashtag is a single hashtag entity, without the leading '#'
type Hashtag struct {
	Text string
}

// StreamPost is one item pushed by the filtered stream. The stream sends
// every field as a string; an empty string means the field was missing.
type StreamPost struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
	Source    string `json:"source"`
	Text      string `json:"text"`
}

// Rule is a filtered stream rule
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}
