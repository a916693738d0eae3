package twitter

const (
	// DefaultAPIBaseURL is the base URL of the v1.1 REST API
	DefaultAPIBaseURL = "https://api.twitter.com/1.1/"

	// DefaultStreamHost is the host of the v2 API; the v2 client adds the
	// /2/tweets/search/stream paths itself
	DefaultStreamHost = "https://api.twitter.com"

	// MaxSearchCount is the largest page the search endpoint returns per request
	MaxSearchCount = 100

	// TweetMode asks the search endpoint for untruncated text
	TweetMode = "extended"
)
