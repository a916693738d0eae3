package twitter

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	gotwitter "github.com/dghubble/go-twitter/twitter"

	errs "twitgather/pkg/errors"
	"twitgather/pkg/logger"
	"twitgather/pkg/ratelimit"
)

// rateLimitExceededCode is the v1.1 API error code for an exhausted window
const rateLimitExceededCode = 88

// SearchOptions configures a SearchClient
type SearchOptions struct {
	// BaseURL overrides DefaultAPIBaseURL
	BaseURL string
	// Limiter paces requests; nil means unlimited
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// blocker is implemented by limiters that can be told about a server-side
// reset time
type blocker interface {
	BlockUntil(t time.Time)
}

// SearchClient pages backward through the v1.1 recent search API
type SearchClient struct {
	client  *gotwitter.Client
	limiter ratelimit.Limiter
	logger  logger.Logger
}

// NewSearchClient wraps an authenticated http.Client, normally the one from
// NewOAuth1HTTPClient
func NewSearchClient(httpClient *http.Client, opts SearchOptions) (*SearchClient, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	next := transportOf(httpClient)
	if opts.BaseURL != "" && opts.BaseURL != DefaultAPIBaseURL {
		rebase, err := newRebaseTransport(DefaultAPIBaseURL, opts.BaseURL, next)
		if err != nil {
			return nil, err
		}
		next = rebase
	}

	wrapped := *httpClient
	wrapped.Transport = &loggingTransport{logger: log, next: next}

	return &SearchClient{
		client:  gotwitter.NewClient(&wrapped),
		limiter: limiter,
		logger:  log,
	}, nil
}

// Search requests up to limit posts matching query with ids strictly below
// maxID, newest first, and hands each one to yield. A maxID of
// math.MaxInt64 (or 0) starts from the newest post. Search stops early when
// the API has nothing older, when yield returns an error, or on the first
// failed request; posts yielded before a failure stay yielded. An
// exhausted request window fails immediately with a rate-limit error
// instead of waiting for the window to roll over.
func (c *SearchClient) Search(ctx context.Context, query string, maxID int64, limit int, yield func(Post) error) error {
	if maxID <= 0 {
		maxID = math.MaxInt64
	}

	next := maxID
	remaining := limit
	for remaining > 0 {
		if next <= 1 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.limiter.Allow() {
			// the caller owns the pause between attempts
			c.logger.Debug("search request window exhausted")
			return errs.New(errs.ErrorTypeRateLimit, http.StatusTooManyRequests, "search request window exhausted")
		}

		params := &gotwitter.SearchTweetParams{
			Query:           query,
			Count:           min(remaining, MaxSearchCount),
			ResultType:      "recent",
			IncludeEntities: gotwitter.Bool(true),
			TweetMode:       TweetMode,
		}
		if next != math.MaxInt64 {
			// the API bound is inclusive
			params.MaxID = next - 1
		}

		search, resp, err := c.client.Search.Tweets(params)
		if err := c.classify(resp, err); err != nil {
			return err
		}
		if search == nil || len(search.Statuses) == 0 {
			return nil
		}

		lowest := next
		for _, tweet := range search.Statuses {
			if tweet.ID >= next || tweet.ID <= 0 {
				continue
			}
			if tweet.ID < lowest {
				lowest = tweet.ID
			}
			remaining--
			if err := yield(FromTweet(tweet)); err != nil {
				return err
			}
			if remaining == 0 {
				break
			}
		}

		if lowest >= next {
			// nothing new below the bound
			return nil
		}
		next = lowest
	}

	return nil
}

// classify turns a search response into a typed error, noting server-side
// rate-limit resets on the limiter
func (c *SearchClient) classify(resp *http.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
		c.observeRateLimit(resp)
	}

	var apiErr gotwitter.APIError
	hasAPIErr := errors.As(err, &apiErr)

	if status == http.StatusTooManyRequests || (hasAPIErr && hasCode(apiErr, rateLimitExceededCode)) {
		return errs.New(errs.ErrorTypeRateLimit, http.StatusTooManyRequests, "search rate limit exceeded")
	}

	if status >= 300 {
		msg := ""
		if hasAPIErr {
			msg = apiErr.Error()
		}
		return errs.FromStatusCode(status, msg)
	}

	if err != nil {
		if status == 0 {
			return errs.Wrap(errs.ErrorTypeNetwork, 0, err)
		}
		return errs.Wrap(errs.ErrorTypeParsing, status, err)
	}

	return nil
}

// observeRateLimit reads the x-rate-limit-* headers and closes the limiter
// until the window resets when it is exhausted
func (c *SearchClient) observeRateLimit(resp *http.Response) {
	b, ok := c.limiter.(blocker)
	if !ok {
		return
	}

	remaining := resp.Header.Get("x-rate-limit-remaining")
	if resp.StatusCode != http.StatusTooManyRequests && remaining != "0" {
		return
	}

	reset, err := strconv.ParseInt(resp.Header.Get("x-rate-limit-reset"), 10, 64)
	if err != nil {
		return
	}

	until := time.Unix(reset, 0)
	logger.LogRateLimit(c.logger, "search/tweets", time.Until(until).Round(time.Second))
	b.BlockUntil(until)
}

func hasCode(apiErr gotwitter.APIError, code int) bool {
	for _, d := range apiErr.Errors {
		if d.Code == code {
			return true
		}
	}
	return false
}

// FromTweet converts a v1.1 tweet to a Post
func FromTweet(t gotwitter.Tweet) Post {
	p := Post{
		ID:              t.ID,
		FullText:        t.FullText,
		Lang:            t.Lang,
		InReplyToUserID: t.InReplyToUserID,
		RetweetCount:    t.RetweetCount,
		Source:          t.Source,
	}
	if p.FullText == "" {
		p.FullText = t.Text
	}
	if created, err := t.CreatedAtTime(); err == nil {
		p.CreatedAt = created.UTC()
	}
	if t.Coordinates != nil {
		p.Geo = &Geo{
			Longitude: t.Coordinates.Coordinates[0],
			Latitude:  t.Coordinates.Coordinates[1],
		}
	}
	if t.Entities != nil {
		p.Entities = &Entities{}
		for _, h := range t.Entities.Hashtags {
			p.Entities.Hashtags = append(p.Entities.Hashtags, Hashtag{Text: h.Text})
		}
	}
	if t.User != nil {
		p.Author = &Author{
			ID:              t.User.ID,
			Name:            t.User.Name,
			Location:        t.User.Location,
			Description:     t.User.Description,
			FavouritesCount: t.User.FavouritesCount,
			FollowersCount:  t.User.FollowersCount,
			FriendsCount:    t.User.FriendsCount,
		}
		if created, err := time.Parse(time.RubyDate, t.User.CreatedAt); err == nil {
			p.Author.CreatedAt = created.UTC()
		}
	}
	if t.RetweetedStatus != nil {
		p.RetweetedStatusID = t.RetweetedStatus.ID
	}
	return p
}
