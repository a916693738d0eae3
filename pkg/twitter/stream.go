package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	twitterv2 "github.com/g8rswimmer/go-twitter/v2"

	errs "twitgather/pkg/errors"
	"twitgather/pkg/logger"
	"twitgather/pkg/ratelimit"
)

// connectionCheck is how often Connect looks at the liveness of the stream
const connectionCheck = 250 * time.Millisecond

// StreamOptions configures a StreamClient
type StreamOptions struct {
	// BaseURL overrides DefaultStreamHost. A trailing /2 is accepted.
	BaseURL string
	// Fields are requested through tweet.fields
	Fields []string
	// RequestTimeout bounds rule management calls; the stream itself has
	// no timeout
	RequestTimeout time.Duration
	// RuleLimiter paces rule management calls; nil means unlimited
	RuleLimiter ratelimit.Limiter
	// Transport carries every request; nil means http.DefaultTransport
	Transport http.RoundTripper
	Logger    logger.Logger
}

// bearerAuthorizer signs v2 requests with an app-only bearer token
type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("User-Agent", "twitgather")
}

// StreamClient talks to the v2 filtered stream with an app-only bearer token
type StreamClient struct {
	rules   *twitterv2.Client
	stream  *twitterv2.Client
	fields  []twitterv2.TweetField
	limiter ratelimit.Limiter
	logger  logger.Logger
}

// NewStreamClient creates a filtered stream client
func NewStreamClient(bearerToken string, opts StreamOptions) (*StreamClient, error) {
	if bearerToken == "" {
		return nil, errs.New(errs.ErrorTypeAuth, 0, "bearer token is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	limiter := opts.RuleLimiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	host := streamHost(opts.BaseURL)
	auth := bearerAuthorizer{token: bearerToken}
	transport := &loggingTransport{logger: log, next: next}

	fields := make([]twitterv2.TweetField, 0, len(opts.Fields))
	for _, f := range opts.Fields {
		fields = append(fields, twitterv2.TweetField(f))
	}

	return &StreamClient{
		rules: &twitterv2.Client{
			Authorizer: auth,
			Client:     &http.Client{Transport: transport, Timeout: opts.RequestTimeout},
			Host:       host,
		},
		stream: &twitterv2.Client{
			Authorizer: auth,
			Client:     &http.Client{Transport: transport},
			Host:       host,
		},
		fields:  fields,
		limiter: limiter,
		logger:  log,
	}, nil
}

// streamHost reduces a configured base URL to the API host the v2 client
// expects
func streamHost(base string) string {
	if base == "" {
		return DefaultStreamHost
	}
	return strings.TrimSuffix(strings.TrimRight(base, "/"), "/2")
}

// Rules lists the rules currently attached to the stream
func (c *StreamClient) Rules(ctx context.Context) ([]Rule, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.rules.TweetSearchStreamRules(ctx, nil)
	if err != nil {
		return nil, classifyV2(ctx, err)
	}

	rules := make([]Rule, 0, len(resp.Rules))
	for _, r := range resp.Rules {
		if r == nil {
			continue
		}
		rules = append(rules, Rule{ID: string(r.ID), Value: r.Value, Tag: r.Tag})
	}
	return rules, nil
}

// AddRules attaches rules to the stream
func (c *StreamClient) AddRules(ctx context.Context, rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	add := make([]twitterv2.TweetSearchStreamRule, 0, len(rules))
	for _, r := range rules {
		add = append(add, twitterv2.TweetSearchStreamRule{Value: r.Value, Tag: r.Tag})
	}

	resp, err := c.rules.TweetSearchStreamAddRule(ctx, add, false)
	if err != nil {
		return classifyV2(ctx, err)
	}

	// duplicates are reported as errors but leave the rule in place
	for _, p := range resp.Errors {
		if p == nil || p.Title == "DuplicateRule" {
			continue
		}
		msg := p.Title
		if p.Detail != "" {
			msg += ": " + p.Detail
		}
		return errs.New(errs.ErrorTypeParsing, http.StatusCreated, fmt.Sprintf("add rule %v: %s", p.Value, msg))
	}
	return nil
}

// DeleteRules removes rules by id
func (c *StreamClient) DeleteRules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ruleIDs := make([]twitterv2.TweetSearchStreamRuleID, 0, len(ids))
	for _, id := range ids {
		ruleIDs = append(ruleIDs, twitterv2.TweetSearchStreamRuleID(id))
	}

	if _, err := c.rules.TweetSearchStreamDeleteRuleByID(ctx, ruleIDs, false); err != nil {
		return classifyV2(ctx, err)
	}
	return nil
}

// statusOf extracts the HTTP status from a v2 client error, 0 when the
// request never got a response
func statusOf(err error) int {
	var respErr *twitterv2.ErrorResponse
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	var httpErr *twitterv2.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// classifyV2 maps a v2 client error onto the typed errors used everywhere
// else
func classifyV2(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if code := statusOf(err); code != 0 {
		if typed := errs.FromStatusCode(code, err.Error()); typed != nil {
			return typed
		}
	}
	return errs.Wrap(errs.ErrorTypeNetwork, 0, err)
}

// toStreamPost copies the fields the stream schema keeps
func toStreamPost(t *twitterv2.TweetObj) StreamPost {
	return StreamPost{
		ID:        t.ID,
		AuthorID:  t.AuthorID,
		CreatedAt: t.CreatedAt,
		Lang:      t.Language,
		Source:    t.Source,
		Text:      t.Text,
	}
}

// deliver passes every post of a stream message to onPost
func deliver(msg *twitterv2.TweetMessage, onPost func(StreamPost)) {
	if msg == nil || msg.Raw == nil {
		return
	}
	for _, t := range msg.Raw.Tweets {
		if t != nil {
			onPost(toStreamPost(t))
		}
	}
}

// drainTweets hands over posts already read before the connection dropped
func drainTweets(ts *twitterv2.TweetStream, onPost func(StreamPost)) {
	for {
		select {
		case msg, ok := <-ts.Tweets():
			if !ok {
				return
			}
			deliver(msg, onPost)
		default:
			return
		}
	}
}

// Connect opens the stream and blocks reading it. Each pushed post is
// passed to onPost from the calling goroutine. When the connection fails,
// onError receives the HTTP status (0 for a network failure) and Connect
// returns the error; it never reconnects. Cancelling ctx closes the
// connection and returns ctx.Err() without calling onError.
func (c *StreamClient) Connect(ctx context.Context, onPost func(StreamPost), onError func(code int)) error {
	ts, err := c.stream.TweetSearchStream(ctx, twitterv2.TweetSearchStreamOpts{
		TweetFields: c.fields,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onError(statusOf(err))
		return classifyV2(ctx, err)
	}
	defer ts.Close()

	c.logger.Info("stream connected")

	closed := func(cause error) error {
		onError(0)
		return errs.Wrap(errs.ErrorTypeNetwork, 0, fmt.Errorf("stream closed: %w", cause))
	}

	ticker := time.NewTicker(connectionCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ts.Tweets():
			if !ok {
				return closed(errors.New("tweet channel closed"))
			}
			deliver(msg, onPost)

		case sys, ok := <-ts.SystemMessages():
			if !ok {
				return closed(errors.New("system channel closed"))
			}
			c.logger.WarnWithFields("stream system message", map[string]interface{}{
				"message": fmt.Sprintf("%v", sys),
			})

		case streamErr, ok := <-ts.Err():
			if !ok {
				return closed(errors.New("error channel closed"))
			}
			// malformed messages are reported here too; a dead connection
			// is caught by the liveness check below
			c.logger.WithError(streamErr).Warn("stream reported an error")

		case <-ticker.C:
			if !ts.Connection() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				drainTweets(ts, onPost)
				return closed(errors.New("connection lost"))
			}
		}
	}
}
