package twitter

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"twitgather/pkg/logger"
)

// NewOAuth1HTTPClient returns an http.Client that signs every request with
// the user-context OAuth1 credentials required by the search API
func NewOAuth1HTTPClient(consumerKey, consumerSecret, accessToken, accessTokenSecret string, timeout time.Duration) *http.Client {
	cfg := oauth1.NewConfig(consumerKey, consumerSecret)
	token := oauth1.NewToken(accessToken, accessTokenSecret)

	client := cfg.Client(oauth1.NoContext, token)
	client.Timeout = timeout
	return client
}

// rebaseTransport sends requests aimed at one base URL to another one. It
// lets the search client, whose base URL is fixed, talk to a proxy or a
// test server.
type rebaseTransport struct {
	from *url.URL
	to   *url.URL
	next http.RoundTripper
}

func newRebaseTransport(from, to string, next http.RoundTripper) (*rebaseTransport, error) {
	f, err := url.Parse(from)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", from, err)
	}
	t, err := url.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", to, err)
	}
	return &rebaseTransport{from: f, to: t, next: next}, nil
}

func (t *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.from.Host || !strings.HasPrefix(req.URL.Path, t.from.Path) {
		return t.next.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	rest := strings.TrimPrefix(req.URL.Path, t.from.Path)
	r.URL.Scheme = t.to.Scheme
	r.URL.Host = t.to.Host
	r.URL.Path = strings.TrimRight(t.to.Path, "/") + "/" + strings.TrimLeft(rest, "/")
	r.Host = t.to.Host
	return t.next.RoundTrip(r)
}

// loggingTransport logs every request with its status and latency
type loggingTransport struct {
	logger logger.Logger
	next   http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.WithError(err).WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":      req.Method,
			"url":         req.URL.Redacted(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, err
	}
	logger.LogRequest(t.logger, req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(start))
	return resp, nil
}

// transportOf returns the client's transport or the default one
func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
