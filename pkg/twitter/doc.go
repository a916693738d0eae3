// Package twitter adapts the two Twitter APIs the collector consumes.
//
// SearchClient pages backward through the v1.1 recent search endpoint with
// OAuth1 user credentials, using github.com/dghubble/go-twitter. Search
// takes an exclusive upper bound and converts the API's inclusive max_id
// itself. The request window is checked, never waited on: an exhausted
// window is reported as a rate-limit error.
//
// StreamClient manages rules on, and reads from, the v2 filtered stream
// with an app-only bearer token, using github.com/g8rswimmer/go-twitter/v2.
// Connect never reconnects.
//
// Both clients map failures to pkg/errors types so callers can tell a
// rate-limit refusal from other failures with errors.IsRateLimit.
package twitter
