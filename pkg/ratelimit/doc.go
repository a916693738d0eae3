// Package ratelimit keeps request counts inside the API's published budgets.
//
// SlidingWindow tracks requests inside a moving window and can be blocked
// until a server-reported reset time; the search client uses it for the
// per-15-minute search budget and calls Allow, so an exhausted window
// fails fast instead of sleeping. TokenBucket refills to capacity once per
// period; the stream client uses it for rule management calls. Unlimited
// is used when no budget is configured.
//
//	limiter := ratelimit.NewSlidingWindow(180, 15*time.Minute)
//	if !limiter.Allow() {
//	    return errs.New(errs.ErrorTypeRateLimit, http.StatusTooManyRequests, "window exhausted")
//	}
package ratelimit
