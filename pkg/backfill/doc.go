// Package backfill pages backward through the search API.
//
// A Pager asks a Searcher for posts strictly older than its checkpoint,
// lowers the checkpoint past every post it sees, and appends each post to
// the archive dataset. Iterations are separated by a fixed sleep, which is
// also the only backoff applied after a rate-limit error.
//
// Failures are contained at the smallest useful scope: a post that cannot be
// extracted or written is logged and skipped, and a page that fails ends the
// current iteration without stopping the loop.
package backfill
