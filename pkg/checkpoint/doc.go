// Package checkpoint tracks how far back the backfill has read.
//
// The checkpoint is a single post identifier: the exclusive upper bound for
// the next search page. A Tracker holds it in memory and only ever lowers
// it. A Manager persists it as JSON so that a stopped collector can resume
// where it left off:
//
//	<output_root>/data/checkpoint.json
//
// The file is written atomically through a temporary file and a rename, so a
// crash mid-write leaves the previous checkpoint intact.
package checkpoint
