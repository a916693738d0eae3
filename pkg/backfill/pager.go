package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twitgather/pkg/checkpoint"
	"twitgather/pkg/config"
	errs "twitgather/pkg/errors"
	"twitgather/pkg/logger"
	"twitgather/pkg/record"
	"twitgather/pkg/retry"
	"twitgather/pkg/storage"
	"twitgather/pkg/twitter"
)

// Searcher yields posts matching query with ids strictly below maxID,
// newest first, stopping after limit posts. A maxID of zero or
// checkpoint.Newest means no upper bound. Rate limiting is reported as an
// error of type errors.ErrorTypeRateLimit.
type Searcher interface {
	Search(ctx context.Context, query string, maxID int64, limit int, yield func(twitter.Post) error) error
}

// Sink receives extracted records
type Sink interface {
	Append(rec record.Record) error
	Flush() error
}

// Extractor turns a post into a record
type Extractor func(twitter.Post) (record.Record, error)

// ExtractArchive is the default Extractor
func ExtractArchive(p twitter.Post) (record.Record, error) {
	return record.FromPost(p), nil
}

// Options controls a Pager
type Options struct {
	Query                  string
	StartID                int64
	PageSize               int
	MaxIterations          int
	Sleep                  time.Duration
	MaxConsecutiveFailures int

	// Extract defaults to ExtractArchive
	Extract Extractor
	// Checkpoints persists progress after every iteration when set
	Checkpoints *checkpoint.Manager
	Logger      logger.Logger
}

// OptionsFromConfig builds Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Query:                  cfg.Twitter.Query,
		StartID:                cfg.Backfill.StartID,
		PageSize:               cfg.Backfill.PageSize,
		MaxIterations:          cfg.Backfill.MaxIterations,
		Sleep:                  cfg.Backfill.Sleep,
		MaxConsecutiveFailures: cfg.Backfill.MaxConsecutiveFailures,
	}
}

// Pager drives the backward search loop
type Pager struct {
	searcher Searcher
	sink     Sink
	opts     Options
	tracker  *checkpoint.Tracker
	logger   logger.Logger

	state     *checkpoint.Checkpoint
	items     int
	collected int
}

// NewPager creates a pager reading from searcher and writing to sink
func NewPager(searcher Searcher, sink Sink, opts Options) *Pager {
	if opts.Extract == nil {
		opts.Extract = ExtractArchive
	}
	if opts.PageSize <= 0 {
		opts.PageSize = config.DefaultPageSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Pager{
		searcher: searcher,
		sink:     sink,
		opts:     opts,
		tracker:  checkpoint.NewTracker(opts.StartID),
		logger:   log.WithField("component", "backfill"),
	}
}

// LastID returns the current checkpoint
func (p *Pager) LastID() int64 {
	return p.tracker.Current()
}

// Collected returns the number of records handed to the sink
func (p *Pager) Collected() int {
	return p.collected
}

// Run pages until the iteration bound is reached or ctx is cancelled. It
// returns nil when the bound is reached and ctx.Err() on cancellation. The
// sink is flushed before Run returns.
func (p *Pager) Run(ctx context.Context) error {
	p.logger.InfoWithFields("Start", map[string]interface{}{
		"query":          p.opts.Query,
		"last_id":        p.LastID(),
		"page_size":      p.opts.PageSize,
		"max_iterations": p.opts.MaxIterations,
		"sleep":          p.opts.Sleep.String(),
	})

	if err := p.loadState(); err != nil {
		return err
	}

	failures := 0
	for i := 1; ; {
		if err := ctx.Err(); err != nil {
			return p.finish(err)
		}

		before := p.collected
		err := p.page(ctx, i)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return p.finish(ctx.Err())
		case errs.IsRateLimit(err):
			p.logger.ErrorWithFields("Too many requests", map[string]interface{}{
				"iteration": i,
				"last_id":   p.LastID(),
				"error":     err.Error(),
			})
		default:
			failures++
			p.logger.ErrorWithFields("Failed to retrieve page", map[string]interface{}{
				"iteration":            i,
				"last_id":              p.LastID(),
				"consecutive_failures": failures,
				"error":                err.Error(),
			})
			if p.opts.MaxConsecutiveFailures > 0 && failures >= p.opts.MaxConsecutiveFailures {
				return p.finish(fmt.Errorf("giving up after %d consecutive page failures: %w", failures, err))
			}
		}

		p.checkpoint(p.collected - before)

		i++
		if p.opts.MaxIterations > 0 && i > p.opts.MaxIterations {
			return p.finish(nil)
		}

		p.logger.InfoWithFields("Sleep", map[string]interface{}{
			"iteration": i,
			"sleep":     p.opts.Sleep.String(),
			"last_id":   p.LastID(),
		})
		if err := retry.Wait(ctx, p.opts.Sleep); err != nil {
			return p.finish(err)
		}
	}
}

// page runs one search request sequence below the current checkpoint
func (p *Pager) page(ctx context.Context, iteration int) error {
	maxID := p.LastID()
	p.logger.InfoWithFields("Retrieve new set", map[string]interface{}{
		"iteration": iteration,
		"last_id":   maxID,
	})

	seen := 0
	err := p.searcher.Search(ctx, p.opts.Query, maxID, p.opts.PageSize, func(post twitter.Post) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.tracker.Observe(post.ID)
		seen++
		p.items++
		p.logger.InfoWithFields("Retrieve item", map[string]interface{}{
			"item":      p.items,
			"iteration": iteration,
			"id":        post.ID,
		})

		if err := p.handle(post); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				p.logger.DebugWithFields("Skipping collected item", map[string]interface{}{
					"id": post.ID,
				})
				return nil
			}
			p.logger.ErrorWithFields("Failed to process item", map[string]interface{}{
				"id":    post.ID,
				"error": err.Error(),
			})
			return nil
		}
		p.collected++
		return nil
	})

	if err == nil && seen == 0 {
		p.logger.InfoWithFields("No new items", map[string]interface{}{
			"iteration": iteration,
			"last_id":   maxID,
		})
	}
	return err
}

// handle extracts and appends one post, converting a panic into an error
func (p *Pager) handle(post twitter.Post) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing item: %v", r)
		}
	}()

	rec, err := p.opts.Extract(post)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	return p.sink.Append(rec)
}

func (p *Pager) loadState() error {
	if p.opts.Checkpoints == nil {
		return nil
	}

	state, err := p.opts.Checkpoints.Load()
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if state != nil && state.Query == p.opts.Query && state.LastID == p.LastID() {
		p.state = state
		return nil
	}

	// a run that does not continue the saved one starts a new progress
	// record; the old one is kept as a backup
	if state != nil {
		if err := p.opts.Checkpoints.BackupCheckpoint(); err != nil {
			return err
		}
		p.logger.WarnWithFields("Replacing checkpoint", map[string]interface{}{
			"saved_query":   state.Query,
			"saved_last_id": state.LastID,
			"last_id":       p.LastID(),
		})
	}
	state, err = p.opts.Checkpoints.Create(p.opts.Query, p.LastID())
	if err != nil {
		return err
	}
	p.state = state
	return nil
}

// checkpoint flushes the sink and then records progress, so the persisted
// checkpoint never runs ahead of the dataset file
func (p *Pager) checkpoint(collected int) {
	if err := p.sink.Flush(); err != nil {
		p.logger.ErrorWithFields("Failed to flush dataset", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if p.state == nil {
		return
	}
	if err := p.opts.Checkpoints.UpdateProgress(p.state, p.LastID(), collected); err != nil {
		p.logger.ErrorWithFields("Failed to save checkpoint", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (p *Pager) finish(cause error) error {
	flushErr := p.sink.Flush()
	if flushErr != nil {
		p.logger.ErrorWithFields("Failed to flush dataset", map[string]interface{}{
			"error": flushErr.Error(),
		})
	} else if p.state != nil {
		p.state.LastID = p.LastID()
		if err := p.opts.Checkpoints.Save(p.state); err != nil {
			p.logger.ErrorWithFields("Failed to save checkpoint", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	p.logger.InfoWithFields("Finish", map[string]interface{}{
		"last_id":   p.LastID(),
		"collected": p.collected,
	})

	if cause != nil {
		return cause
	}
	return flushErr
}
