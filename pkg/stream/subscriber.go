// Package stream subscribes to the filtered stream and appends every pushed
// post to the stream dataset.
//
// Before connecting, the Subscriber reconciles the registered rules so that
// exactly one rule, the configured query, remains. The connection is read on
// its own goroutine and items are handed to a single delivery worker, which
// is the only goroutine that touches the dataset buffer. A broken connection
// is logged and ends the subscription; there is no reconnect.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"twitgather/internal/delivery"
	"twitgather/pkg/config"
	"twitgather/pkg/logger"
	"twitgather/pkg/record"
	"twitgather/pkg/retry"
	"twitgather/pkg/storage"
	"twitgather/pkg/twitter"
)

// API is the subset of the filtered stream endpoints the Subscriber needs
type API interface {
	Rules(ctx context.Context) ([]twitter.Rule, error)
	AddRules(ctx context.Context, rules []twitter.Rule) error
	DeleteRules(ctx context.Context, ids []string) error
	Connect(ctx context.Context, onPost func(twitter.StreamPost), onError func(code int)) error
}

// Sink receives extracted records
type Sink interface {
	Append(rec record.Record) error
	Flush() error
}

// Extractor turns a stream item into a record
type Extractor func(twitter.StreamPost) (record.Record, error)

// ExtractStream is the default Extractor
func ExtractStream(p twitter.StreamPost) (record.Record, error) {
	return record.FromStreamPost(p), nil
}

// Options controls a Subscriber
type Options struct {
	Query     string
	Tag       string
	QueueSize int

	// Retry applies to rule reconciliation only
	Retry   *retry.Config
	Extract Extractor
	Logger  logger.Logger
}

// OptionsFromConfig builds Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Query:     cfg.Twitter.Query,
		Tag:       cfg.Twitter.RuleTag,
		QueueSize: cfg.Stream.QueueSize,
		Retry: &retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     retry.NewExponentialBackoff(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
			RetryIf:     retry.DefaultRetryIf,
		},
	}
}

// Subscriber keeps one filter rule registered and stores what the stream
// pushes
type Subscriber struct {
	api    API
	sink   Sink
	opts   Options
	logger logger.Logger

	stored atomic.Int64
}

// NewSubscriber creates a subscriber reading from api and writing to sink
func NewSubscriber(api API, sink Sink, opts Options) *Subscriber {
	if opts.Extract == nil {
		opts.Extract = ExtractStream
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = log
	}

	return &Subscriber{
		api:    api,
		sink:   sink,
		opts:   opts,
		logger: log.WithField("component", "stream"),
	}
}

// Stored returns the number of records handed to the sink
func (s *Subscriber) Stored() int64 {
	return s.stored.Load()
}

// Run reconciles rules, connects and stores items until the connection
// fails or ctx is cancelled. Queued items are delivered and the sink is
// flushed before Run returns. Cancellation returns ctx.Err(); a transport
// failure returns the transport error.
func (s *Subscriber) Run(ctx context.Context) error {
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		return s.Reconcile(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to register stream rule: %w", err)
	}

	worker := delivery.NewWorker(s.opts.QueueSize, s.deliver, s.logger)
	worker.Start()

	done := make(chan error, 1)
	go func() {
		done <- s.api.Connect(ctx, func(post twitter.StreamPost) {
			if err := worker.Submit(ctx, post); err != nil {
				s.logger.WarnWithFields("Dropped stream item", map[string]interface{}{
					"id":    post.ID,
					"error": err.Error(),
				})
			}
		}, func(code int) {
			s.logger.ErrorWithFields("Stream error", map[string]interface{}{
				"status": code,
			})
		})
	}()

	connErr := <-done
	worker.Stop()

	flushErr := s.sink.Flush()
	if flushErr != nil {
		s.logger.ErrorWithFields("Failed to flush dataset", map[string]interface{}{
			"error": flushErr.Error(),
		})
	}

	s.logger.InfoWithFields("Stream stopped", map[string]interface{}{
		"stored": s.Stored(),
		"failed": worker.Failed(),
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if connErr != nil {
		s.logger.ErrorWithFields("Stream disconnected", map[string]interface{}{
			"error": connErr.Error(),
		})
		return connErr
	}
	return flushErr
}

// Reconcile leaves exactly one rule registered: the configured query with
// the configured tag
func (s *Subscriber) Reconcile(ctx context.Context) error {
	rules, err := s.api.Rules(ctx)
	if err != nil {
		return err
	}

	keep := false
	var stale []string
	for _, r := range rules {
		if !keep && r.Value == s.opts.Query && r.Tag == s.opts.Tag {
			keep = true
			continue
		}
		stale = append(stale, r.ID)
	}

	if len(stale) > 0 {
		s.logger.InfoWithFields("Deleting stale stream rules", map[string]interface{}{
			"count": len(stale),
		})
		if err := s.api.DeleteRules(ctx, stale); err != nil {
			return err
		}
	}

	if keep {
		s.logger.DebugWithFields("Stream rule already registered", map[string]interface{}{
			"query": s.opts.Query,
		})
		return nil
	}

	s.logger.InfoWithFields("Registering stream rule", map[string]interface{}{
		"query": s.opts.Query,
		"tag":   s.opts.Tag,
	})
	return s.api.AddRules(ctx, []twitter.Rule{{Value: s.opts.Query, Tag: s.opts.Tag}})
}

// deliver runs on the delivery worker goroutine
func (s *Subscriber) deliver(post twitter.StreamPost) error {
	rec, err := s.opts.Extract(post)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	if err := s.sink.Append(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.logger.DebugWithFields("Skipping collected item", map[string]interface{}{
				"id": post.ID,
			})
			return nil
		}
		return err
	}

	n := s.stored.Add(1)
	s.logger.InfoWithFields("Stored stream item", map[string]interface{}{
		"count": n,
		"id":    post.ID,
	})
	return nil
}
