// Package delivery hands stream items from the connection read loop to a
// single worker goroutine, so items are handled one at a time and in the
// order they arrived.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"twitgather/pkg/logger"
	"twitgather/pkg/twitter"
)

// ErrStopped is returned by Submit once Stop has been called
var ErrStopped = errors.New("delivery worker is stopped")

// Handler processes one stream item
type Handler func(post twitter.StreamPost) error

// Result describes the outcome of one delivery
type Result struct {
	Post     twitter.StreamPost
	Err      error
	Duration time.Duration
}

// Worker owns a queue and the single goroutine that drains it
type Worker struct {
	queue    chan twitter.StreamPost
	handle   Handler
	onResult func(Result)
	logger   logger.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// Option configures a Worker
type Option func(*Worker)

// WithResultHook registers fn to be called on the worker goroutine after
// every item
func WithResultHook(fn func(Result)) Option {
	return func(w *Worker) {
		w.onResult = fn
	}
}

// NewWorker creates a worker with a queue of queueSize items
func NewWorker(queueSize int, handle Handler, log logger.Logger, opts ...Option) *Worker {
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	w := &Worker{
		queue:  make(chan twitter.StreamPost, queueSize),
		handle: handle,
		logger: log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutine
func (w *Worker) Start() {
	w.logger.DebugWithFields("Starting delivery worker", map[string]interface{}{
		"queue_size": cap(w.queue),
	})

	w.wg.Add(1)
	go w.run()
}

// Stop refuses further items, waits for the queued ones to be handled and
// returns once the worker has exited
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()

	w.logger.DebugWithFields("Delivery worker stopped", map[string]interface{}{
		"delivered": w.Delivered(),
		"failed":    w.Failed(),
	})
}

// Submit queues post, blocking while the queue is full
func (w *Worker) Submit(ctx context.Context, post twitter.StreamPost) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrStopped
	}

	select {
	case w.queue <- post:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delivered returns the number of items handled without error
func (w *Worker) Delivered() int64 {
	return w.delivered.Load()
}

// Failed returns the number of items whose handler failed
func (w *Worker) Failed() int64 {
	return w.failed.Load()
}

// QueueSize returns the number of items waiting
func (w *Worker) QueueSize() int {
	return len(w.queue)
}

func (w *Worker) run() {
	defer w.wg.Done()

	for post := range w.queue {
		result := w.process(post)
		if result.Err != nil {
			w.failed.Add(1)
		} else {
			w.delivered.Add(1)
		}
		if w.onResult != nil {
			w.onResult(result)
		}
	}
}

// process runs the handler, turning a panic into an error so one bad item
// cannot take the worker down
func (w *Worker) process(post twitter.StreamPost) (result Result) {
	start := time.Now()
	result.Post = post

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("handler panic: %v", r)
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			w.logger.ErrorWithFields("Failed to deliver stream item", map[string]interface{}{
				"id":    post.ID,
				"error": result.Err.Error(),
			})
		}
	}()

	result.Err = w.handle(post)
	return result
}
