package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"twitgather/pkg/logger"
	"twitgather/pkg/record"
)

// DefaultFlushThreshold is the number of pending lines a Buffer holds
// before Append flushes; the flush happens on the line after it
const DefaultFlushThreshold = 100

// ErrDuplicate is returned by Append for a record that is already in the
// dataset or already pending
var ErrDuplicate = errors.New("record already collected")

// Index remembers which records have been written to a dataset
type Index interface {
	Contains(schema, key string) (bool, error)
	Add(schema string, keys []string) error
}

// datasetFile is the part of *os.File a flush needs
type datasetFile interface {
	WriteString(s string) (int, error)
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

func openDataset(path string) (datasetFile, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Buffer accumulates serialized records and appends them to a dataset file
// in batches. All records in one Buffer share a schema. It is safe for
// concurrent use.
type Buffer struct {
	path      string
	threshold int
	index     Index
	schema    string
	logger    logger.Logger
	open      func(path string) (datasetFile, error)

	mu          sync.Mutex
	pending     []string
	pendingKeys []string
	// unindexed holds keys whose lines are on disk but whose index update
	// failed; they are retried on the next flush
	unindexed  []string
	pendingSet map[string]struct{}
	written    int
}

// Option configures a Buffer
type Option func(*Buffer)

// WithThreshold overrides DefaultFlushThreshold
func WithThreshold(n int) Option {
	return func(b *Buffer) {
		b.threshold = n
	}
}

// WithIndex enables duplicate detection. Keys are added to the index only
// after their lines reach the file.
func WithIndex(idx Index) Option {
	return func(b *Buffer) {
		b.index = idx
	}
}

// WithLogger sets the logger used for failures a flush recovers from
func WithLogger(l logger.Logger) Option {
	return func(b *Buffer) {
		b.logger = l
	}
}

// NewBuffer creates a buffer appending to path, creating its directory
func NewBuffer(path string, opts ...Option) (*Buffer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory: %w", err)
	}

	b := &Buffer{
		path:       path,
		threshold:  DefaultFlushThreshold,
		logger:     logger.NewNopLogger(),
		open:       openDataset,
		pendingSet: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Append serializes rec and queues it, flushing once more than the
// threshold number of lines are pending
func (b *Buffer) Append(rec record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := rec.Key()
	if b.index != nil && key != "" {
		if _, ok := b.pendingSet[key]; ok {
			return ErrDuplicate
		}
		seen, err := b.index.Contains(rec.Schema(), key)
		if err != nil {
			return fmt.Errorf("failed to check seen index: %w", err)
		}
		if seen {
			return ErrDuplicate
		}
		b.schema = rec.Schema()
		b.pendingSet[key] = struct{}{}
		b.pendingKeys = append(b.pendingKeys, key)
	}

	b.pending = append(b.pending, Line(rec))
	if len(b.pending) > b.threshold {
		return b.flushLocked()
	}
	return nil
}

// Flush writes all pending lines to the dataset file
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked()
}

// flushLocked writes pending lines; b.mu must be held. The file is opened
// and closed on every flush. On failure the lines stay pending and the file
// is cut back to its size before the write, so a retry never repeats a
// partially written batch.
func (b *Buffer) flushLocked() error {
	if len(b.pending) == 0 {
		b.indexLocked()
		return nil
	}

	f, err := b.open(b.path)
	if err != nil {
		return fmt.Errorf("failed to open dataset file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat dataset file: %w", err)
	}
	size := info.Size()

	n, err := f.WriteString(strings.Join(b.pending, "\n") + "\n")
	if err != nil {
		if n > 0 {
			if truncErr := f.Truncate(size); truncErr != nil {
				f.Close()
				return fmt.Errorf("failed to write dataset file: %w (rollback of %d bytes failed: %v)", err, n, truncErr)
			}
		}
		f.Close()
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	b.written += len(b.pending)
	b.pending = b.pending[:0]

	b.unindexed = append(b.unindexed, b.pendingKeys...)
	b.pendingKeys = nil
	b.indexLocked()
	return nil
}

// indexLocked records written keys in the index; b.mu must be held. The
// lines are already on disk, so a failure is logged and the keys are kept
// for the next attempt.
func (b *Buffer) indexLocked() {
	if b.index == nil || len(b.unindexed) == 0 {
		return
	}

	if err := b.index.Add(b.schema, b.unindexed); err != nil {
		b.logger.WithError(err).WarnWithFields("Failed to update seen index", map[string]interface{}{
			"path": b.path,
			"keys": len(b.unindexed),
		})
		return
	}

	b.unindexed = nil
	b.pendingSet = make(map[string]struct{})
	for _, key := range b.pendingKeys {
		b.pendingSet[key] = struct{}{}
	}
}

// Close flushes anything still pending
func (b *Buffer) Close() error {
	return b.Flush()
}

// Pending returns the number of lines not yet written
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Written returns the number of lines this buffer has written
func (b *Buffer) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Path returns the dataset file path
func (b *Buffer) Path() string {
	return b.path
}
