package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitgather/pkg/logger"
	"twitgather/pkg/twitter"
)

func TestWorkerDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	w := NewWorker(4, func(p twitter.StreamPost) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p.ID)
		return nil
	}, logger.NewTestLogger())
	w.Start()

	var want []string
	for i := 0; i < 50; i++ {
		id := strconv.Itoa(i)
		want = append(want, id)
		require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: id}))
	}
	w.Stop()

	assert.Equal(t, want, got)
	assert.Equal(t, int64(50), w.Delivered())
	assert.Equal(t, int64(0), w.Failed())
}

func TestWorkerIsolatesFailures(t *testing.T) {
	log := logger.NewTestLogger()
	var handled []string

	w := NewWorker(8, func(p twitter.StreamPost) error {
		switch p.ID {
		case "2":
			return errors.New("bad item")
		case "4":
			panic("boom")
		}
		handled = append(handled, p.ID)
		return nil
	}, log)
	w.Start()

	for i := 1; i <= 5; i++ {
		require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: fmt.Sprint(i)}))
	}
	w.Stop()

	assert.Equal(t, []string{"1", "3", "5"}, handled)
	assert.Equal(t, int64(3), w.Delivered())
	assert.Equal(t, int64(2), w.Failed())
	assert.Len(t, log.MessagesContaining("Failed to deliver stream item"), 2)
}

func TestWorkerResultHook(t *testing.T) {
	var results []Result
	w := NewWorker(1, func(p twitter.StreamPost) error {
		if p.ID == "x" {
			return errors.New("nope")
		}
		return nil
	}, logger.NewNopLogger(), WithResultHook(func(r Result) {
		results = append(results, r)
	}))
	w.Start()

	require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: "a"}))
	require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: "x"}))
	w.Stop()

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "x", results[1].Post.ID)
}

func TestWorkerSubmitAfterStop(t *testing.T) {
	w := NewWorker(1, func(twitter.StreamPost) error { return nil }, logger.NewNopLogger())
	w.Start()
	w.Stop()
	w.Stop()

	assert.ErrorIs(t, w.Submit(context.Background(), twitter.StreamPost{ID: "1"}), ErrStopped)
}

func TestWorkerSubmitCancelled(t *testing.T) {
	release := make(chan struct{})
	w := NewWorker(1, func(twitter.StreamPost) error {
		<-release
		return nil
	}, logger.NewNopLogger())
	w.Start()

	// one item in the handler, one in the queue
	require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: "1"}))
	require.NoError(t, w.Submit(context.Background(), twitter.StreamPost{ID: "2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Submit(ctx, twitter.StreamPost{ID: "3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	w.Stop()
	assert.Equal(t, int64(2), w.Delivered())
}
