package backfill_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitgather/pkg/backfill"
	"twitgather/pkg/checkpoint"
	errs "twitgather/pkg/errors"
	"twitgather/pkg/logger"
	"twitgather/pkg/ratelimit"
	"twitgather/pkg/record"
	"twitgather/pkg/storage"
	"twitgather/pkg/storage/sqlite"
	"twitgather/pkg/twitter"
)

// searchServer mimics the v1.1 recent search endpoint over ids [1, newest]
type searchServer struct {
	mu     sync.Mutex
	newest int64
	maxIDs []string
}

func (s *searchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.maxIDs = append(s.maxIDs, q.Get("max_id"))
	s.mu.Unlock()

	top := s.newest
	if v := q.Get("max_id"); v != "" {
		id, _ := strconv.ParseInt(v, 10, 64)
		top = min(top, id)
	}
	count, _ := strconv.Atoi(q.Get("count"))

	statuses := []map[string]interface{}{}
	for id := top; id >= 1 && len(statuses) < count; id-- {
		statuses = append(statuses, map[string]interface{}{
			"id":         id,
			"created_at": "Wed Oct 05 20:17:27 +0000 2022",
			"full_text":  fmt.Sprintf("post %d\n#mahsaamini", id),
			"lang":       "fa",
			"entities": map[string]interface{}{
				"hashtags": []map[string]interface{}{{"text": "mahsaamini"}},
			},
			"user": map[string]interface{}{
				"id":         900 + id,
				"name":       "someone",
				"created_at": "Mon Jan 02 10:00:00 +0000 2017",
			},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"statuses": statuses})
}

func (s *searchServer) MaxIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.maxIDs...)
}

func datasetIDs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var ids []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		cols := strings.Split(line, "\t")
		require.Len(t, cols, len(record.ArchiveColumns))
		ids = append(ids, cols[11])
	}
	return ids
}

type pipeline struct {
	pager *backfill.Pager
	buf   *storage.Buffer
	seen  *sqlite.SeenIndex
}

func newPipeline(t *testing.T, root string, srvURL string, startID int64, pages int) *pipeline {
	t.Helper()
	dataDir := filepath.Join(root, "data")

	searcher, err := twitter.NewSearchClient(&http.Client{Timeout: 5 * time.Second}, twitter.SearchOptions{
		BaseURL: srvURL + "/1.1/",
	})
	require.NoError(t, err)

	seen, err := sqlite.New(filepath.Join(dataDir, "seen.db"))
	require.NoError(t, err)

	buf, err := storage.NewBuffer(filepath.Join(dataDir, "dataset_archive.csv"), storage.WithIndex(seen))
	require.NoError(t, err)

	checkpoints, err := checkpoint.NewManager(filepath.Join(dataDir, "checkpoint.json"), nil)
	require.NoError(t, err)

	pager := backfill.NewPager(searcher, buf, backfill.Options{
		Query:         "#mahsaamini",
		StartID:       startID,
		PageSize:      5,
		MaxIterations: pages,
		Checkpoints:   checkpoints,
		Logger:        logger.NewNopLogger(),
	})
	return &pipeline{pager: pager, buf: buf, seen: seen}
}

func (p *pipeline) close(t *testing.T) {
	require.NoError(t, p.buf.Close())
	require.NoError(t, p.seen.Close())
}

func TestArchivePipelineResumesFromCheckpoint(t *testing.T) {
	srv := &searchServer{newest: 20}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	root := t.TempDir()
	dataset := filepath.Join(root, "data", "dataset_archive.csv")

	first := newPipeline(t, root, ts.URL, 0, 2)
	require.NoError(t, first.pager.Run(context.Background()))
	first.close(t)

	// the bound below the oldest collected id is exclusive, so 15 is skipped
	assert.Equal(t, []string{"20", "19", "18", "17", "16", "14", "13", "12", "11", "10"}, datasetIDs(t, dataset))
	assert.Equal(t, int64(9), first.pager.LastID())

	checkpoints, err := checkpoint.NewManager(filepath.Join(root, "data", "checkpoint.json"), nil)
	require.NoError(t, err)
	saved, err := checkpoints.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, int64(9), saved.LastID)
	assert.Equal(t, 2, saved.Iterations)
	assert.Equal(t, 10, saved.Written)

	second := newPipeline(t, root, ts.URL, saved.LastID, 1)
	require.NoError(t, second.pager.Run(context.Background()))
	second.close(t)

	ids := datasetIDs(t, dataset)
	assert.Len(t, ids, 15)
	assert.Equal(t, []string{"8", "7", "6", "5", "4"}, ids[10:])

	for _, maxID := range srv.MaxIDs()[1:] {
		id, err := strconv.ParseInt(maxID, 10, 64)
		require.NoError(t, err)
		assert.Less(t, id, int64(15))
	}
}

func TestArchivePipelineSkipsSeenPosts(t *testing.T) {
	srv := &searchServer{newest: 12}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	root := t.TempDir()
	dataset := filepath.Join(root, "data", "dataset_archive.csv")

	first := newPipeline(t, root, ts.URL, 0, 1)
	require.NoError(t, first.pager.Run(context.Background()))
	first.close(t)

	// a fresh start re-reads the newest page, which is already on disk
	again := newPipeline(t, root, ts.URL, 0, 1)
	require.NoError(t, again.pager.Run(context.Background()))
	again.close(t)

	assert.Equal(t, []string{"12", "11", "10", "9", "8"}, datasetIDs(t, dataset))
}

func TestArchivePipelineExhaustedWindowIsRateLimit(t *testing.T) {
	srv := &searchServer{newest: 20}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	searcher, err := twitter.NewSearchClient(&http.Client{Timeout: 5 * time.Second}, twitter.SearchOptions{
		BaseURL: ts.URL + "/1.1/",
		Limiter: ratelimit.NewSlidingWindow(1, time.Hour),
	})
	require.NoError(t, err)

	// an exhausted window is reported, never waited out inside Search
	err = searcher.Search(context.Background(), "#mahsaamini", 0, 5, func(twitter.Post) error { return nil })
	require.NoError(t, err)
	err = searcher.Search(context.Background(), "#mahsaamini", 16, 5, func(twitter.Post) error { return nil })
	assert.True(t, errs.IsRateLimit(err))

	root := t.TempDir()
	buf, err := storage.NewBuffer(filepath.Join(root, "dataset_archive.csv"))
	require.NoError(t, err)
	log := logger.NewTestLogger()

	pager := backfill.NewPager(searcher, buf, backfill.Options{
		Query:         "#mahsaamini",
		PageSize:      5,
		MaxIterations: 3,
		Logger:        log,
	})

	done := make(chan error, 1)
	go func() { done <- pager.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pager blocked on the request window")
	}
	require.NoError(t, buf.Close())

	assert.Len(t, log.MessagesContaining("Too many requests"), 3)
	assert.Empty(t, log.MessagesContaining("Failed to retrieve page"))
	assert.Equal(t, checkpoint.Newest, pager.LastID())
	assert.Len(t, srv.MaxIDs(), 1)
}
