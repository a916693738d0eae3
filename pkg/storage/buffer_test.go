package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitgather/pkg/logger"
	"twitgather/pkg/record"
	"twitgather/pkg/twitter"
)

func streamRec(id string) record.Record {
	return record.FromStreamPost(twitter.StreamPost{ID: id, AuthorID: "1", Text: "text " + id})
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a\nb\tc\rd", "a b c d"},
		{"plain", "plain"},
		{"line\r\nbreak", "line break"},
		{"two  spaces", "two spaces"},
		{"", ""},
	}

	for _, tt := range tests {
		got := Sanitize(tt.in)
		assert.Equal(t, tt.want, got)
		assert.NotContains(t, got, "\n")
		assert.NotContains(t, got, "\t")
		assert.NotContains(t, got, "\r")
	}
}

func TestLine(t *testing.T) {
	rec := record.FromStreamPost(twitter.StreamPost{
		ID:   "7",
		Text: "a\nb\tc\rd",
	})

	line := Line(rec)
	assert.Equal(t, "7\tnone\tnone\tnone\tnone\ta b c d", line)

	cols := strings.Split(line, "\t")
	assert.Len(t, cols, len(record.StreamColumns))
}

func TestLineColumnCounts(t *testing.T) {
	archive := Line(record.FromPost(twitter.Post{ID: 1, FullText: "multi\nline\ttext"}))
	assert.Len(t, strings.Split(archive, "\t"), len(record.ArchiveColumns))
	assert.Contains(t, archive, NullSentinel)

	stream := Line(record.FromStreamPost(twitter.StreamPost{Text: "\t\t\t"}))
	assert.Len(t, strings.Split(stream, "\t"), len(record.StreamColumns))
}

func TestBufferFlushThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "dataset_stream.csv")
	buf, err := NewBuffer(path)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, buf.Append(streamRec(string(rune('a'+i%26)))))
	}
	assert.Equal(t, 100, buf.Pending())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no flush before the threshold is exceeded")

	require.NoError(t, buf.Append(streamRec("last")))
	assert.Equal(t, 0, buf.Pending())
	assert.Equal(t, 101, buf.Written())

	lines := readLines(t, path)
	assert.Len(t, lines, 101)
	assert.True(t, strings.HasPrefix(lines[100], "last\t"))
}

func TestBufferAppendsAcrossFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_stream.csv")
	buf, err := NewBuffer(path, WithThreshold(2))
	require.NoError(t, err)

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, buf.Append(streamRec(id)))
	}
	assert.Equal(t, 2, buf.Pending())
	require.NoError(t, buf.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 5)
	for i, id := range []string{"1", "2", "3", "4", "5"} {
		assert.True(t, strings.HasPrefix(lines[i], id+"\t"))
	}

	// a second buffer on the same file only appends
	again, err := NewBuffer(path)
	require.NoError(t, err)
	require.NoError(t, again.Append(streamRec("6")))
	require.NoError(t, again.Flush())
	assert.Len(t, readLines(t, path), 6)
}

func TestBufferFlushEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_archive.csv")
	buf, err := NewBuffer(path)
	require.NoError(t, err)

	require.NoError(t, buf.Flush())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBufferKeepsPendingOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset_stream.csv")
	buf, err := NewBuffer(path)
	require.NoError(t, err)

	// a directory where the file should be makes the open fail
	require.NoError(t, os.Mkdir(path, 0755))
	require.NoError(t, buf.Append(streamRec("1")))
	assert.Error(t, buf.Flush())
	assert.Equal(t, 1, buf.Pending())

	require.NoError(t, os.Remove(path))
	require.NoError(t, buf.Flush())
	assert.Len(t, readLines(t, path), 1)
}

func TestBufferConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_stream.csv")
	buf, err := NewBuffer(path, WithThreshold(7))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, buf.Append(streamRec("x")))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, buf.Close())

	lines := readLines(t, path)
	assert.Len(t, lines, 200)
	for _, l := range lines {
		assert.Len(t, strings.Split(l, "\t"), len(record.StreamColumns))
	}
}

// memIndex is an in-memory Index
type memIndex struct {
	mu     sync.Mutex
	keys   map[string]bool
	err    error
	addErr error
}

func newMemIndex() *memIndex {
	return &memIndex{keys: make(map[string]bool)}
}

func (m *memIndex) Contains(schema, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[schema+"/"+key], m.err
}

func (m *memIndex) Add(schema string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	for _, k := range keys {
		m.keys[schema+"/"+k] = true
	}
	return nil
}

func TestBufferWithIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_stream.csv")
	idx := newMemIndex()
	buf, err := NewBuffer(path, WithIndex(idx), WithThreshold(10))
	require.NoError(t, err)

	require.NoError(t, buf.Append(streamRec("1")))
	assert.ErrorIs(t, buf.Append(streamRec("1")), ErrDuplicate, "pending duplicate")

	// not marked until written
	seen, _ := idx.Contains(record.SchemaStream, "1")
	assert.False(t, seen)

	require.NoError(t, buf.Flush())
	seen, _ = idx.Contains(record.SchemaStream, "1")
	assert.True(t, seen)

	assert.ErrorIs(t, buf.Append(streamRec("1")), ErrDuplicate, "written duplicate")
	require.NoError(t, buf.Append(streamRec("2")))
	require.NoError(t, buf.Close())
	assert.Len(t, readLines(t, path), 2)

	idx.err = errors.New("disk gone")
	err = buf.Append(streamRec("3"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicate))
}

func TestBufferRetriesIndexAfterFailedAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_stream.csv")
	idx := newMemIndex()
	idx.addErr = errors.New("database is locked")
	log := logger.NewTestLogger()
	buf, err := NewBuffer(path, WithIndex(idx), WithThreshold(0), WithLogger(log))
	require.NoError(t, err)

	// the line is on disk, so the append itself succeeds
	require.NoError(t, buf.Append(streamRec("1")))
	assert.Len(t, readLines(t, path), 1)
	assert.Equal(t, 1, buf.Written())
	assert.True(t, log.HasMessage("Failed to update seen index"))

	seen, _ := idx.Contains(record.SchemaStream, "1")
	assert.False(t, seen)
	assert.ErrorIs(t, buf.Append(streamRec("1")), ErrDuplicate, "written but not yet indexed")

	idx.addErr = nil
	require.NoError(t, buf.Flush())
	seen, _ = idx.Contains(record.SchemaStream, "1")
	assert.True(t, seen)

	assert.ErrorIs(t, buf.Append(streamRec("1")), ErrDuplicate)
	require.NoError(t, buf.Append(streamRec("2")))
	assert.Len(t, readLines(t, path), 2)
}

// shortFile writes only the first limit bytes of each write and then fails
type shortFile struct {
	*os.File
	limit int
}

func (f *shortFile) WriteString(s string) (int, error) {
	if len(s) <= f.limit {
		return f.File.WriteString(s)
	}
	n, _ := f.File.WriteString(s[:f.limit])
	return n, errors.New("no space left on device")
}

func TestBufferRollsBackPartialWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_stream.csv")
	buf, err := NewBuffer(path)
	require.NoError(t, err)

	require.NoError(t, buf.Append(streamRec("1")))
	require.NoError(t, buf.Flush())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	buf.open = func(p string) (datasetFile, error) {
		f, err := openDataset(p)
		if err != nil {
			return nil, err
		}
		return &shortFile{File: f.(*os.File), limit: 5}, nil
	}
	require.NoError(t, buf.Append(streamRec("2")))
	require.NoError(t, buf.Append(streamRec("3")))
	assert.Error(t, buf.Flush())
	assert.Equal(t, 2, buf.Pending())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "partial batch is rolled back")

	buf.open = openDataset
	require.NoError(t, buf.Flush())
	lines := readLines(t, path)
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Len(t, strings.Split(l, "\t"), len(record.StreamColumns))
	}
}
