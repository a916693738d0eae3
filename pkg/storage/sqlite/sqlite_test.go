package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitgather/pkg/record"
	"twitgather/pkg/storage"
	"twitgather/pkg/twitter"
)

func TestSeenIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "seen.db")
	idx, err := New(path)
	require.NoError(t, err)
	defer idx.Close()

	ok, err := idx.Contains(record.SchemaArchive, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Add(record.SchemaArchive, []string{"1", "2"}))
	require.NoError(t, idx.Add(record.SchemaArchive, []string{"2", "3"}))
	require.NoError(t, idx.Add(record.SchemaArchive, nil))

	ok, err = idx.Contains(record.SchemaArchive, "2")
	require.NoError(t, err)
	assert.True(t, ok)

	// schemas are independent
	ok, err = idx.Contains(record.SchemaStream, "2")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := idx.Count(record.SchemaArchive)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSeenIndexPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.db")
	idx, err := New(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(record.SchemaStream, []string{"42"}))
	require.NoError(t, idx.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Contains(record.SchemaStream, "42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBufferSkipsSeenAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "dataset_archive.csv")

	idx, err := New(filepath.Join(dir, "seen.db"))
	require.NoError(t, err)
	defer idx.Close()

	first, err := storage.NewBuffer(dataset, storage.WithIndex(idx))
	require.NoError(t, err)
	require.NoError(t, first.Append(record.FromPost(twitter.Post{ID: 10, FullText: "one"})))
	require.NoError(t, first.Close())

	second, err := storage.NewBuffer(dataset, storage.WithIndex(idx))
	require.NoError(t, err)
	assert.ErrorIs(t, second.Append(record.FromPost(twitter.Post{ID: 10, FullText: "one"})), storage.ErrDuplicate)
	require.NoError(t, second.Append(record.FromPost(twitter.Post{ID: 11, FullText: "two"})))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(dataset)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
}
