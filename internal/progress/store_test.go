package progress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := New(filepath.Join(t.TempDir(), "progress.json"), nil)
	require.NoError(t, err)
	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadCorruptFileFailsLoudly(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"truncated": `{"a": {"uploaded": true`,
		"empty":     ``,
		"array":     `[]`,
		"trailing":  `{"a": {"uploaded": true}} {"b": {}}`,
		"mismatch":  `{"a": {"id": "b", "uploaded": true}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "progress.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			store, err := New(path, nil)
			require.NoError(t, err)
			_, err = store.Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, artwork.ErrCorruptStore)
		})
	}
}

func TestFlushFailureCarriesWriteKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store, err := New(filepath.Join(blocker, "progress.json"), nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordAttempt("a", artwork.ProgressEntry{}))

	err = store.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, artwork.ErrProgressWrite)
	assert.Equal(t, "ProgressError(WriteFailed)", artwork.Classify(err))
}

func TestRecordFlushReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "progress.json")
	store, err := New(path, nil)
	require.NoError(t, err)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.RecordAttempt("starry-night", artwork.ProgressEntry{
		Uploaded:    true,
		RemoteRef:   artwork.StringPtr("gs://bucket/artvee/starry-night.jpg"),
		SizeBytes:   artwork.Int64Ptr(1234),
		AttemptedAt: at,
	}))
	require.NoError(t, store.RecordAttempt("water-lilies", artwork.ProgressEntry{
		AttemptedAt: at,
		Error:       artwork.StringPtr("fetch error (HttpStatus:404)"),
		ErrorKind:   "FetchError(HttpStatus:404)",
	}))
	require.NoError(t, store.Flush())

	reloaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	assert.True(t, reloaded["starry-night"].Uploaded)
	assert.Equal(t, "starry-night", reloaded["starry-night"].ID)
	assert.Equal(t, int64(1234), *reloaded["starry-night"].SizeBytes)
	assert.False(t, reloaded["water-lilies"].Uploaded)
	assert.Nil(t, reloaded["water-lilies"].RemoteRef)

	matches, err := filepath.Glob(path + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must not survive a flush")
}

func TestFlushKeepsLedgerParseableAcrossRewrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	store, err := New(path, nil)
	require.NoError(t, err)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordAttempt(id, artwork.ProgressEntry{Uploaded: true}))
		require.NoError(t, store.Flush())

		entries, err := ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, entries, i+1)
	}
}

func TestRecordAttemptRefusesDowngrade(t *testing.T) {
	t.Parallel()

	store, err := New(filepath.Join(t.TempDir(), "progress.json"), nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordAttempt("a", artwork.ProgressEntry{Uploaded: true}))
	require.Error(t, store.RecordAttempt("a", artwork.ProgressEntry{Uploaded: false}))
	require.Error(t, store.RecordAttempt(" ", artwork.ProgressEntry{}))

	entry, ok := store.Lookup("a")
	require.True(t, ok)
	assert.True(t, entry.Uploaded)
}

func TestOpenHoldsSingleWriterLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	first, err := Open(Config{Path: path, Lock: true}, nil)
	require.NoError(t, err)

	_, err = Open(Config{Path: path, Lock: true}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, artwork.ErrProgressStoreInUse)

	require.NoError(t, first.Close())
	second, err := Open(Config{Path: path, Lock: true}, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestForceUnlockRemovesStaleLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(LockPath(path), []byte("pid=1"), 0o600))
	require.NoError(t, ForceUnlock(path))

	store, err := Open(Config{Path: path, Lock: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	later := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := map[string]artwork.ProgressEntry{
		"b": {ID: "b", ErrorKind: "FetchError(Timeout)"},
		"a": {ID: "a", Uploaded: true, SizeBytes: artwork.Int64Ptr(10), AttemptedAt: later},
		"c": {ID: "c", ErrorKind: "FetchError(Timeout)"},
		"d": {ID: "d", Uploaded: true, SizeBytes: artwork.Int64Ptr(5)},
	}
	sum := Summarize(entries)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Uploaded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, int64(15), sum.UploadedBytes)
	assert.Equal(t, []string{"b", "c"}, sum.FailedIDs)
	assert.Equal(t, 2, sum.ErrorKinds["FetchError(Timeout)"])
	assert.Equal(t, later, sum.LastAttempt)
}
