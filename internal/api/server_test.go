package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
)

func writeLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload-progress.json")
	store, err := progress.New(path, zap.NewNop())
	require.NoError(t, err)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordAttempt("irises", artwork.ProgressEntry{
		Uploaded: true, RemoteRef: artwork.StringPtr("gs://b/irises.jpg"), SizeBytes: artwork.Int64Ptr(10), AttemptedAt: at,
	}))
	for _, id := range []string{"c-broken", "a-broken", "b-broken"} {
		require.NoError(t, store.RecordAttempt(id, artwork.ProgressEntry{
			Error: artwork.StringPtr("fetch error"), ErrorKind: "FetchError(HttpStatus:404)", AttemptedAt: at,
		}))
	}
	require.NoError(t, store.Flush())
	return path
}

func get(t *testing.T, h http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndRequestID(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{}, nil)
	rec := get(t, srv.Handler(), "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(t, srv.Handler(), "/healthz", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestProgressSummary(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{}, nil)
	rec := get(t, srv.Handler(), "/v1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum progress.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Uploaded)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, []string{"a-broken", "b-broken", "c-broken"}, sum.FailedIDs)
	assert.Equal(t, 3, sum.ErrorKinds["FetchError(HttpStatus:404)"])
}

func TestProgressFailedPaging(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{}, nil)
	rec := get(t, srv.Handler(), "/v1/progress/failed?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total   int                     `json:"total"`
		Entries []artwork.ProgressEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "b-broken", body.Entries[0].ID)

	rec = get(t, srv.Handler(), "/v1/progress/failed?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressGet(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{}, nil)
	rec := get(t, srv.Handler(), "/v1/progress/irises", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry artwork.ProgressEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.Uploaded)
	assert.Equal(t, "gs://b/irises.jpg", artwork.Deref(entry.RemoteRef))

	rec = get(t, srv.Handler(), "/v1/progress/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorruptLedgerIsReported(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "upload-progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": {"id": "a", "uploaded": tr`), 0o600))

	srv := NewServer(FileLedger(path), Config{}, nil)
	rec := get(t, srv.Handler(), "/v1/progress", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "corrupt")

	rec = get(t, srv.Handler(), "/readyz", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMissingLedgerIsEmpty(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(filepath.Join(t.TempDir(), "absent.json")), Config{}, nil)
	rec := get(t, srv.Handler(), "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyGuardsProgressRoutes(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{APIKey: "secret"}, nil)
	assert.Equal(t, http.StatusForbidden, get(t, srv.Handler(), "/v1/progress", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/v1/progress", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/v1/progress?api_key=secret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(FileLedger(writeLedger(t)), Config{}, nil)
	_ = get(t, srv.Handler(), "/healthz", nil)
	rec := get(t, srv.Handler(), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestNilLedgerUnavailable(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, Config{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.Handler(), "/v1/progress", nil).Code)
}
