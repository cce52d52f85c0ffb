package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/storage"
	"github.com/JakeFAU/artvee-ingest/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcsstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "art-bucket", CacheControl: "public, max-age=86400"})
	require.NoError(t, err)
	return store
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := gcsstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/art-bucket/o")
		assert.Equal(t, "artvee/starry.jpg", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "jpeg-bytes")
		assert.Contains(t, string(body), "image/jpeg")

		fmt.Fprintln(w, `{"name": "artvee/starry.jpg", "bucket": "art-bucket"}`)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), "artvee/starry.jpg", "image/jpeg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "gs://art-bucket/artvee/starry.jpg", uri)
}

func TestPutObjectForbiddenIsRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error": {"code": 403, "message": "forbidden"}}`)
	})

	store := newTestStore(t, handler)
	_, err := store.PutObject(context.Background(), "artvee/starry.jpg", "image/jpeg", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, storage.Classify(err), artwork.ErrUploadRejected)
}

func TestPutObjectRequiresPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "image/jpeg", strings.NewReader("x"))
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "present.jpg") {
			fmt.Fprintln(w, `{"name": "artvee/present.jpg", "bucket": "art-bucket", "size": "10"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error": {"code": 404, "message": "No such object"}}`)
	})

	store := newTestStore(t, handler)

	uri, ok, err := store.Exists(context.Background(), "artvee/present.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gs://art-bucket/artvee/present.jpg", uri)

	_, ok, err = store.Exists(context.Background(), "artvee/missing.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadToUnavailableBucketStopsAtDeadline(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"error": {"code": 404, "message": "No such object"}}`)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"error": {"code": 503, "message": "backend unavailable"}}`)
	})

	uploader, err := storage.NewBlobUploader(newTestStore(t, handler), storage.UploaderConfig{}, zap.NewNop())
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "starry.jpg")
	require.NoError(t, os.WriteFile(local, []byte("jpeg-bytes"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = uploader.Upload(ctx, artwork.UploadRequest{
		ArtworkID:   "starry",
		Path:        local,
		ContentType: "image/jpeg",
		Kind:        artwork.UploadFull,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, artwork.ErrUploadNetwork)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Positive(t, hits.Load())
}
