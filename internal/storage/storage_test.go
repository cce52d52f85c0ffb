package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

type recordingStore struct {
	puts     map[string][]byte
	types    map[string]string
	existing map[string]string
	err      error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{puts: map[string][]byte{}, types: map[string]string{}, existing: map[string]string{}}
}

func (s *recordingStore) PutObject(_ context.Context, p, contentType string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.puts[p] = data
	s.types[p] = contentType
	return "test://" + p, nil
}

func (s *recordingStore) Exists(_ context.Context, p string) (string, bool, error) {
	uri, ok := s.existing[p]
	return uri, ok, nil
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestBlobUploaderUploadsFullAndThumbnail(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	up, err := NewBlobUploader(store, UploaderConfig{}, nil)
	require.NoError(t, err)

	src := writeFile(t, "starry.png", []byte("jpeg-bytes"))
	uri, err := up.Upload(context.Background(), artwork.UploadRequest{
		ArtworkID: "starry", Path: src, ContentType: "image/jpeg", Kind: artwork.UploadFull,
	})
	require.NoError(t, err)
	assert.Equal(t, "test://artvee/starry.jpg", uri)
	assert.Equal(t, []byte("jpeg-bytes"), store.puts["artvee/starry.jpg"])
	assert.Equal(t, "image/jpeg", store.types["artvee/starry.jpg"])

	uri, err = up.Upload(context.Background(), artwork.UploadRequest{
		ArtworkID: "starry", Path: src, Kind: artwork.UploadThumbnail,
	})
	require.NoError(t, err)
	assert.Equal(t, "test://artvee/thumbnails/thumb-starry.png", uri)
}

func TestBlobUploaderReusesExistingObject(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	store.existing["artvee/starry.jpg"] = "test://artvee/starry.jpg"
	up, err := NewBlobUploader(store, UploaderConfig{}, nil)
	require.NoError(t, err)

	uri, err := up.Upload(context.Background(), artwork.UploadRequest{
		ArtworkID: "starry", Path: "/does/not/matter.jpg", ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "test://artvee/starry.jpg", uri)
	assert.Empty(t, store.puts)
}

func TestBlobUploaderClassifiesFailures(t *testing.T) {
	t.Parallel()

	src := writeFile(t, "a.jpg", []byte("x"))
	cases := []struct {
		err  error
		want error
	}{
		{err: &googleapi.Error{Code: http.StatusForbidden}, want: artwork.ErrUploadRejected},
		{err: fmt.Errorf("close writer: %w", &googleapi.Error{Code: http.StatusBadRequest}), want: artwork.ErrUploadRejected},
		{err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: artwork.ErrUploadNetwork},
		{err: &googleapi.Error{Code: http.StatusBadGateway}, want: artwork.ErrUploadNetwork},
		{err: errors.New("connection reset by peer"), want: artwork.ErrUploadNetwork},
		{err: context.Canceled, want: context.Canceled},
	}
	for _, tc := range cases {
		store := newRecordingStore()
		store.err = tc.err
		up, err := NewBlobUploader(store, UploaderConfig{Prefix: "p"}, nil)
		require.NoError(t, err)
		_, err = up.Upload(context.Background(), artwork.UploadRequest{ArtworkID: "a", Path: src, ContentType: "image/jpeg"})
		assert.ErrorIs(t, err, tc.want, tc.err.Error())
	}
}

func TestNewBlobUploaderRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewBlobUploader(nil, UploaderConfig{}, nil)
	require.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg", "x.png"))
	assert.Equal(t, ".webp", ExtensionFor("", "x.WEBP"))
	assert.Equal(t, ".jpg", ExtensionFor("", "x"))
}
