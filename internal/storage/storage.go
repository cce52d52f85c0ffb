// Package storage adapts blob stores into the pipeline's upload client and
// maps provider failures onto the upload error taxonomy.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/metrics"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ExistenceChecker is implemented by stores that can report an object that
// is already present, so a re-run after a crash does not upload twice.
type ExistenceChecker interface {
	Exists(ctx context.Context, path string) (string, bool, error)
}

// UploaderConfig controls object naming.
type UploaderConfig struct {
	Prefix          string `mapstructure:"prefix"`
	ThumbnailPrefix string `mapstructure:"thumbnail_prefix"`
}

// BlobUploader implements artwork.Uploader on top of a BlobStore.
type BlobUploader struct {
	store  BlobStore
	cfg    UploaderConfig
	logger *zap.Logger
}

// NewBlobUploader wraps store.
func NewBlobUploader(store BlobStore, cfg UploaderConfig, logger *zap.Logger) (*BlobUploader, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "artvee"
	}
	if cfg.ThumbnailPrefix == "" {
		cfg.ThumbnailPrefix = path.Join(cfg.Prefix, "thumbnails")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobUploader{store: store, cfg: cfg, logger: logger}, nil
}

// Upload streams the local file to the store.
func (u *BlobUploader) Upload(ctx context.Context, req artwork.UploadRequest) (string, error) {
	objectPath := u.ObjectPath(req)
	if checker, ok := u.store.(ExistenceChecker); ok {
		uri, exists, err := checker.Exists(ctx, objectPath)
		if err != nil {
			return "", Classify(err)
		}
		if exists {
			u.logger.Info("object already present; reusing", zap.String("artwork_id", req.ArtworkID), zap.String("uri", uri))
			return uri, nil
		}
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	uri, err := u.store.PutObject(ctx, objectPath, req.ContentType, f)
	if err != nil {
		return "", Classify(err)
	}
	if info, statErr := f.Stat(); statErr == nil {
		metrics.ObserveUpload(string(req.Kind), info.Size())
	}
	u.logger.Debug("object stored", zap.String("artwork_id", req.ArtworkID), zap.String("uri", uri))
	return uri, nil
}

// ObjectPath names the object for req: <prefix>/<id><ext> for full images
// and <thumbnail_prefix>/thumb-<id><ext> for thumbnails.
func (u *BlobUploader) ObjectPath(req artwork.UploadRequest) string {
	ext := ExtensionFor(req.ContentType, req.Path)
	if req.Kind == artwork.UploadThumbnail {
		return path.Join(u.cfg.ThumbnailPrefix, "thumb-"+req.ArtworkID+ext)
	}
	return path.Join(u.cfg.Prefix, req.ArtworkID+ext)
}

// ExtensionFor prefers the content type over the local file name, since the
// optimizer re-encodes to JPEG without renaming.
func ExtensionFor(contentType, localPath string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/tiff":
		return ".tif"
	}
	if ext := strings.ToLower(filepath.Ext(localPath)); ext != "" {
		return ext
	}
	return ".jpg"
}

// Classify maps a store error onto UploadError. Client errors other than
// timeouts and throttling are Rejected; everything else is NetworkFailure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var uploadErr *artwork.UploadError
	if errors.As(err, &uploadErr) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 &&
		apiErr.Code != http.StatusRequestTimeout && apiErr.Code != http.StatusTooManyRequests {
		return &artwork.UploadError{Kind: artwork.KindRejected, Err: err}
	}
	return &artwork.UploadError{Kind: artwork.KindNetworkFailure, Err: err}
}
