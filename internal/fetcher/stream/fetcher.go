// Package streamfetcher downloads images straight to disk without buffering
// the payload in memory.
package streamfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/fetcher"
	"github.com/JakeFAU/artvee-ingest/internal/metrics"
)

// PartSuffix marks a download still in flight.
const PartSuffix = ".part"

// Config controls the image download.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Referer is sent when set; some CDNs refuse hotlinked requests.
	Referer string
}

// Fetcher implements artwork.ImageFetcher with one attempt per call.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Fetcher with its own pooled transport.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return NewWithClient(cfg, &http.Client{
		Transport: fetcher.NewHTTPTransport(),
		Timeout:   cfg.Timeout,
	}, logger)
}

// NewWithClient uses the supplied client as-is.
func NewWithClient(cfg Config, client *http.Client, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = fetcher.DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

// FetchImage streams url into dest via dest+".part" and a rename, so dest
// only ever holds a complete payload.
func (f *Fetcher) FetchImage(ctx context.Context, url string, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &artwork.FetchError{Kind: artwork.KindNetworkFailure, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if f.cfg.Referer != "" {
		req.Header.Set("Referer", f.cfg.Referer)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveFetch(url, "error", 0)
		return 0, fetcher.ClassifyError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.ObserveFetch(url, "http_"+strconv.Itoa(resp.StatusCode), 0)
		return 0, fetcher.StatusError(url, resp.StatusCode)
	}

	n, err := writeStream(resp.Body, dest, resp.ContentLength)
	if err != nil {
		metrics.ObserveFetch(url, "error", n)
		var local *diskError
		if errors.As(err, &local) {
			// Not a fetch failure; retrying the download cannot help.
			return 0, fmt.Errorf("save %s: %w", dest, local.err)
		}
		return 0, fetcher.ClassifyError(url, err)
	}
	metrics.ObserveFetch(url, "ok", n)
	f.logger.Debug("image downloaded",
		zap.String("url", url),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// diskError marks a local file system failure during a download.
type diskError struct {
	err error
}

func (e *diskError) Error() string { return e.err.Error() }

func (e *diskError) Unwrap() error { return e.err }

type diskWriter struct {
	f *os.File
}

func (w diskWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &diskError{err: err}
	}
	return n, nil
}

func writeStream(body io.Reader, dest string, expected int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, &diskError{err: fmt.Errorf("create download dir: %w", err)}
	}
	tmp := dest + PartSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, &diskError{err: fmt.Errorf("create partial file: %w", err)}
	}
	n, copyErr := io.Copy(diskWriter{f: out}, body)
	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		copyErr = &diskError{err: fmt.Errorf("close partial file: %w", closeErr)}
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("stream body: %w", copyErr)
	}
	if expected >= 0 && n != expected {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("truncated body: got %d of %d bytes: %w", n, expected, io.ErrUnexpectedEOF)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return n, &diskError{err: fmt.Errorf("finalize download: %w", err)}
	}
	return n, nil
}
