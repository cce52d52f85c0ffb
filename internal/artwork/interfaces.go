package artwork

import (
	"context"
	"time"
)

// Page is a fetched detail page.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// PageSource retrieves one detail page.
type PageSource interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// Extractor resolves metadata and image references from a detail page URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Metadata, error)
}

// ImageFetcher downloads one image to dest in a single attempt.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string, dest string) (int64, error)
}

// Optimizer enforces the byte ceiling on a local image in place.
type Optimizer interface {
	Optimize(ctx context.Context, path string) (OptimizeResult, error)
}

// Uploader ships a validated local file and returns its remote reference.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
}

// ProgressStore is the resumability ledger.
type ProgressStore interface {
	Load() (map[string]ProgressEntry, error)
	Lookup(id string) (ProgressEntry, bool)
	RecordAttempt(id string, entry ProgressEntry) error
	Flush() error
}

// Pacer blocks until the next request to url may start.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy decides whether a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Notifier announces completed uploads.
type Notifier interface {
	Publish(ctx context.Context, event UploadEvent) error
}

// Hasher digests a local file.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
