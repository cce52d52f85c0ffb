// Package artwork defines the records, progress entries and error kinds shared
// by every stage of the acquisition pipeline.
package artwork

import "time"

// Record is one catalog entry handed to the pipeline by the discovery step.
type Record struct {
	ID        string `json:"id"`
	SourceURL string `json:"url"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
}

// ImageURLs holds the resolved image references for a detail page.
type ImageURLs struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Full      string `json:"full"`
}

// Metadata is everything the extractor pulls out of a detail page.
type Metadata struct {
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Year        string    `json:"year,omitempty"`
	Description string    `json:"description,omitempty"`
	Images      ImageURLs `json:"image_urls"`
}

// ImageAsset describes a local working copy owned by the pipeline for the
// duration of one artwork.
type ImageAsset struct {
	LocalPath string
	ByteSize  int64
	Width     int
	Height    int
	Format    string
}

// OptimizeResult reports what the optimizer did to an asset.
type OptimizeResult struct {
	Asset            ImageAsset
	OriginalBytes    int64
	Passes           int
	ReductionPercent float64
}

// Mutated reports whether the file was re-encoded.
func (r OptimizeResult) Mutated() bool {
	return r.Passes > 0
}

// ProgressEntry is the persisted resumability record for one artwork.
type ProgressEntry struct {
	ID           string     `json:"id"`
	Uploaded     bool       `json:"uploaded"`
	RemoteRef    *string    `json:"remoteRef"`
	SizeBytes    *int64     `json:"sizeBytes"`
	AttemptedAt  time.Time  `json:"attemptedAt"`
	Error        *string    `json:"error"`
	ErrorKind    string     `json:"errorKind,omitempty"`
	Stage        State      `json:"stage,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	RunID        string     `json:"runId,omitempty"`
	ThumbnailRef *string    `json:"thumbnailRef,omitempty"`
	ContentHash  string     `json:"sha256,omitempty"`
	Reduction    float64    `json:"reductionPercent,omitempty"`
	SourceURL    string     `json:"sourceUrl,omitempty"`
	Title        string     `json:"title,omitempty"`
	Artist       string     `json:"artist,omitempty"`
	Year         string     `json:"year,omitempty"`
	Description  string     `json:"description,omitempty"`
	Images       *ImageURLs `json:"imageUrls,omitempty"`
}

// State is a step in the per-artwork state machine.
type State string

// Pipeline states in the order an artwork moves through them.
const (
	StatePending    State = "pending"
	StateExtracting State = "extracting"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StateRecorded   State = "recorded"
)

// Outcome is the terminal result for one artwork in a batch.
type Outcome string

// Outcome values reported by the orchestrator.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// UploadKind distinguishes the primary asset from its thumbnail.
type UploadKind string

// Upload kinds.
const (
	UploadFull      UploadKind = "full"
	UploadThumbnail UploadKind = "thumbnail"
)

// UploadRequest asks an uploader to ship one validated local file.
type UploadRequest struct {
	ArtworkID   string
	Path        string
	ContentType string
	Kind        UploadKind
}

// UploadEvent is published after an artwork reaches the remote store.
type UploadEvent struct {
	RunID        string    `json:"run_id"`
	ArtworkID    string    `json:"artwork_id"`
	RemoteRef    string    `json:"remote_ref"`
	ThumbnailRef string    `json:"thumbnail_ref,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256,omitempty"`
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
