// Package pipeline drives artworks through extract, fetch, validate, upload
// and record, one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/imaging"
	"github.com/JakeFAU/artvee-ingest/internal/metrics"
)

// Config controls orchestrator behavior.
type Config struct {
	// WorkDir holds downloaded working copies under full/ and thumbs/.
	WorkDir string `mapstructure:"work_dir"`
	// Thumbnails enables the secondary thumbnail upload.
	Thumbnails bool `mapstructure:"thumbnails"`
	// UploadTimeout bounds each call to the uploader. Zero means no bound.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// Deps bundles the collaborators for one orchestrator.
type Deps struct {
	Extractor artwork.Extractor
	Fetcher   artwork.ImageFetcher
	Optimizer artwork.Optimizer
	Uploader  artwork.Uploader
	Progress  artwork.ProgressStore
	Pacer     artwork.Pacer
	Retry     artwork.RetryPolicy
	Notifier  artwork.Notifier
	Hasher    artwork.Hasher
	Clock     artwork.Clock
}

// Orchestrator processes artworks sequentially.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// Result is the terminal state of one artwork.
type Result struct {
	ID        string
	Outcome   artwork.Outcome
	Stage     artwork.State
	RemoteRef string
	Err       error
}

// Summary aggregates one batch.
type Summary struct {
	RunID         string        `json:"run_id" yaml:"run_id"`
	Total         int           `json:"total" yaml:"total"`
	Succeeded     int           `json:"succeeded" yaml:"succeeded"`
	Failed        int           `json:"failed" yaml:"failed"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	UploadedBytes int64         `json:"uploaded_bytes" yaml:"uploaded_bytes"`
	FailedIDs     []string      `json:"failed_ids" yaml:"failed_ids"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	Interrupted   bool          `json:"interrupted" yaml:"interrupted"`
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("image fetcher is required")
	case deps.Optimizer == nil:
		return nil, fmt.Errorf("optimizer is required")
	case deps.Uploader == nil:
		return nil, fmt.Errorf("uploader is required")
	case deps.Progress == nil:
		return nil, fmt.Errorf("progress store is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, sleep: sleepContext}, nil
}

// Run processes records in order. Per-artwork failures are recorded and the
// batch continues; only a progress store failure or cancellation stops it.
// The returned summary is valid even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, runID string, records []artwork.Record) (Summary, error) {
	start := o.deps.Clock.Now()
	summary := Summary{RunID: runID, Total: len(records), FailedIDs: []string{}}
	metrics.SetRunInProgress(true)
	defer metrics.SetRunInProgress(false)

	o.logger.Info("batch started", zap.String("run_id", runID), zap.Int("records", len(records)))
	var runErr error
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			summary.Interrupted = true
			runErr = err
			break
		}
		res, err := o.Process(ctx, runID, rec)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Interrupted = true
			}
			runErr = err
			break
		}
		switch res.Outcome {
		case artwork.OutcomeSucceeded:
			summary.Succeeded++
			if entry, ok := o.deps.Progress.Lookup(rec.ID); ok && entry.SizeBytes != nil {
				summary.UploadedBytes += *entry.SizeBytes
			}
		case artwork.OutcomeSkipped:
			summary.Skipped++
		case artwork.OutcomeFailed:
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, rec.ID)
		}
		metrics.ObserveArtwork(string(res.Outcome))
		o.logger.Info("batch progress",
			zap.String("artwork_id", rec.ID),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("remaining", len(records)-i-1),
		)
	}
	summary.Duration = o.deps.Clock.Now().Sub(start)

	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Strings("failed_ids", summary.FailedIDs),
		zap.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		o.logger.Warn("batch stopped early", append(fields, zap.Error(runErr))...)
		return summary, fmt.Errorf("batch stopped: %w", runErr)
	}
	o.logger.Info("batch finished", fields...)
	return summary, nil
}

// Process drives one artwork to a terminal state. A non-nil error means the
// batch must stop: the ledger could not be written or ctx was canceled.
func (o *Orchestrator) Process(ctx context.Context, runID string, rec artwork.Record) (Result, error) {
	logger := o.logger.With(zap.String("artwork_id", rec.ID))
	prev, seen := o.deps.Progress.Lookup(rec.ID)
	if seen && prev.Uploaded {
		logger.Debug("already uploaded; skipping", zap.String("remote_ref", artwork.Deref(prev.RemoteRef)))
		return Result{ID: rec.ID, Outcome: artwork.OutcomeSkipped, Stage: artwork.StateRecorded, RemoteRef: artwork.Deref(prev.RemoteRef)}, nil
	}

	entry := o.startEntry(runID, rec, prev)
	upload, stage, err := o.advance(ctx, rec, &entry, logger)
	if err != nil && ctx.Err() != nil {
		// Interrupted mid-artwork: leave the prior ledger entry untouched.
		logger.Warn("artwork interrupted", zap.String("stage", string(stage)), zap.Error(err))
		return Result{ID: rec.ID, Outcome: artwork.OutcomeFailed, Stage: stage, Err: err}, ctx.Err()
	}

	res := Result{ID: rec.ID, Stage: artwork.StateRecorded}
	if err != nil {
		kind := artwork.Classify(err)
		entry.Uploaded = false
		entry.Error = artwork.StringPtr(err.Error())
		entry.ErrorKind = kind
		entry.Stage = stage
		res.Outcome = artwork.OutcomeFailed
		res.Stage = stage
		res.Err = err
		metrics.ObserveStageFailure(string(stage), kind)
		logger.Warn("artwork failed", zap.String("stage", string(stage)), zap.String("error_kind", kind), zap.Error(err))
	} else {
		entry.Stage = artwork.StateRecorded
		res.Outcome = artwork.OutcomeSucceeded
		res.RemoteRef = upload.RemoteRef
	}

	if err := o.deps.Progress.RecordAttempt(rec.ID, entry); err != nil {
		return res, fmt.Errorf("record attempt %s: %w", rec.ID, err)
	}
	if err := o.deps.Progress.Flush(); err != nil {
		return res, fmt.Errorf("flush progress after %s: %w", rec.ID, err)
	}

	if res.Outcome == artwork.OutcomeSucceeded {
		o.publish(ctx, runID, entry, upload, logger)
		logger.Info("artwork uploaded",
			zap.String("remote_ref", upload.RemoteRef),
			zap.Int64("size_bytes", upload.SizeBytes),
			zap.Float64("reduction_percent", entry.Reduction),
		)
	}
	return res, nil
}

func (o *Orchestrator) startEntry(runID string, rec artwork.Record, prev artwork.ProgressEntry) artwork.ProgressEntry {
	entry := prev
	entry.ID = rec.ID
	entry.RunID = runID
	entry.AttemptedAt = o.deps.Clock.Now()
	entry.Attempts = prev.Attempts + 1
	entry.Stage = artwork.StatePending
	entry.SourceURL = rec.SourceURL
	if entry.Title == "" {
		entry.Title = rec.Title
	}
	if rec.Artist != "" {
		entry.Artist = rec.Artist
	}
	return entry
}

type uploadOutcome struct {
	RemoteRef    string
	ThumbnailRef string
	SizeBytes    int64
	SHA256       string
}

// advance runs the state machine, filling entry as it goes so a failure
// keeps whatever was learned. It returns the stage that failed.
func (o *Orchestrator) advance(
	ctx context.Context,
	rec artwork.Record,
	entry *artwork.ProgressEntry,
	logger *zap.Logger,
) (uploadOutcome, artwork.State, error) {
	var out uploadOutcome

	meta, cached := cachedMetadata(*entry)
	firstURL := rec.SourceURL
	if cached {
		firstURL = meta.Images.Full
	}
	if o.deps.Pacer != nil {
		if err := o.deps.Pacer.Wait(ctx, firstURL); err != nil {
			return out, artwork.StatePending, err
		}
	}

	if cached {
		logger.Debug("reusing cached image urls", zap.String("image_url", meta.Images.Full))
	} else {
		extracted, err := o.extract(ctx, rec, entry)
		if err != nil {
			return out, artwork.StateExtracting, err
		}
		meta = extracted
	}

	entry.Stage = artwork.StateFetching
	localPath := o.localPath("full", rec.ID, meta.Images.Full)
	err := o.obtain(ctx, meta.Images.Full, localPath, logger)
	if err != nil && cached && imageGone(err) {
		// The page may have moved the file; read it again once.
		stale := meta.Images.Full
		logger.Info("cached image url is gone; extracting again", zap.String("image_url", stale), zap.Error(err))
		entry.Images = nil
		if o.deps.Pacer != nil {
			if waitErr := o.deps.Pacer.Wait(ctx, rec.SourceURL); waitErr != nil {
				return out, artwork.StateExtracting, waitErr
			}
		}
		extracted, exErr := o.extract(ctx, rec, entry)
		if exErr != nil {
			return out, artwork.StateExtracting, exErr
		}
		meta = extracted
		entry.Stage = artwork.StateFetching
		if meta.Images.Full != stale {
			localPath = o.localPath("full", rec.ID, meta.Images.Full)
			err = o.obtain(ctx, meta.Images.Full, localPath, logger)
		}
	}
	if err != nil {
		return out, artwork.StateFetching, err
	}

	entry.Stage = artwork.StateValidating
	result, err := o.deps.Optimizer.Optimize(ctx, localPath)
	if err != nil {
		removeQuietly(localPath)
		return out, artwork.StateValidating, err
	}
	entry.Reduction = result.ReductionPercent
	if o.deps.Hasher != nil {
		sum, err := o.deps.Hasher.HashFile(localPath)
		if err != nil {
			return out, artwork.StateValidating, err
		}
		entry.ContentHash = sum
		out.SHA256 = sum
	}

	entry.Stage = artwork.StateUploading
	ref, err := o.upload(ctx, artwork.UploadRequest{
		ArtworkID:   rec.ID,
		Path:        localPath,
		ContentType: imaging.ContentType(result.Asset.Format),
		Kind:        artwork.UploadFull,
	})
	if err != nil {
		// The working copy stays so the next run retries upload without re-downloading.
		return out, artwork.StateUploading, err
	}
	out.RemoteRef = ref
	out.SizeBytes = result.Asset.ByteSize
	entry.Uploaded = true
	entry.RemoteRef = artwork.StringPtr(ref)
	entry.SizeBytes = artwork.Int64Ptr(result.Asset.ByteSize)
	entry.Error = nil
	entry.ErrorKind = ""
	removeQuietly(localPath)

	if o.cfg.Thumbnails {
		out.ThumbnailRef = o.uploadThumbnail(ctx, rec.ID, meta.Images, ref, logger)
		entry.ThumbnailRef = artwork.StringPtr(out.ThumbnailRef)
	}
	return out, artwork.StateRecorded, nil
}

func (o *Orchestrator) extract(ctx context.Context, rec artwork.Record, entry *artwork.ProgressEntry) (artwork.Metadata, error) {
	entry.Stage = artwork.StateExtracting
	meta, err := o.deps.Extractor.Extract(ctx, rec.SourceURL)
	if err != nil {
		return artwork.Metadata{}, err
	}
	applyMetadata(entry, rec, meta)
	return meta, nil
}

// imageGone reports a client error status that no retry will fix.
func imageGone(err error) bool {
	var fetchErr *artwork.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != artwork.KindHTTPStatus {
		return false
	}
	code := fetchErr.StatusCode
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// upload calls the uploader under UploadTimeout. Hitting the bound is a
// network failure of this artwork, not a cancellation of the batch.
func (o *Orchestrator) upload(ctx context.Context, req artwork.UploadRequest) (string, error) {
	if o.cfg.UploadTimeout <= 0 {
		return o.deps.Uploader.Upload(ctx, req)
	}
	uploadCtx, cancel := context.WithTimeout(ctx, o.cfg.UploadTimeout)
	defer cancel()
	ref, err := o.deps.Uploader.Upload(uploadCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(uploadCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, artwork.ErrUploadNetwork) {
		return "", &artwork.UploadError{
			Kind: artwork.KindNetworkFailure,
			Err:  fmt.Errorf("no response within %s: %w", o.cfg.UploadTimeout, err),
		}
	}
	return ref, err
}

// obtain reuses a non-empty working copy left by an earlier run or fetches
// the image with retries.
func (o *Orchestrator) obtain(ctx context.Context, imageURL, dest string, logger *zap.Logger) error {
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		logger.Info("reusing local working copy", zap.String("path", dest), zap.Int64("bytes", info.Size()))
		return nil
	}
	n, err := o.fetchWithRetry(ctx, imageURL, dest, logger)
	if err != nil {
		return err
	}
	logger.Debug("image fetched", zap.String("image_url", imageURL), zap.Int64("bytes", n))
	return nil
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, imageURL, dest string, logger *zap.Logger) (int64, error) {
	for attempt := 1; ; attempt++ {
		n, err := o.deps.Fetcher.FetchImage(ctx, imageURL, dest)
		if err == nil {
			return n, nil
		}
		if o.deps.Retry == nil || ctx.Err() != nil || !o.deps.Retry.ShouldRetry(err, attempt) {
			return 0, err
		}
		wait := o.deps.Retry.Backoff(attempt)
		logger.Warn("image fetch failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return 0, err
		}
	}
}

// uploadThumbnail never fails the artwork; it returns "" when the thumbnail
// could not be stored.
func (o *Orchestrator) uploadThumbnail(
	ctx context.Context,
	id string,
	images artwork.ImageURLs,
	fullRef string,
	logger *zap.Logger,
) string {
	if images.Thumbnail == "" || images.Thumbnail == images.Full {
		return fullRef
	}
	localPath := o.localPath("thumbs", id, images.Thumbnail)
	defer removeQuietly(localPath)

	if err := o.obtain(ctx, images.Thumbnail, localPath, logger); err != nil {
		logger.Warn("thumbnail fetch failed", zap.Error(err))
		return ""
	}
	result, err := o.deps.Optimizer.Optimize(ctx, localPath)
	if err != nil {
		logger.Warn("thumbnail validation failed", zap.Error(err))
		return ""
	}
	ref, err := o.upload(ctx, artwork.UploadRequest{
		ArtworkID:   id,
		Path:        localPath,
		ContentType: imaging.ContentType(result.Asset.Format),
		Kind:        artwork.UploadThumbnail,
	})
	if err != nil {
		logger.Warn("thumbnail upload failed", zap.Error(err))
		return ""
	}
	return ref
}

func (o *Orchestrator) publish(ctx context.Context, runID string, entry artwork.ProgressEntry, up uploadOutcome, logger *zap.Logger) {
	if o.deps.Notifier == nil {
		return
	}
	event := artwork.UploadEvent{
		RunID:        runID,
		ArtworkID:    entry.ID,
		RemoteRef:    up.RemoteRef,
		ThumbnailRef: up.ThumbnailRef,
		SizeBytes:    up.SizeBytes,
		SHA256:       up.SHA256,
		Title:        entry.Title,
		Artist:       entry.Artist,
		UploadedAt:   o.deps.Clock.Now(),
	}
	if err := o.deps.Notifier.Publish(ctx, event); err != nil {
		logger.Warn("upload event not published", zap.Error(err))
	}
}

func (o *Orchestrator) localPath(kind, id, imageURL string) string {
	return filepath.Join(o.cfg.WorkDir, kind, id+ImageExtension(imageURL))
}

// ImageExtension returns the lower-cased extension of the URL path when it
// names a known image type, else ".jpg".
func ImageExtension(imageURL string) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".tif", ".tiff", ".bmp":
		return ext
	default:
		return ".jpg"
	}
}

func cachedMetadata(entry artwork.ProgressEntry) (artwork.Metadata, bool) {
	if entry.Images == nil || entry.Images.Full == "" {
		return artwork.Metadata{}, false
	}
	return artwork.Metadata{
		Title:       entry.Title,
		Artist:      entry.Artist,
		Year:        entry.Year,
		Description: entry.Description,
		Images:      *entry.Images,
	}, true
}

func applyMetadata(entry *artwork.ProgressEntry, rec artwork.Record, meta artwork.Metadata) {
	if meta.Title != "" {
		entry.Title = meta.Title
	}
	if rec.Artist == "" && meta.Artist != "" {
		entry.Artist = meta.Artist
	}
	entry.Year = meta.Year
	entry.Description = meta.Description
	images := meta.Images
	entry.Images = &images
}

func removeQuietly(p string) {
	_ = os.Remove(p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
