// Package imaging guarantees a local image fits under the upload byte ceiling,
// re-encoding it in bounded passes when it does not.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/metrics"
)

// DefaultCeilingBytes is the remote store's per-asset limit (10 MiB).
const DefaultCeilingBytes int64 = 10 * 1024 * 1024

// TempSuffix marks an in-progress re-encode next to its source file.
const TempSuffix = ".optimizing"

// WidthCap clamps the first pass for very wide sources.
type WidthCap struct {
	Above  int `mapstructure:"above"`
	Target int `mapstructure:"target"`
}

// Config is the re-encode policy.
type Config struct {
	CeilingBytes   int64      `mapstructure:"ceiling_bytes"`
	MaxPasses      int        `mapstructure:"max_passes"`
	InitialQuality int        `mapstructure:"initial_quality"`
	QualityStep    int        `mapstructure:"quality_step"`
	MinQuality     int        `mapstructure:"min_quality"`
	ScaleFactor    float64    `mapstructure:"scale_factor"`
	WidthCaps      []WidthCap `mapstructure:"width_caps"`
}

// DefaultConfig returns the documented default policy.
func DefaultConfig() Config {
	return Config{
		CeilingBytes:   DefaultCeilingBytes,
		MaxPasses:      5,
		InitialQuality: 85,
		QualityStep:    15,
		MinQuality:     30,
		ScaleFactor:    0.8,
		WidthCaps: []WidthCap{
			{Above: 4000, Target: 3000},
			{Above: 2500, Target: 2000},
		},
	}
}

// Validate checks the policy is bounded and meaningful.
func (c Config) Validate() error {
	switch {
	case c.CeilingBytes <= 0:
		return errors.New("ceiling_bytes must be positive")
	case c.MaxPasses < 1 || c.MaxPasses > 20:
		return errors.New("max_passes must be between 1 and 20")
	case c.InitialQuality < 1 || c.InitialQuality > 100:
		return errors.New("initial_quality must be between 1 and 100")
	case c.MinQuality < 1 || c.MinQuality > c.InitialQuality:
		return errors.New("min_quality must be between 1 and initial_quality")
	case c.QualityStep < 0:
		return errors.New("quality_step must be >= 0")
	case c.ScaleFactor <= 0 || c.ScaleFactor > 1:
		return errors.New("scale_factor must be in (0, 1]")
	}
	for _, wc := range c.WidthCaps {
		if wc.Target <= 0 || wc.Target > wc.Above {
			return fmt.Errorf("width cap %d->%d must shrink", wc.Above, wc.Target)
		}
	}
	return nil
}

// Pass is the quality and target width used for one re-encode.
type Pass struct {
	Quality int
	Width   int
}

// Optimizer implements artwork.Optimizer.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns an optimizer.
func New(cfg Config, logger *zap.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{cfg: cfg, logger: logger}, nil
}

// Plan lists the passes for an image of the given width. The first pass
// applies the width caps at the initial quality; each later pass lowers
// quality by the step (floored at MinQuality) and scales the width.
func (o *Optimizer) Plan(width int) []Pass {
	passes := make([]Pass, 0, o.cfg.MaxPasses)
	quality := o.cfg.InitialQuality
	w := o.capWidth(width)
	for i := 0; i < o.cfg.MaxPasses; i++ {
		if i > 0 {
			quality = max(o.cfg.MinQuality, quality-o.cfg.QualityStep)
			w = max(1, int(float64(w)*o.cfg.ScaleFactor))
		}
		passes = append(passes, Pass{Quality: quality, Width: w})
	}
	return passes
}

func (o *Optimizer) capWidth(width int) int {
	for _, wc := range o.cfg.WidthCaps {
		if width > wc.Above {
			return wc.Target
		}
	}
	return width
}

// Optimize leaves a compliant file at path or removes it. Files at or under
// the ceiling are not touched. Undecodable or empty files fail with
// ValidationError(InvalidImage); exhausting the passes fails with
// ValidationError(UnableToCompress). Both failures delete the file.
func (o *Optimizer) Optimize(ctx context.Context, path string) (artwork.OptimizeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return artwork.OptimizeResult{}, fmt.Errorf("stat image: %w", err)
	}
	original := info.Size()
	if original == 0 {
		return artwork.OptimizeResult{}, o.reject(path, artwork.KindInvalidImage, errors.New("empty file"))
	}
	cfg, format, err := decodeConfig(path)
	if err != nil {
		return artwork.OptimizeResult{}, o.reject(path, artwork.KindInvalidImage, err)
	}
	asset := artwork.ImageAsset{
		LocalPath: path,
		ByteSize:  original,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
	}
	if original <= o.cfg.CeilingBytes {
		metrics.ObserveOptimization("untouched", 0, 0)
		return artwork.OptimizeResult{Asset: asset, OriginalBytes: original}, nil
	}

	src, err := decode(path)
	if err != nil {
		return artwork.OptimizeResult{}, o.reject(path, artwork.KindInvalidImage, err)
	}
	tmp := path + TempSuffix
	for i, pass := range o.Plan(cfg.Width) {
		if err := ctx.Err(); err != nil {
			_ = os.Remove(tmp)
			return artwork.OptimizeResult{}, fmt.Errorf("optimize canceled: %w", err)
		}
		out, err := encodePass(src, pass, tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return artwork.OptimizeResult{}, err
		}
		o.logger.Debug("re-encode pass",
			zap.String("path", path),
			zap.Int("pass", i+1),
			zap.Int("quality", pass.Quality),
			zap.Int("width", out.Width),
			zap.Int64("bytes", out.ByteSize),
		)
		if out.ByteSize > o.cfg.CeilingBytes {
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return artwork.OptimizeResult{}, fmt.Errorf("replace image: %w", err)
		}
		out.LocalPath = path
		reduction := float64(original-out.ByteSize) / float64(original) * 100
		metrics.ObserveOptimization("compressed", i+1, reduction)
		o.logger.Info("image compressed",
			zap.String("path", path),
			zap.Int64("original_bytes", original),
			zap.Int64("bytes", out.ByteSize),
			zap.Int("passes", i+1),
			zap.Float64("reduction_percent", reduction),
		)
		return artwork.OptimizeResult{
			Asset:            out,
			OriginalBytes:    original,
			Passes:           i + 1,
			ReductionPercent: reduction,
		}, nil
	}
	_ = os.Remove(tmp)
	metrics.ObserveOptimization("abandoned", o.cfg.MaxPasses, 0)
	return artwork.OptimizeResult{}, o.reject(path, artwork.KindUnableToCompress,
		fmt.Errorf("still above %d bytes after %d passes", o.cfg.CeilingBytes, o.cfg.MaxPasses))
}

func (o *Optimizer) reject(path string, kind artwork.Kind, cause error) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("remove rejected image failed", zap.String("path", path), zap.Error(err))
	}
	return &artwork.ValidationError{Kind: kind, Path: path, Err: cause}
}

func decodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return cfg, format, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// encodePass renders src at the pass width onto an opaque canvas and writes
// it as JPEG to dest.
func encodePass(src image.Image, pass Pass, dest string) (artwork.ImageAsset, error) {
	sb := src.Bounds()
	width := min(pass.Width, sb.Dx())
	height := max(1, int(float64(sb.Dy())*float64(width)/float64(sb.Dx())))
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	if width == sb.Dx() {
		draw.Draw(canvas, canvas.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.BiLinear.Scale(canvas, canvas.Bounds(), src, sb, draw.Over, nil)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return artwork.ImageAsset{}, fmt.Errorf("create re-encode target: %w", err)
	}
	if err := jpeg.Encode(f, canvas, &jpeg.Options{Quality: pass.Quality}); err != nil {
		_ = f.Close()
		return artwork.ImageAsset{}, fmt.Errorf("encode jpeg: %w", err)
	}
	if err := f.Close(); err != nil {
		return artwork.ImageAsset{}, fmt.Errorf("close re-encode target: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return artwork.ImageAsset{}, fmt.Errorf("stat re-encode target: %w", err)
	}
	return artwork.ImageAsset{
		ByteSize: info.Size(),
		Width:    width,
		Height:   height,
		Format:   "jpeg",
	}, nil
}

// ContentType maps a decoded format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
