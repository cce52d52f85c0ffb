package imaging

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic fixture
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8((x + y) % 256),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) int64 {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(f, img))
	require.NoError(t, f.Close())
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func newOptimizer(t *testing.T, mutate func(*Config)) *Optimizer {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opt, err := New(cfg, nil)
	require.NoError(t, err)
	return opt
}

func TestOptimizeFourteenMegabyteSource(t *testing.T) {
	if testing.Short() {
		t.Skip("large fixture")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "large.png")
	original := writePNG(t, path, noiseImage(2200, 2200, 1))
	require.Greater(t, original, int64(14_000_000))

	opt := newOptimizer(t, nil)
	res, err := opt.Optimize(context.Background(), path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), DefaultCeilingBytes)
	assert.Equal(t, info.Size(), res.Asset.ByteSize)
	assert.GreaterOrEqual(t, res.Passes, 1)
	assert.LessOrEqual(t, res.Passes, 5)
	assert.Greater(t, res.ReductionPercent, 0.0)
	assert.Equal(t, "jpeg", res.Asset.Format)
	assert.NoFileExists(t, path+TempSuffix)
}

func TestOptimizeUnderCeilingIsUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "small.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, noiseImage(40, 30, 2), &jpeg.Options{Quality: 90}))
	require.NoError(t, f.Close())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res, err := newOptimizer(t, nil).Optimize(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	assert.Equal(t, 40, res.Asset.Width)
	assert.Equal(t, 30, res.Asset.Height)
	assert.Equal(t, "jpeg", res.Asset.Format)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOptimizeExhaustedPassesDeletesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stubborn.png")
	writePNG(t, path, noiseImage(64, 64, 3))

	opt := newOptimizer(t, func(c *Config) {
		c.CeilingBytes = 200
		c.MaxPasses = 2
	})
	_, err := opt.Optimize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, artwork.ErrUnableToCompress)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+TempSuffix)
}

func TestOptimizeRejectsInvalidImages(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"empty":   {},
		"garbage": []byte("<html>not an image</html>"),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name+".jpg")
			require.NoError(t, os.WriteFile(path, body, 0o600))

			_, err := newOptimizer(t, nil).Optimize(context.Background(), path)
			require.Error(t, err)
			assert.ErrorIs(t, err, artwork.ErrInvalidImage)
			assert.NoFileExists(t, path)
		})
	}
}

func TestOptimizeCompressesWithSmallCeiling(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medium.png")
	original := writePNG(t, path, noiseImage(300, 200, 4))

	opt := newOptimizer(t, func(c *Config) {
		c.CeilingBytes = original / 2
	})
	res, err := opt.Optimize(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.Mutated())
	assert.LessOrEqual(t, res.Asset.ByteSize, original/2)
	assert.Equal(t, original, res.OriginalBytes)

	cfg, format, err := decodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, res.Asset.Width, cfg.Width)
}

func TestPlan(t *testing.T) {
	t.Parallel()

	opt := newOptimizer(t, nil)
	assert.Equal(t, []Pass{
		{Quality: 85, Width: 3000},
		{Quality: 70, Width: 2400},
		{Quality: 55, Width: 1920},
		{Quality: 40, Width: 1536},
		{Quality: 30, Width: 1228},
	}, opt.Plan(5000))

	assert.Equal(t, 2000, opt.Plan(3000)[0].Width)
	assert.Equal(t, 1800, opt.Plan(1800)[0].Width)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.CeilingBytes = 0 },
		func(c *Config) { c.MaxPasses = 0 },
		func(c *Config) { c.InitialQuality = 101 },
		func(c *Config) { c.MinQuality = 90 },
		func(c *Config) { c.ScaleFactor = 1.5 },
		func(c *Config) { c.WidthCaps = []WidthCap{{Above: 100, Target: 200}} },
	}
	for _, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/jpeg", ContentType("jpeg"))
	assert.Equal(t, "image/webp", ContentType("webp"))
	assert.Equal(t, "application/octet-stream", ContentType("heic"))
}
