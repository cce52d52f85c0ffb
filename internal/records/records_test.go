package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

func TestDecodeNormalizesSpellings(t *testing.T) {
	t.Parallel()

	input := `[
  {"artveeId": "starry-night", "url": "https://artvee.com/dl/starry-night/", "artist": " Vincent van Gogh ", "title": "The Starry Night"},
  {"url": "https://artvee.com/dl/water-lilies/", "artistUrl": "https://artvee.com/artist/claude-monet/", "title": "Water Lilies"},
  {"id": "wheatfield", "sourceUrl": "https://artvee.com/dl/wheatfield-with-crows/", "artist": "van gogh"}
]`
	loader := NewLoader(NewStaticAliases(map[string]string{"Van Gogh": "Vincent van Gogh"}), nil)
	recs, err := loader.Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, artwork.Record{
		ID:        "starry-night",
		SourceURL: "https://artvee.com/dl/starry-night/",
		Artist:    "Vincent van Gogh",
		Title:     "The Starry Night",
	}, recs[0])
	assert.Equal(t, "water-lilies", recs[1].ID)
	assert.Equal(t, "Claude Monet", recs[1].Artist)
	assert.Equal(t, "Vincent van Gogh", recs[2].Artist)
	assert.Equal(t, "https://artvee.com/dl/wheatfield-with-crows/", recs[2].SourceURL)
}

func TestDecodeRejectsDuplicatesAndBadURLs(t *testing.T) {
	t.Parallel()

	input := `[
  {"id": "a", "url": "https://artvee.com/dl/a/"},
  {"id": "a", "url": "https://artvee.com/dl/a-again/"},
  {"id": "b", "url": "ftp://artvee.com/dl/b/"}
]`
	_, err := NewLoader(nil, nil).Decode(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate id "a"`)
	assert.Contains(t, err.Error(), "invalid source url")
}

func TestNormalizeRejectsUnsafeIDs(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"../escape", "a/b", `a\b`, "..", ".hidden", "with space"} {
		_, err := Normalize(artwork.Record{ID: id, SourceURL: "https://artvee.com/dl/ok/"}, "")
		require.Error(t, err, id)
		assert.Contains(t, err.Error(), "not a slug", id)
	}

	_, err := Normalize(artwork.Record{SourceURL: "https://artvee.com/dl/%2E%2E/"}, "")
	require.Error(t, err)

	rec, err := Normalize(artwork.Record{ID: "the-starry-night_1889.v2", SourceURL: "https://artvee.com/dl/x/"}, "")
	require.NoError(t, err)
	assert.Equal(t, "the-starry-night_1889.v2", rec.ID)
}

func TestLoadFileAndFindLatest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	older := filepath.Join(dir, DefaultPrefix+"2025-01-01T00-00-00.json")
	newer := filepath.Join(dir, DefaultPrefix+"2025-03-01T00-00-00.json")
	require.NoError(t, os.WriteFile(older, []byte(`[]`), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte(`[{"url": "https://artvee.com/dl/x/"}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte(`{}`), 0o600))

	latest, err := FindLatest(dir, "")
	require.NoError(t, err)
	assert.Equal(t, newer, latest)

	recs, err := NewLoader(nil, nil).LoadFile(latest)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].ID)

	_, err = FindLatest(t.TempDir(), "")
	require.Error(t, err)
}

func TestSlugAndName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "the-starry-night", SlugFromURL("https://artvee.com/dl/the-starry-night/"))
	assert.Equal(t, "x", SlugFromURL("https://artvee.com/x"))
	assert.Equal(t, "Vincent Van Gogh", NameFromSlug("vincent-van-gogh"))
	assert.Empty(t, NameFromSlug(""))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	recs := []artwork.Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Equal(t, recs, Select(recs, nil))
	assert.Equal(t, []artwork.Record{{ID: "a"}, {ID: "c"}}, Select(recs, []string{"c", " a"}))
}
