// Package records loads the artwork list produced by the discovery step and
// normalizes it into pipeline records.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// DefaultPrefix names the discovery output files.
const DefaultPrefix = "complete-artists-collection-"

// rawRecord accepts the field spellings seen in discovery output.
type rawRecord struct {
	ID        string `json:"id"`
	ArtveeID  string `json:"artveeId"`
	URL       string `json:"url"`
	SourceURL string `json:"sourceUrl"`
	Artist    string `json:"artist"`
	ArtistURL string `json:"artistUrl"`
	Title     string `json:"title"`
}

// AliasResolver maps an artist name to its canonical spelling.
type AliasResolver interface {
	Resolve(artist string) string
}

// StaticAliases resolves names through a case-insensitive lookup table.
type StaticAliases map[string]string

// Resolve returns the canonical name, or artist unchanged.
func (a StaticAliases) Resolve(artist string) string {
	if canonical, ok := a[strings.ToLower(strings.TrimSpace(artist))]; ok {
		return canonical
	}
	return artist
}

// NewStaticAliases lower-cases the keys of m.
func NewStaticAliases(m map[string]string) StaticAliases {
	out := make(StaticAliases, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Loader reads and validates record files.
type Loader struct {
	aliases AliasResolver
	logger  *zap.Logger
}

// NewLoader builds a Loader; aliases may be nil.
func NewLoader(aliases AliasResolver, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{aliases: aliases, logger: logger}
}

// LoadFile reads a JSON array of records from path.
func (l *Loader) LoadFile(path string) ([]artwork.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()
	recs, err := l.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	l.logger.Info("records loaded", zap.String("path", path), zap.Int("count", len(recs)))
	return recs, nil
}

// Decode parses and normalizes records, rejecting duplicates.
func (l *Loader) Decode(r io.Reader) ([]artwork.Record, error) {
	var raws []rawRecord
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	seen := make(map[string]int, len(raws))
	out := make([]artwork.Record, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		rec, err := Normalize(raw.toRecord(), raw.ArtistURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if l.aliases != nil {
			rec.Artist = l.aliases.Resolve(rec.Artist)
		}
		if first, dup := seen[rec.ID]; dup {
			errs = append(errs, fmt.Errorf("record %d: duplicate id %q (first at %d)", i, rec.ID, first))
			continue
		}
		seen[rec.ID] = i
		out = append(out, rec)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r rawRecord) toRecord() artwork.Record {
	id := r.ID
	if id == "" {
		id = r.ArtveeID
	}
	src := r.URL
	if src == "" {
		src = r.SourceURL
	}
	return artwork.Record{ID: id, SourceURL: src, Artist: r.Artist, Title: r.Title}
}

// slugPattern matches ids that are safe as file names and object keys.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Normalize trims fields, derives a missing id from the URL slug and a
// missing artist from artistURL, and validates the source URL.
func Normalize(rec artwork.Record, artistURL string) (artwork.Record, error) {
	rec.SourceURL = strings.TrimSpace(rec.SourceURL)
	u, err := url.Parse(rec.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return artwork.Record{}, fmt.Errorf("invalid source url %q", rec.SourceURL)
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		rec.ID = SlugFromURL(rec.SourceURL)
	}
	if rec.ID == "" {
		return artwork.Record{}, fmt.Errorf("cannot derive id from %q", rec.SourceURL)
	}
	if !slugPattern.MatchString(rec.ID) {
		return artwork.Record{}, fmt.Errorf("id %q is not a slug", rec.ID)
	}
	rec.Title = strings.TrimSpace(rec.Title)
	rec.Artist = strings.TrimSpace(rec.Artist)
	if rec.Artist == "" && artistURL != "" {
		rec.Artist = NameFromSlug(SlugFromURL(artistURL))
	}
	return rec, nil
}

// SlugFromURL returns the last non-empty path segment.
func SlugFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

// NameFromSlug turns "vincent-van-gogh" into "Vincent Van Gogh".
func NameFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// FindLatest returns the lexically greatest prefix*.json in dir; discovery
// files carry sortable timestamps.
func FindLatest(dir, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.json"))
	if err != nil {
		return "", fmt.Errorf("glob records: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s*.json files in %s", prefix, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Select keeps records whose id is in ids, preserving order. An empty ids
// set keeps everything.
func Select(recs []artwork.Record, ids []string) []artwork.Record {
	if len(ids) == 0 {
		return recs
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = struct{}{}
	}
	out := make([]artwork.Record, 0, len(ids))
	for _, rec := range recs {
		if _, ok := want[rec.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}
