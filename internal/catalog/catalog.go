// Package catalog turns the uploaded part of the progress ledger into the
// collection export consumed by the gallery front end.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/parquet-go/parquet-go"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Source is stamped on every exported entry.
const Source = "artvee"

// Format selects the export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// Entry is one exported artwork.
type Entry struct {
	ArtveeID     string    `json:"artvee_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Year         string    `json:"year"`
	Description  string    `json:"description"`
	ImageURL     string    `json:"image_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Source       string    `json:"source"`
	Tags         []string  `json:"tags"`
	SHA256       string    `json:"sha256,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Row is the parquet schema of an Entry.
type Row struct {
	ArtveeID         string   `parquet:"artvee_id"`
	Title            string   `parquet:"title"`
	Artist           string   `parquet:"artist"`
	Year             string   `parquet:"year"`
	Description      string   `parquet:"description"`
	ImageURL         string   `parquet:"image_url"`
	ThumbnailURL     string   `parquet:"thumbnail_url"`
	Source           string   `parquet:"source"`
	Tags             []string `parquet:"tags,list"`
	SHA256           string   `parquet:"sha256"`
	SizeBytes        int64    `parquet:"size_bytes"`
	UploadedAtMillis int64    `parquet:"uploaded_at_ms"`
}

// Row converts e to its parquet form.
func (e Entry) Row() Row {
	return Row{
		ArtveeID:         e.ArtveeID,
		Title:            e.Title,
		Artist:           e.Artist,
		Year:             e.Year,
		Description:      e.Description,
		ImageURL:         e.ImageURL,
		ThumbnailURL:     e.ThumbnailURL,
		Source:           e.Source,
		Tags:             e.Tags,
		SHA256:           e.SHA256,
		SizeBytes:        e.SizeBytes,
		UploadedAtMillis: e.UploadedAt.UnixMilli(),
	}
}

// FromLedger builds entries for every uploaded artwork, ordered by id.
func FromLedger(entries map[string]artwork.ProgressEntry) []Entry {
	out := make([]Entry, 0, len(entries))
	for id, e := range entries {
		if !e.Uploaded || e.RemoteRef == nil {
			continue
		}
		thumb := artwork.Deref(e.ThumbnailRef)
		if thumb == "" {
			thumb = *e.RemoteRef
		}
		var size int64
		if e.SizeBytes != nil {
			size = *e.SizeBytes
		}
		out = append(out, Entry{
			ArtveeID:     id,
			Title:        e.Title,
			Artist:       e.Artist,
			Year:         e.Year,
			Description:  e.Description,
			ImageURL:     *e.RemoteRef,
			ThumbnailURL: thumb,
			Source:       Source,
			Tags:         Tags(e.Artist),
			SHA256:       e.ContentHash,
			SizeBytes:    size,
			UploadedAt:   e.AttemptedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtveeID < out[j].ArtveeID })
	return out
}

// Tags returns the artist slug followed by the fixed collection tags.
func Tags(artist string) []string {
	tags := make([]string, 0, 3)
	if slug := Slug(artist); slug != "" {
		tags = append(tags, slug)
	}
	return append(tags, "painting", "artwork")
}

// Slug lower-cases s and joins its alphanumeric runs with hyphens.
func Slug(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "-")
}

// WriteJSON encodes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []Entry{}
	}
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode collection json: %w", err)
	}
	return nil
}

// WriteParquet encodes entries as a single parquet file.
func WriteParquet(w io.Writer, entries []Entry) error {
	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = e.Row()
	}
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// FileName is artvee-collection-<unix millis>.<format>.
func FileName(format Format, now time.Time) string {
	return fmt.Sprintf("artvee-collection-%d.%s", now.UnixMilli(), format)
}

// ExportFile writes entries into dir and returns the created path.
func ExportFile(dir string, format Format, entries []Entry, now time.Time) (string, error) {
	var write func(io.Writer, []Entry) error
	switch format {
	case FormatJSON:
		write = WriteJSON
	case FormatParquet:
		write = WriteParquet
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(format, now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := write(f, entries); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}
