// Package extractor turns an artwork detail page into metadata and image
// references using an ordered list of goquery locator strategies.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// DefaultCDNHost serves full-resolution artwork files.
const DefaultCDNHost = "mdl.artvee.com"

var (
	yearExpr         = regexp.MustCompile(`\b(1[4-9]\d{2}|20[0-2]\d)\b`)
	artistPrefixExpr = regexp.MustCompile(`(?i)^\s*(by|artist:)\s*`)
	artistMetaExpr   = regexp.MustCompile(`(?i)artist:\s*([^\n]+)`)

	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {}, ".tif": {}, ".tiff": {}, ".bmp": {},
	}
	titleSelectors = []string{
		"h1.entry-title",
		"h1.product_title",
		"h1.product-title",
		"h1.artwork-title",
		".single-product-main h1",
		"h1",
	}
	artistSelectors = []string{
		`a[href*="/artist/"]`,
		".artist-name",
		".product-artist",
		".artwork-artist",
		"span.by-artist",
	}
	descriptionSelectors = []string{
		".woocommerce-Tabs-panel--description",
		".entry-summary",
		".product-short-description",
	}
)

// Config tunes extraction.
type Config struct {
	CDNHost          string
	DescriptionLimit int
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithFallback renders the page with src when the static page yields no image.
func WithFallback(src artwork.PageSource) Option {
	return func(e *Extractor) { e.fallback = src }
}

// WithLocators replaces the default strategies.
func WithLocators(locators ...Locator) Option {
	return func(e *Extractor) { e.locators = locators }
}

// Extractor implements artwork.Extractor.
type Extractor struct {
	source   artwork.PageSource
	fallback artwork.PageSource
	locators []Locator
	cfg      Config
	logger   *zap.Logger
}

// New wires a page source into an Extractor.
func New(source artwork.PageSource, cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if cfg.CDNHost == "" {
		cfg.CDNHost = DefaultCDNHost
	}
	if cfg.DescriptionLimit <= 0 {
		cfg.DescriptionLimit = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		source:   source,
		locators: DefaultLocators(cfg.CDNHost),
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches pageURL once and parses it.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (artwork.Metadata, error) {
	page, err := e.source.FetchPage(ctx, pageURL)
	if err != nil {
		return artwork.Metadata{}, err
	}
	meta, err := e.Parse(page.Body, baseURL(page, pageURL))
	if err == nil || e.fallback == nil || !errors.Is(err, artwork.ErrNoImageFound) {
		return meta, err
	}

	e.logger.Info("static page had no image; rendering", zap.String("url", pageURL))
	rendered, renderErr := e.fallback.FetchPage(ctx, pageURL)
	if renderErr != nil {
		return artwork.Metadata{}, renderErr
	}
	return e.Parse(rendered.Body, baseURL(rendered, pageURL))
}

// Parse extracts metadata from an HTML document fetched from pageURL.
func (e *Extractor) Parse(body []byte, pageURL string) (artwork.Metadata, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return artwork.Metadata{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return artwork.Metadata{}, &artwork.ExtractionError{Kind: artwork.KindNoImageFound, URL: pageURL, Err: err}
	}

	full, strategy := e.locateFull(doc, base)
	if full == "" {
		return artwork.Metadata{}, &artwork.ExtractionError{Kind: artwork.KindNoImageFound, URL: pageURL}
	}
	e.logger.Debug("image located", zap.String("url", pageURL), zap.String("strategy", strategy), zap.String("image", full))

	return artwork.Metadata{
		Title:       extractTitle(doc),
		Artist:      extractArtist(doc),
		Year:        yearExpr.FindString(doc.Find("body").Text()),
		Description: e.extractDescription(doc),
		Images: artwork.ImageURLs{
			Full:      full,
			Thumbnail: locateThumbnail(doc, base, full),
		},
	}, nil
}

func (e *Extractor) locateFull(doc *goquery.Document, base *url.URL) (string, string) {
	for _, loc := range e.locators {
		for _, candidate := range loc.Locate(doc) {
			if resolved, ok := Plausible(candidate, base); ok {
				return resolved, loc.Name()
			}
		}
	}
	return "", ""
}

// locateThumbnail prefers the CDN feature thumbnail, then any other image
// reference distinct from full, and falls back to full itself.
func locateThumbnail(doc *goquery.Document, base *url.URL, full string) string {
	var candidates []string
	doc.Find(`img[src*="/ft/"]`).Each(func(_ int, img *goquery.Selection) {
		candidates = append(candidates, imageSources(img)...)
	})
	doc.Find("img.wp-post-image").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			candidates = append(candidates, src)
		}
	})
	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		candidates = append(candidates, og)
	}
	for _, c := range candidates {
		if resolved, ok := Plausible(c, base); ok && resolved != full {
			return resolved
		}
	}
	return full
}

// Plausible resolves raw against base and accepts it only if it is an
// absolute http(s) URL whose path ends in a recognized image extension.
func Plausible(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return "", false
	}
	if _, ok := imageExtensions[strings.ToLower(path.Ext(ref.Path))]; !ok {
		return "", false
	}
	return ref.String(), true
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		return cleanText(og)
	}
	return ""
}

func extractArtist(doc *goquery.Document) string {
	for _, sel := range artistSelectors {
		text := cleanText(doc.Find(sel).First().Text())
		text = cleanText(artistPrefixExpr.ReplaceAllString(text, ""))
		if text != "" {
			return text
		}
	}
	if m := artistMetaExpr.FindStringSubmatch(doc.Find(".product_meta").Text()); len(m) == 2 {
		return cleanText(m[1])
	}
	return ""
}

func (e *Extractor) extractDescription(doc *goquery.Document) string {
	text := ""
	for _, sel := range descriptionSelectors {
		if text = cleanText(doc.Find(sel).First().Text()); text != "" {
			break
		}
	}
	if text == "" {
		if meta, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
			text = cleanText(meta)
		}
	}
	return truncateRunes(text, e.cfg.DescriptionLimit)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func baseURL(page artwork.Page, requested string) string {
	if page.URL != "" {
		return page.URL
	}
	return requested
}
