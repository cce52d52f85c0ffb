package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Locator proposes candidate image references from a parsed page, best first.
type Locator interface {
	Name() string
	Locate(doc *goquery.Document) []string
}

// DefaultLocators returns the ordered strategies for artwork detail pages.
// cdnHost is the host serving full-resolution files.
func DefaultLocators(cdnHost string) []Locator {
	return []Locator{
		downloadLinkLocator{cdnHost: cdnHost},
		selectorLocator{name: "post-image", selectors: []string{"img.wp-post-image"}},
		metaLocator{name: "og-image", selectors: []string{`meta[property="og:image"]`, `meta[name="twitter:image"]`}},
		cdnImageLocator{cdnHost: cdnHost},
		selectorLocator{name: "product-image", selectors: []string{
			".single-product-main img",
			"#product-img",
			".artwork-image img",
			".woocommerce-product-gallery__image img",
		}},
	}
}

// downloadLinkLocator picks anchors on the CDN that point at a download.
type downloadLinkLocator struct {
	cdnHost string
}

func (downloadLinkLocator) Name() string { return "download-link" }

func (l downloadLinkLocator) Locate(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if l.cdnHost != "" && !strings.Contains(href, l.cdnHost) {
			return
		}
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if strings.Contains(href, "/sdl/") || strings.Contains(text, "download") {
			out = append(out, href)
		}
	})
	return out
}

// cdnImageLocator picks inline images served from the CDN, skipping the
// small feature thumbnails under /ft/.
type cdnImageLocator struct {
	cdnHost string
}

func (cdnImageLocator) Name() string { return "cdn-image" }

func (l cdnImageLocator) Locate(doc *goquery.Document) []string {
	if l.cdnHost == "" {
		return nil
	}
	var out []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, src := range imageSources(img) {
			if strings.Contains(src, l.cdnHost) && !strings.Contains(src, "/ft/") {
				out = append(out, src)
			}
		}
	})
	return out
}

// selectorLocator reads image sources from the first matching elements.
type selectorLocator struct {
	name      string
	selectors []string
}

func (l selectorLocator) Name() string { return l.name }

func (l selectorLocator) Locate(doc *goquery.Document) []string {
	var out []string
	for _, sel := range l.selectors {
		doc.Find(sel).Each(func(_ int, img *goquery.Selection) {
			out = append(out, imageSources(img)...)
		})
	}
	return out
}

// metaLocator reads the content attribute of meta tags.
type metaLocator struct {
	name      string
	selectors []string
}

func (l metaLocator) Name() string { return l.name }

func (l metaLocator) Locate(doc *goquery.Document) []string {
	var out []string
	for _, sel := range l.selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			out = append(out, content)
		}
	}
	return out
}

// imageSources lists lazy-load attributes before src, since lazy loaders
// park a placeholder in src.
func imageSources(img *goquery.Selection) []string {
	var out []string
	for _, attr := range []string{"data-large_image", "data-src", "data-lazy-src", "data-orig-file", "src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	if srcset, ok := img.Attr("srcset"); ok {
		if widest := widestSrcset(srcset); widest != "" {
			out = append(out, widest)
		}
	}
	return out
}

// widestSrcset returns the last candidate in a srcset list; WordPress emits
// them in ascending width.
func widestSrcset(srcset string) string {
	parts := strings.Split(srcset, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		fields := strings.Fields(strings.TrimSpace(parts[i]))
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
