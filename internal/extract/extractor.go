// Package extract finds the Open Graph preview images of a web page.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cheahjs/og-image-proxy/internal/fetch"
)

// Open Graph properties in the order they are looked at. twitter:* tags are only used when a page
// has no og:image at all.
var (
	openGraphSelectors = []string{
		`meta[property="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[property="og:image:secure_url"]`,
	}
	twitterSelectors = []string{
		`meta[name="twitter:image"]`,
		`meta[name="twitter:image:src"]`,
		`meta[property="twitter:image"]`,
	}
)

// PageFetcher is the part of fetch.Fetcher the extractor needs.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Document, error)
}

type Extractor struct {
	fetcher PageFetcher
}

func New(fetcher PageFetcher) *Extractor {
	return &Extractor{fetcher: fetcher}
}

// Candidates fetches pageURL and returns its preview image URLs, absolute and de-duplicated.
func (e *Extractor) Candidates(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := e.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ParseImages(doc.Body, doc.URL)
}

// ParseImages extracts image URLs from an HTML document. Relative URLs are resolved against base.
func ParseImages(html []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	if base != nil {
		if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
			if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
				base = b
			}
		}
	}

	images := collect(doc, openGraphSelectors, base)
	if len(images) == 0 {
		images = collect(doc, twitterSelectors, base)
	}
	return images, nil
}

func collect(doc *goquery.Document, selectors []string, base *url.URL) []string {
	seen := make(map[string]struct{})
	var images []string
	doc.Find(strings.Join(selectors, ", ")).Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		resolved, ok := resolve(strings.TrimSpace(content), base)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		images = append(images, resolved)
	})
	return images
}

func resolve(ref string, base *url.URL) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
