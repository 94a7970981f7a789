// Package goqueryparser extracts listing and detail records from HTML pages
// using goquery selectors.
package goqueryparser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// ListingSelectors locate item fields on a listing page. Field selectors are
// evaluated inside each item.
type ListingSelectors struct {
	Item           string   `mapstructure:"item"`
	IDAttr         string   `mapstructure:"id_attr"`
	IDPrefix       string   `mapstructure:"id_prefix"`
	Anchor         string   `mapstructure:"anchor"`
	Thumbnail      string   `mapstructure:"thumbnail"`
	ThumbnailAttrs []string `mapstructure:"thumbnail_attrs"`
	Ribbon         string   `mapstructure:"ribbon"`
}

// DefaultListingSelectors match the video grid markup.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		Item:           "div.video-item",
		IDAttr:         "id",
		IDPrefix:       "video-",
		Anchor:         "a",
		Thumbnail:      "img.video-image",
		ThumbnailAttrs: []string{"data-original", "src"},
		Ribbon:         "div.ribbon",
	}
}

// ListingParser implements crawler.ListingParser.
type ListingParser struct {
	sel  ListingSelectors
	base *url.URL
}

// NewListingParser builds a listing parser. Relative links resolve against
// baseURL, or against the page URL when baseURL is empty.
func NewListingParser(sel ListingSelectors, baseURL string) (*ListingParser, error) {
	if sel.Item == "" {
		return nil, fmt.Errorf("listing item selector is required")
	}
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	return &ListingParser{sel: sel, base: base}, nil
}

// ParseListing returns the items on the page. A page without items yields
// an empty slice and no error; a page whose items all lack both an id and a
// link returns crawler.ErrParseMiss so it is not mistaken for the end.
func (p *ListingParser) ParseListing(body []byte, pageURL string) ([]crawler.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base := p.resolveBase(pageURL)

	var records []crawler.ListingRecord
	items := doc.Find(p.sel.Item)
	items.Each(func(_ int, item *goquery.Selection) {
		rec := crawler.ListingRecord{}
		if p.sel.IDAttr != "" {
			if raw, ok := item.Attr(p.sel.IDAttr); ok {
				rec.ID = strings.TrimSpace(strings.TrimPrefix(raw, p.sel.IDPrefix))
			}
		}
		if p.sel.Anchor != "" {
			a := item.Find(p.sel.Anchor).First()
			rec.Title = strings.TrimSpace(a.AttrOr("title", ""))
			if href, ok := a.Attr("href"); ok {
				rec.Link = resolve(base, href)
			}
		}
		if p.sel.Thumbnail != "" {
			img := item.Find(p.sel.Thumbnail).First()
			for _, attr := range p.sel.ThumbnailAttrs {
				if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
					rec.Thumbnail = resolve(base, v)
					break
				}
			}
		}
		if p.sel.Ribbon != "" {
			rec.Ribbon = strings.TrimSpace(item.Find(p.sel.Ribbon).First().Text())
		}
		if rec.ID == "" && rec.Link == "" {
			return
		}
		records = append(records, rec)
	})
	if items.Length() > 0 && len(records) == 0 {
		return nil, fmt.Errorf("%s: %d items without id or link: %w", pageURL, items.Length(), crawler.ErrParseMiss)
	}
	return records, nil
}

func (p *ListingParser) resolveBase(pageURL string) *url.URL {
	if p.base != nil {
		return p.base
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	return u
}

func parseBase(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return u, nil
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
