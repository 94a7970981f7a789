package goqueryparser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// DetailSelectors locate fields on an item's own page.
type DetailSelectors struct {
	Likes       string `mapstructure:"likes"`
	Dislikes    string `mapstructure:"dislikes"`
	Rating      string `mapstructure:"rating"`
	Views       string `mapstructure:"views"`
	Description string `mapstructure:"description"`
	Actresses   string `mapstructure:"actresses"`
	Categories  string `mapstructure:"categories"`
}

// DefaultDetailSelectors match the video page markup.
func DefaultDetailSelectors() DetailSelectors {
	return DetailSelectors{
		Likes:       ".video-likes",
		Dislikes:    ".video-dislikes",
		Rating:      ".video-rating",
		Views:       ".video-views",
		Description: ".video-description",
		Actresses:   ".video-actresses a",
		Categories:  ".video-categories a",
	}
}

// DetailParser implements crawler.DetailParser.
type DetailParser struct {
	sel      DetailSelectors
	descSize int
}

// NewDetailParser builds a detail parser. Descriptions are capped at
// descriptionLimit runes.
func NewDetailParser(sel DetailSelectors, descriptionLimit int) *DetailParser {
	return &DetailParser{sel: sel, descSize: descriptionLimit}
}

// ParseDetail extracts the detail fields. Fields whose element is missing
// stay absent; a page where nothing matches returns crawler.ErrDetailAbsent.
func (p *DetailParser) ParseDetail(body []byte, pageURL string) (crawler.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Detail{}, fmt.Errorf("parse detail html: %w", err)
	}

	var (
		d       crawler.Detail
		matched bool
	)
	count := func(selector string) *int64 {
		s := find(doc, selector)
		if s == nil {
			return nil
		}
		matched = true
		return crawler.ParseCountPtr(s.Text())
	}
	d.Likes = count(p.sel.Likes)
	d.Dislikes = count(p.sel.Dislikes)
	d.Rating = count(p.sel.Rating)
	d.Views = count(p.sel.Views)

	if s := find(doc, p.sel.Description); s != nil {
		matched = true
		d.Description = crawler.TruncateDescription(s.Text(), p.descSize)
	}
	d.Actresses = tags(doc, p.sel.Actresses, &matched)
	d.Categories = tags(doc, p.sel.Categories, &matched)

	if !matched {
		return crawler.Detail{}, fmt.Errorf("%s: %w", pageURL, crawler.ErrDetailAbsent)
	}
	return d, nil
}

func find(doc *goquery.Document, selector string) *goquery.Selection {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	s := doc.Find(selector).First()
	if s.Length() == 0 {
		return nil
	}
	return s
}

func tags(doc *goquery.Document, selector string, matched *bool) []string {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	s := doc.Find(selector)
	if s.Length() == 0 {
		return nil
	}
	*matched = true
	return crawler.NormalizeTags(s.Map(func(_ int, el *goquery.Selection) string {
		return el.Text()
	}))
}
