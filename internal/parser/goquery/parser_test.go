package goqueryparser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const listingHTML = `
<html><body>
  <div class="video-item" id="video-101">
    <a href="/video/101/first/" title="First clip"></a>
    <img class="video-image" data-original="/thumbs/101.jpg" src="/lazy.gif">
    <div class="ribbon"> HD </div>
  </div>
  <div class="video-item" id="video-102">
    <a href="https://cdn.site.test/video/102/" title="Second clip"></a>
    <img class="video-image" src="thumbs/102.jpg">
  </div>
  <div class="video-item">
    <span>no anchor and no id</span>
  </div>
</body></html>`

func TestParseListing(t *testing.T) {
	p, err := NewListingParser(DefaultListingSelectors(), "https://site.test")
	require.NoError(t, err)

	records, err := p.ParseListing([]byte(listingHTML), "https://site.test/new/2/")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, crawler.ListingRecord{
		ID:        "101",
		Title:     "First clip",
		Link:      "https://site.test/video/101/first/",
		Thumbnail: "https://site.test/thumbs/101.jpg",
		Ribbon:    "HD",
	}, records[0])

	require.Equal(t, "102", records[1].ID)
	require.Equal(t, "https://cdn.site.test/video/102/", records[1].Link)
	require.Equal(t, "https://site.test/thumbs/102.jpg", records[1].Thumbnail)
	require.Empty(t, records[1].Ribbon)
}

func TestParseListingResolvesAgainstPageURL(t *testing.T) {
	p, err := NewListingParser(DefaultListingSelectors(), "")
	require.NoError(t, err)

	records, err := p.ParseListing([]byte(listingHTML), "https://mirror.test/new/3/")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.test/video/101/first/", records[0].Link)
	require.Equal(t, "https://mirror.test/new/3/thumbs/102.jpg", records[1].Thumbnail)
}

func TestParseListingEmptyPage(t *testing.T) {
	p, err := NewListingParser(DefaultListingSelectors(), "https://site.test")
	require.NoError(t, err)

	records, err := p.ParseListing([]byte(`<html><body><p>nothing here</p></body></html>`), "https://site.test/new/9/")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestParseListingItemsWithoutIdentity(t *testing.T) {
	p, err := NewListingParser(DefaultListingSelectors(), "https://site.test")
	require.NoError(t, err)

	records, err := p.ParseListing([]byte(`<html><body>
  <div class="video-item"><span>teaser</span></div>
  <div class="video-item"><span>teaser</span></div>
</body></html>`), "https://site.test/new/3/")
	require.ErrorIs(t, err, crawler.ErrParseMiss)
	require.Nil(t, records)
}

func TestNewListingParserValidates(t *testing.T) {
	_, err := NewListingParser(ListingSelectors{}, "")
	require.Error(t, err)

	_, err = NewListingParser(DefaultListingSelectors(), "http://%zz")
	require.Error(t, err)
}

const detailHTML = `
<html><body>
  <span class="video-likes">1.2k</span>
  <span class="video-dislikes">37</span>
  <span class="video-rating">87%</span>
  <span class="video-views">2,450 views</span>
  <div class="video-description">
     A   long
     description
  </div>
  <div class="video-actresses"><a>Alice</a><a> Bob </a><a>Alice</a></div>
</body></html>`

func TestParseDetail(t *testing.T) {
	p := NewDetailParser(DefaultDetailSelectors(), 500)
	d, err := p.ParseDetail([]byte(detailHTML), "https://site.test/video/101/")
	require.NoError(t, err)

	require.Equal(t, int64(1200), *d.Likes)
	require.Equal(t, int64(37), *d.Dislikes)
	require.Equal(t, int64(87), *d.Rating)
	require.Equal(t, int64(2450), *d.Views)
	require.Equal(t, "A long description", d.Description)
	require.Equal(t, []string{"Alice", "Bob"}, d.Actresses)
	require.Nil(t, d.Categories)
}

func TestParseDetailTruncatesDescription(t *testing.T) {
	p := NewDetailParser(DefaultDetailSelectors(), 6)
	d, err := p.ParseDetail([]byte(detailHTML), "https://site.test/video/101/")
	require.NoError(t, err)
	require.Equal(t, "A long"+crawler.Ellipsis, d.Description)
}

func TestParseDetailAbsent(t *testing.T) {
	p := NewDetailParser(DefaultDetailSelectors(), 0)
	_, err := p.ParseDetail([]byte(`<html><body><h1>Removed</h1></body></html>`), "https://site.test/video/9/")
	require.True(t, errors.Is(err, crawler.ErrDetailAbsent))
	require.True(t, errors.Is(err, crawler.ErrParseMiss))
}

func TestParseDetailUnparsableCounter(t *testing.T) {
	p := NewDetailParser(DetailSelectors{Views: ".views"}, 0)
	d, err := p.ParseDetail([]byte(`<p class="views">N/A</p>`), "https://site.test/v/1")
	require.NoError(t, err)
	require.Nil(t, d.Views)
}
