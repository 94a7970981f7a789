// Package snapshot defines the fixed tabular shape of the persisted record
// collection and its JSON document encoding.
package snapshot

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// NotAvailable fills every cell whose value is absent.
const NotAvailable = "N/A"

// Column names, in persisted order.
const (
	ColPage            = "page"
	ColID              = "id"
	ColTitle           = "title"
	ColLink            = "link"
	ColThumbnail       = "thumbnail"
	ColRibbon          = "ribbon"
	ColLikes           = "likes"
	ColDislikes        = "dislikes"
	ColRating          = "rating"
	ColViews           = "views"
	ColDescription     = "description"
	ColActresses       = "actresses"
	ColCategories      = "categories"
	ColDetailStatus    = "detail_status"
	ColLastDetailFetch = "last_detail_fetch_time"
)

// Columns is the fixed ordered column set of every persisted record.
var Columns = []string{
	ColPage, ColID, ColTitle, ColLink, ColThumbnail, ColRibbon,
	ColLikes, ColDislikes, ColRating, ColViews, ColDescription,
	ColActresses, ColCategories, ColDetailStatus, ColLastDetailFetch,
}

// Header returns a copy of Columns.
func Header() []string {
	return append([]string(nil), Columns...)
}

// ToRow projects a record onto Columns.
func ToRow(r crawler.Record) []string {
	status := r.DetailStatus
	if status == "" {
		status = crawler.DetailNotFetched
	}
	return []string{
		strconv.Itoa(r.Page),
		text(r.ID),
		text(r.Title),
		text(r.Link),
		text(r.Thumbnail),
		text(r.Ribbon),
		count(r.Likes),
		count(r.Dislikes),
		count(r.Rating),
		count(r.Views),
		text(r.Description),
		text(crawler.JoinTags(r.Actresses)),
		text(crawler.JoinTags(r.Categories)),
		string(status),
		strconv.FormatInt(r.LastDetailFetch, 10),
	}
}

// FromRow rebuilds a record from cells keyed by column name. Missing columns
// and N/A cells become absent values.
func FromRow(cells map[string]string) crawler.Record {
	get := func(col string) string {
		v := strings.TrimSpace(cells[col])
		if v == NotAvailable {
			return ""
		}
		return v
	}

	r := crawler.Record{
		ListingRecord: crawler.ListingRecord{
			ID:        get(ColID),
			Title:     get(ColTitle),
			Link:      get(ColLink),
			Thumbnail: get(ColThumbnail),
			Ribbon:    get(ColRibbon),
		},
		Detail: crawler.Detail{
			Likes:       parseInt(get(ColLikes)),
			Dislikes:    parseInt(get(ColDislikes)),
			Rating:      parseInt(get(ColRating)),
			Views:       parseInt(get(ColViews)),
			Description: get(ColDescription),
			Actresses:   crawler.SplitTags(get(ColActresses)),
			Categories:  crawler.SplitTags(get(ColCategories)),
		},
		DetailStatus: crawler.DetailNotFetched,
	}
	if page, err := strconv.Atoi(get(ColPage)); err == nil {
		r.Page = page
	}
	if crawler.DetailStatus(get(ColDetailStatus)) == crawler.DetailFetched {
		r.DetailStatus = crawler.DetailFetched
	}
	if ts, err := strconv.ParseInt(get(ColLastDetailFetch), 10, 64); err == nil && ts > 0 {
		r.LastDetailFetch = ts
	}
	return r
}

// Table projects records onto the header and one row per record, in the
// order given.
func Table(records []crawler.Record) ([]string, [][]string) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, ToRow(r))
	}
	return Header(), rows
}

// Records rebuilds records from a header and rows.
func Records(header []string, rows [][]string) []crawler.Record {
	out := make([]crawler.Record, 0, len(rows))
	for _, row := range rows {
		cells := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				cells[col] = row[i]
			}
		}
		out = append(out, FromRow(cells))
	}
	return out
}

func text(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func count(v *int64) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.FormatInt(*v, 10)
}

func parseInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
