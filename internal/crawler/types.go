// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// DetailStatus tracks whether an item's detail page has been harvested.
type DetailStatus string

// Detail status values persisted in the snapshot.
const (
	DetailNotFetched DetailStatus = "NOT_FETCHED"
	DetailFetched    DetailStatus = "FETCHED"
)

// Identity is the composite key of an item. The site-assigned id is not
// unique on its own, so every lookup uses the pair.
type Identity struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// String renders the identity for logs.
func (i Identity) String() string {
	return fmt.Sprintf("%s|%s", i.ID, i.Link)
}

// Less orders identities by id then link.
func (i Identity) Less(other Identity) bool {
	if i.ID != other.ID {
		return i.ID < other.ID
	}
	return i.Link < other.Link
}

// ListingRecord is one item observed on a listing page.
type ListingRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Thumbnail string `json:"thumbnail"`
	Ribbon    string `json:"ribbon"`
	Page      int    `json:"page"`
}

// Identity returns the composite key of the listing record.
func (r ListingRecord) Identity() Identity {
	return Identity{ID: r.ID, Link: r.Link}
}

// Detail holds the fields scraped from an item's own page. Nil counters and
// empty strings mean the value was not available.
type Detail struct {
	Likes       *int64   `json:"likes,omitempty"`
	Dislikes    *int64   `json:"dislikes,omitempty"`
	Rating      *int64   `json:"rating,omitempty"`
	Views       *int64   `json:"views,omitempty"`
	Description string   `json:"description,omitempty"`
	Actresses   []string `json:"actresses,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// Empty reports whether no detail field carries a value.
func (d Detail) Empty() bool {
	return d.Likes == nil && d.Dislikes == nil && d.Rating == nil && d.Views == nil &&
		d.Description == "" && len(d.Actresses) == 0 && len(d.Categories) == 0
}

// Clone returns a deep copy.
func (d Detail) Clone() Detail {
	out := Detail{
		Likes:       cloneCount(d.Likes),
		Dislikes:    cloneCount(d.Dislikes),
		Rating:      cloneCount(d.Rating),
		Views:       cloneCount(d.Views),
		Description: d.Description,
	}
	if d.Actresses != nil {
		out.Actresses = append([]string(nil), d.Actresses...)
	}
	if d.Categories != nil {
		out.Categories = append([]string(nil), d.Categories...)
	}
	return out
}

// DetailRecord is a successfully parsed detail page keyed by the identity of
// the listing entry that produced its link.
type DetailRecord struct {
	Identity Identity
	Detail   Detail
}

// Record is the canonical merged entry kept in the store and persisted in the
// snapshot.
type Record struct {
	ListingRecord
	Detail
	DetailStatus DetailStatus `json:"detail_status"`
	// LastDetailFetch is a Unix timestamp in seconds; zero means never.
	LastDetailFetch int64 `json:"last_detail_fetch_time"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Detail = r.Detail.Clone()
	return out
}

// NewRecord creates a store entry from a first listing observation.
func NewRecord(listing ListingRecord) Record {
	return Record{
		ListingRecord: listing,
		DetailStatus:  DetailNotFetched,
	}
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Count returns a pointer to v for populating optional counters.
func Count(v int64) *int64 {
	return &v
}

func cloneCount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
