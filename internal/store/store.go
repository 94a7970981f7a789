// Package store holds the canonical, identity-keyed record collection and
// the rules for merging fresh listing and detail observations into it.
package store

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// ListingResult counts the effect of one ApplyListing call.
type ListingResult struct {
	Inserted int
	Updated  int
}

// Store is the single shared mutable collection of a run. Every
// check-then-mutate operation runs under one store-wide lock.
type Store struct {
	mu      sync.Mutex
	clock   crawler.Clock
	records map[crawler.Identity]*crawler.Record
}

// New builds a store seeded with snapshot records. Records sharing an
// identity collapse into one: FETCHED beats NOT_FETCHED, then the newer
// detail fetch wins.
func New(clock crawler.Clock, seed []crawler.Record) *Store {
	if clock == nil {
		clock = wallClock{}
	}
	s := &Store{
		clock:   clock,
		records: make(map[crawler.Identity]*crawler.Record, len(seed)),
	}
	for _, rec := range seed {
		key := rec.Identity()
		if current, ok := s.records[key]; ok && !supersedes(rec, *current) {
			continue
		}
		r := rec.Clone()
		if r.DetailStatus == "" {
			r.DetailStatus = crawler.DetailNotFetched
		}
		s.records[key] = &r
	}
	metrics.SetStoreRecords(len(s.records))
	return s
}

// ApplyListing merges listing observations. New identities are inserted as
// NOT_FETCHED; known ones get their listing-only fields refreshed while
// detail fields and status stay untouched.
func (s *Store) ApplyListing(listings []crawler.ListingRecord) ListingResult {
	var res ListingResult

	s.mu.Lock()
	for _, l := range listings {
		key := l.Identity()
		current, ok := s.records[key]
		if !ok {
			r := crawler.NewRecord(l)
			s.records[key] = &r
			res.Inserted++
			continue
		}
		refreshListing(current, l)
		res.Updated++
	}
	size := len(s.records)
	s.mu.Unlock()

	metrics.ObserveMerge("inserted", res.Inserted)
	metrics.ObserveMerge("updated", res.Updated)
	metrics.SetStoreRecords(size)
	return res
}

// ApplyDetail merges a successfully parsed detail page into the entry with
// the same identity. It reports false when no such entry exists. Fields the
// page did not carry keep their previous values.
func (s *Store) ApplyDetail(d crawler.DetailRecord) bool {
	s.mu.Lock()
	current, ok := s.records[d.Identity]
	if ok {
		refreshDetail(current, d.Detail)
		current.DetailStatus = crawler.DetailFetched
		current.LastDetailFetch = s.clock.Now().Unix()
	}
	s.mu.Unlock()

	if ok {
		metrics.ObserveMerge("detail", 1)
	}
	return ok
}

// Get returns a copy of the record with the given identity.
func (s *Store) Get(id crawler.Identity) (crawler.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return crawler.Record{}, false
	}
	return r.Clone(), true
}

// Len returns the number of distinct identities held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns deep copies of every record in persistence order.
func (s *Store) Records() []crawler.Record {
	s.mu.Lock()
	out := make([]crawler.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.Unlock()

	Sort(out)
	return out
}

// Sort orders records by source page, then numeric id (unparsable ids sort
// as 0), then identity.
func Sort(records []crawler.Record) {
	slices.SortStableFunc(records, func(a, b crawler.Record) int {
		if c := cmp.Compare(a.Page, b.Page); c != 0 {
			return c
		}
		if c := cmp.Compare(crawler.NumericID(a.ID), crawler.NumericID(b.ID)); c != 0 {
			return c
		}
		ai, bi := a.Identity(), b.Identity()
		switch {
		case ai.Less(bi):
			return -1
		case bi.Less(ai):
			return 1
		default:
			return 0
		}
	})
}

// Merge applies fresh listing and detail observations to an existing
// collection and returns the reconciled, sorted result. Detail fetch times
// are stamped with now. Existing records not observed are carried over.
func Merge(existing []crawler.Record, listing []crawler.ListingRecord, detail []crawler.DetailRecord, now time.Time) []crawler.Record {
	s := New(fixedClock(now), existing)
	s.ApplyListing(listing)
	for _, d := range detail {
		s.ApplyDetail(d)
	}
	return s.Records()
}

// refreshListing copies the latest listing observation onto r. The page is
// always taken; an empty title, thumbnail or ribbon is a parse miss on the
// listing card and keeps the stored value.
func refreshListing(r *crawler.Record, l crawler.ListingRecord) {
	r.Page = l.Page
	if l.Title != "" {
		r.Title = l.Title
	}
	if l.Thumbnail != "" {
		r.Thumbnail = l.Thumbnail
	}
	if l.Ribbon != "" {
		r.Ribbon = l.Ribbon
	}
}

func refreshDetail(r *crawler.Record, d crawler.Detail) {
	fresh := d.Clone()
	if fresh.Likes != nil {
		r.Likes = fresh.Likes
	}
	if fresh.Dislikes != nil {
		r.Dislikes = fresh.Dislikes
	}
	if fresh.Rating != nil {
		r.Rating = fresh.Rating
	}
	if fresh.Views != nil {
		r.Views = fresh.Views
	}
	if fresh.Description != "" {
		r.Description = fresh.Description
	}
	if len(fresh.Actresses) > 0 {
		r.Actresses = fresh.Actresses
	}
	if len(fresh.Categories) > 0 {
		r.Categories = fresh.Categories
	}
}

// supersedes reports whether candidate should replace current when both
// carry the same identity in a loaded snapshot.
func supersedes(candidate, current crawler.Record) bool {
	cf := candidate.DetailStatus == crawler.DetailFetched
	pf := current.DetailStatus == crawler.DetailFetched
	if cf != pf {
		return cf
	}
	return candidate.LastDetailFetch > current.LastDetailFetch
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
