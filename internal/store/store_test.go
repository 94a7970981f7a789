package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func listing(id string, page int) crawler.ListingRecord {
	return crawler.ListingRecord{
		ID:        id,
		Title:     "Title " + id,
		Link:      "/v/" + id,
		Thumbnail: "/t/" + id + ".jpg",
		Page:      page,
	}
}

func TestApplyListingCompositeIdentity(t *testing.T) {
	s := New(stubClock{time.Unix(1000, 0)}, nil)

	a := crawler.ListingRecord{ID: "7", Link: "/v/7-a", Title: "A", Page: 1}
	b := crawler.ListingRecord{ID: "7", Link: "/v/7-b", Title: "B", Page: 1}
	res := s.ApplyListing([]crawler.ListingRecord{a, b})

	require.Equal(t, ListingResult{Inserted: 2}, res)
	require.Equal(t, 2, s.Len())

	got, ok := s.Get(a.Identity())
	require.True(t, ok)
	require.Equal(t, "A", got.Title)
	require.Equal(t, crawler.DetailNotFetched, got.DetailStatus)
}

func TestApplyListingRefreshesListingFieldsOnly(t *testing.T) {
	prior := crawler.NewRecord(listing("42", 1))
	prior.Views = crawler.Count(1200)
	prior.DetailStatus = crawler.DetailFetched
	prior.LastDetailFetch = 500

	s := New(stubClock{time.Unix(1000, 0)}, []crawler.Record{prior})
	fresh := listing("42", 3)
	fresh.Title = "Renamed"
	fresh.Thumbnail = ""
	res := s.ApplyListing([]crawler.ListingRecord{fresh})

	require.Equal(t, ListingResult{Updated: 1}, res)
	got, _ := s.Get(fresh.Identity())
	require.Equal(t, 3, got.Page)
	require.Equal(t, "Renamed", got.Title)
	require.Equal(t, "/t/42.jpg", got.Thumbnail, "an empty observation must not blank a stored value")
	require.Equal(t, int64(1200), *got.Views)
	require.Equal(t, crawler.DetailFetched, got.DetailStatus)
	require.Equal(t, int64(500), got.LastDetailFetch)
}

func TestApplyDetail(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	prior := crawler.NewRecord(listing("1", 1))
	prior.Likes = crawler.Count(10)
	prior.Description = "old"
	s := New(stubClock{now}, []crawler.Record{prior})

	ok := s.ApplyDetail(crawler.DetailRecord{
		Identity: prior.Identity(),
		Detail: crawler.Detail{
			Views:      crawler.Count(99),
			Categories: []string{"a", "b"},
		},
	})
	require.True(t, ok)

	got, _ := s.Get(prior.Identity())
	require.Equal(t, crawler.DetailFetched, got.DetailStatus)
	require.Equal(t, now.Unix(), got.LastDetailFetch)
	require.Equal(t, int64(99), *got.Views)
	require.Equal(t, int64(10), *got.Likes)
	require.Equal(t, "old", got.Description)
	require.Equal(t, []string{"a", "b"}, got.Categories)
}

func TestApplyDetailUnknownIdentity(t *testing.T) {
	s := New(stubClock{time.Unix(1, 0)}, nil)
	ok := s.ApplyDetail(crawler.DetailRecord{Identity: crawler.Identity{ID: "x", Link: "/v/x"}})
	require.False(t, ok)
	require.Zero(t, s.Len())
}

func TestMergeNoRegressionOnFailedRefresh(t *testing.T) {
	prior := crawler.NewRecord(listing("5", 2))
	prior.DetailStatus = crawler.DetailFetched
	prior.LastDetailFetch = 1234
	prior.Rating = crawler.Count(87)
	prior.Actresses = []string{"x"}

	// The detail fetch failed, so no detail record was produced.
	out := Merge([]crawler.Record{prior}, []crawler.ListingRecord{listing("5", 2)}, nil, time.Unix(9999, 0))

	require.Len(t, out, 1)
	require.Equal(t, crawler.DetailFetched, out[0].DetailStatus)
	require.Equal(t, int64(1234), out[0].LastDetailFetch)
	require.Equal(t, int64(87), *out[0].Rating)
	require.Equal(t, []string{"x"}, out[0].Actresses)
}

func TestMergeRetention(t *testing.T) {
	prior := make([]crawler.Record, 0, 50)
	for i := 1; i <= 50; i++ {
		prior = append(prior, crawler.NewRecord(listing(fmt.Sprint(i), 1)))
	}
	fresh := make([]crawler.ListingRecord, 0, 10)
	for i := 1; i <= 10; i++ {
		l := listing(fmt.Sprint(i), 2)
		l.Title = "fresh"
		fresh = append(fresh, l)
	}

	out := Merge(prior, fresh, nil, time.Unix(1, 0))
	require.Len(t, out, 50)

	refreshed := 0
	for _, r := range out {
		if r.Title == "fresh" {
			refreshed++
			require.Equal(t, 2, r.Page)
			continue
		}
		require.Equal(t, 1, r.Page)
		require.Equal(t, "Title "+r.ID, r.Title)
	}
	require.Equal(t, 10, refreshed)
}

func TestMergeExampleScenario(t *testing.T) {
	prior := crawler.NewRecord(crawler.ListingRecord{ID: "42", Link: "/v/42", Page: 1})
	prior.DetailStatus = crawler.DetailFetched
	prior.Views = crawler.Count(1200)
	prior.LastDetailFetch = 1000

	fresh := crawler.ListingRecord{ID: "42", Link: "/v/42", Page: 3}
	out := Merge([]crawler.Record{prior}, []crawler.ListingRecord{fresh}, nil, time.Unix(1100, 0))

	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].Page)
	require.Equal(t, int64(1200), *out[0].Views)
	require.Equal(t, crawler.DetailFetched, out[0].DetailStatus)
}

func TestMergeIdempotent(t *testing.T) {
	fresh := []crawler.ListingRecord{listing("3", 1), listing("1", 1), listing("2", 2)}
	details := []crawler.DetailRecord{{
		Identity: fresh[0].Identity(),
		Detail:   crawler.Detail{Views: crawler.Count(5)},
	}}
	now := time.Unix(100, 0)

	first := Merge(nil, fresh, details, now)
	second := Merge(first, fresh, details, now)
	require.Equal(t, first, second)
}

func TestRecordsOrdering(t *testing.T) {
	s := New(stubClock{time.Unix(1, 0)}, nil)
	s.ApplyListing([]crawler.ListingRecord{
		{ID: "10", Link: "/b", Page: 1},
		{ID: "abc", Link: "/z", Page: 1},
		{ID: "9", Link: "/a", Page: 1},
		{ID: "10", Link: "/a", Page: 1},
		{ID: "1", Link: "/c", Page: 2},
	})

	got := make([]string, 0, 5)
	for _, r := range s.Records() {
		got = append(got, r.Identity().String())
	}
	require.Equal(t, []string{"abc|/z", "9|/a", "10|/a", "10|/b", "1|/c"}, got)
}

func TestNewCollapsesDuplicateIdentities(t *testing.T) {
	id := crawler.ListingRecord{ID: "1", Link: "/v/1"}
	unfetched := crawler.NewRecord(id)
	older := crawler.NewRecord(id)
	older.DetailStatus = crawler.DetailFetched
	older.LastDetailFetch = 10
	newer := older.Clone()
	newer.LastDetailFetch = 20
	newer.Views = crawler.Count(3)

	s := New(nil, []crawler.Record{older, unfetched, newer, unfetched})
	require.Equal(t, 1, s.Len())
	got, _ := s.Get(id.Identity())
	require.Equal(t, int64(20), got.LastDetailFetch)
	require.Equal(t, int64(3), *got.Views)
}

func TestRecordsReturnsCopies(t *testing.T) {
	prior := crawler.NewRecord(listing("1", 1))
	prior.Categories = []string{"a"}
	s := New(nil, []crawler.Record{prior})

	out := s.Records()
	out[0].Categories[0] = "mutated"
	got, _ := s.Get(prior.Identity())
	require.Equal(t, []string{"a"}, got.Categories)
}

func TestConcurrentApplyDetail(t *testing.T) {
	seed := make([]crawler.Record, 0, 100)
	for i := 0; i < 100; i++ {
		seed = append(seed, crawler.NewRecord(listing(fmt.Sprint(i), 1)))
	}
	s := New(stubClock{time.Unix(50, 0)}, seed)

	var wg sync.WaitGroup
	for _, r := range seed {
		wg.Add(1)
		go func(id crawler.Identity) {
			defer wg.Done()
			s.ApplyDetail(crawler.DetailRecord{Identity: id, Detail: crawler.Detail{Likes: crawler.Count(1)}})
		}(r.Identity())
	}
	wg.Wait()

	for _, r := range s.Records() {
		require.Equal(t, crawler.DetailFetched, r.DetailStatus)
		require.Equal(t, int64(50), r.LastDetailFetch)
	}
}
