package frontier

import (
	"cmp"
	"slices"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// DefaultStalenessTTL is how long a fetched detail stays fresh.
const DefaultStalenessTTL = 7 * 24 * time.Hour

// DetailTask is one detail page to fetch for a known identity.
type DetailTask struct {
	Identity crawler.Identity `json:"identity"`
	URL      string           `json:"url"`
}

// NeedsFetch reports whether a record's detail page should be fetched: it was
// never fetched, or its last fetch is older than ttl.
func NeedsFetch(r crawler.Record, now time.Time, ttl time.Duration) bool {
	if r.DetailStatus != crawler.DetailFetched {
		return true
	}
	return now.Unix()-r.LastDetailFetch > int64(ttl/time.Second)
}

// DetailBacklog returns one task per identity needing a detail fetch,
// never-fetched items first, then the stalest. A positive limit caps the
// result.
func DetailBacklog(records []crawler.Record, now time.Time, ttl time.Duration, limit int) []DetailTask {
	seen := make(map[crawler.Identity]struct{}, len(records))
	due := make([]crawler.Record, 0, len(records))
	for _, r := range records {
		key := r.Identity()
		if _, dup := seen[key]; dup || r.Link == "" {
			continue
		}
		if !NeedsFetch(r, now, ttl) {
			continue
		}
		seen[key] = struct{}{}
		due = append(due, r)
	}

	slices.SortFunc(due, func(a, b crawler.Record) int {
		an, bn := a.DetailStatus != crawler.DetailFetched, b.DetailStatus != crawler.DetailFetched
		if an != bn {
			if an {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.LastDetailFetch, b.LastDetailFetch); c != 0 {
			return c
		}
		ai, bi := a.Identity(), b.Identity()
		switch {
		case ai.Less(bi):
			return -1
		case bi.Less(ai):
			return 1
		}
		return 0
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	tasks := make([]DetailTask, 0, len(due))
	for _, r := range due {
		tasks = append(tasks, DetailTask{Identity: r.Identity(), URL: r.Link})
	}
	return tasks
}
