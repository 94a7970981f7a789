package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the body plus metadata. Failures are
// reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// ListingParser turns a listing page body into item records.
type ListingParser interface {
	ParseListing(body []byte, pageURL string) ([]ListingRecord, error)
}

// DetailParser turns a detail page body into detail fields. It returns
// ErrDetailAbsent when the page carries no recognizable detail.
type DetailParser interface {
	ParseDetail(body []byte, pageURL string) (Detail, error)
}

// SnapshotStore loads and saves the full record collection.
type SnapshotStore interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// ExportSink receives the reconciled collection as a flat table.
type ExportSink interface {
	Name() string
	Export(ctx context.Context, header []string, rows [][]string) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TaskQueue provides the consumer side of a work queue. Dequeue returns
// ErrQueueDrained once production is complete and nothing is left.
type TaskQueue[T any] interface {
	Dequeue(ctx context.Context) (T, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
