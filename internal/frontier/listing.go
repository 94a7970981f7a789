package frontier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// PagePlaceholder is substituted with the page number in page URL templates.
const PagePlaceholder = "{page}"

// PageOutcome classifies how a listing page ended.
type PageOutcome int

// Listing page outcomes.
const (
	// PageRecords means the page was fetched and parsed to at least one item.
	PageRecords PageOutcome = iota
	// PageEmpty means the page was fetched successfully but held no items.
	PageEmpty
	// PageFailed covers fetch or parse failures. It never ends the listing.
	PageFailed
	// PageNotFound is a 404 on a listing page.
	PageNotFound
	// PageSkipped means the page was dequeued after the end was observed.
	PageSkipped
)

func (o PageOutcome) String() string {
	switch o {
	case PageRecords:
		return "records"
	case PageEmpty:
		return "empty"
	case PageFailed:
		return "failed"
	case PageNotFound:
		return "not_found"
	case PageSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// URLs builds listing page URLs.
type URLs struct {
	FirstPage string
	Template  string
}

// PageURL returns the URL of the given 1-based page.
func (u URLs) PageURL(page int) string {
	if page <= 1 && u.FirstPage != "" {
		return u.FirstPage
	}
	return strings.ReplaceAll(u.Template, PagePlaceholder, strconv.Itoa(page))
}

// PageTask is one listing page to fetch.
type PageTask struct {
	Page int    `json:"page"`
	URL  string `json:"url"`
}

// ListingConfig bounds the listing walk.
type ListingConfig struct {
	// MaxPages caps the walk; 0 means unbounded until the end signal.
	MaxPages int
	// Window is how many pages may be dispatched without a report.
	Window int
	// MaxConsecutiveFailures aborts production after that many failed pages
	// in a row; 0 disables the guard.
	MaxConsecutiveFailures int
	// StopOnNotFound treats a 404 listing page as the end of the listing.
	StopOnNotFound bool
}

// Sink is the producer side of a task queue.
type Sink[T any] interface {
	Enqueue(ctx context.Context, task T) error
	Close()
}

// Listing produces listing page tasks in ascending order and consumes the
// outcome of each page to decide when to stop.
type Listing struct {
	cfg    ListingConfig
	urls   URLs
	end    *EndSignal
	logger *zap.Logger

	mu         sync.Mutex
	inflight   int
	failStreak int
	aborted    bool
	dispatched int
	progress   chan struct{}
}

// NewListing constructs a listing frontier.
func NewListing(cfg ListingConfig, urls URLs, logger *zap.Logger) *Listing {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listing{
		cfg:      cfg,
		urls:     urls,
		end:      &EndSignal{},
		logger:   logger,
		progress: make(chan struct{}, 1),
	}
}

// End exposes the end-of-listing signal.
func (l *Listing) End() *EndSignal {
	return l.end
}

// Aborted reports whether production stopped on the failure guard.
func (l *Listing) Aborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

// Dispatched returns how many pages were enqueued.
func (l *Listing) Dispatched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dispatched
}

// Produce enqueues page tasks until the end signal, the page cap, the failure
// guard, or ctx stops it. The sink is always closed on return.
func (l *Listing) Produce(ctx context.Context, sink Sink[PageTask]) error {
	defer sink.Close()

	for page := 1; l.cfg.MaxPages <= 0 || page <= l.cfg.MaxPages; page++ {
		if err := l.awaitSlot(ctx); err != nil {
			return err
		}
		if l.stopped() {
			l.logger.Info("listing production stopped",
				zap.Int("next_page", page),
				zap.Int("end_page", l.end.Page()),
				zap.Bool("aborted", l.Aborted()))
			return nil
		}

		l.mu.Lock()
		l.inflight++
		l.dispatched++
		l.mu.Unlock()

		task := PageTask{Page: page, URL: l.urls.PageURL(page)}
		if err := sink.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue page %d: %w", page, err)
		}
	}
	return nil
}

// Report records the outcome of a dispatched page.
func (l *Listing) Report(page int, outcome PageOutcome) {
	l.mu.Lock()
	if l.inflight > 0 {
		l.inflight--
	}
	switch outcome {
	case PageRecords:
		l.failStreak = 0
	case PageEmpty:
		l.failStreak = 0
		l.markEnd(page)
	case PageNotFound:
		if l.cfg.StopOnNotFound {
			l.markEnd(page)
		} else {
			l.recordFailure(page)
		}
	case PageFailed:
		l.recordFailure(page)
	}
	l.mu.Unlock()

	select {
	case l.progress <- struct{}{}:
	default:
	}
}

func (l *Listing) markEnd(page int) {
	if l.end.Mark(page) {
		l.logger.Info("end of listing observed", zap.Int("page", page))
	}
}

func (l *Listing) recordFailure(page int) {
	l.failStreak++
	if l.cfg.MaxConsecutiveFailures > 0 && l.failStreak >= l.cfg.MaxConsecutiveFailures && !l.aborted {
		l.aborted = true
		l.logger.Warn("listing aborted after consecutive failures",
			zap.Int("page", page),
			zap.Int("failures", l.failStreak))
	}
}

func (l *Listing) stopped() bool {
	if l.end.Done() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

func (l *Listing) awaitSlot(ctx context.Context) error {
	for {
		l.mu.Lock()
		free := l.inflight < l.cfg.Window || l.aborted
		l.mu.Unlock()
		if free || l.end.Done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("await listing window: %w", ctx.Err())
		case <-l.progress:
		}
	}
}
