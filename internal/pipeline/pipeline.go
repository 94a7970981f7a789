// Package pipeline runs one harvest: load the snapshot, walk the listing,
// refresh stale details, save, export and notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/frontier"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/queue/memory"
	"github.com/JakeFAU/listing-harvester/internal/snapshot"
	"github.com/JakeFAU/listing-harvester/internal/store"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

// Config bounds one run.
type Config struct {
	Listing        frontier.ListingConfig
	URLs           frontier.URLs
	ListingWorkers int
	ListingDelay   time.Duration

	DetailEnabled bool
	DetailWorkers int
	DetailDelay   time.Duration
	StalenessTTL  time.Duration
	// DetailMaxItems caps the detail backlog per run; 0 means no cap.
	DetailMaxItems int

	// Deadline bounds both crawl stages; saving always runs. Zero means none.
	Deadline time.Duration
	// Topic receives the run summary when a publisher is configured.
	Topic string
}

// Deps bundles the collaborators a run needs. Sinks and Publisher are
// optional.
type Deps struct {
	Fetcher       crawler.Fetcher
	ListingParser crawler.ListingParser
	DetailParser  crawler.DetailParser
	Snapshot      crawler.SnapshotStore
	Sinks         []crawler.ExportSink
	Publisher     crawler.Publisher
	Clock         crawler.Clock
	IDs           crawler.IDGenerator
	Logger        *zap.Logger
}

// ListingSummary counts listing stage outcomes.
type ListingSummary struct {
	Dispatched int  `json:"dispatched"`
	Pages      int  `json:"pages"`
	Empty      int  `json:"empty"`
	Failed     int  `json:"failed"`
	Skipped    int  `json:"skipped"`
	EndPage    int  `json:"end_page"`
	Aborted    bool `json:"aborted"`
	Inserted   int  `json:"inserted"`
	Updated    int  `json:"updated"`
}

// DetailSummary counts detail stage outcomes.
type DetailSummary struct {
	Queued  int `json:"queued"`
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
}

// Summary describes a finished run. It is also the notification payload.
type Summary struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	LoadFailed     bool           `json:"load_failed"`
	Listing        ListingSummary `json:"listing"`
	Detail         DetailSummary  `json:"detail"`
	StoreSize      int            `json:"store_size"`
	SnapshotDigest string         `json:"snapshot_digest"`
	Error          string         `json:"error,omitempty"`
}

// Pipeline executes runs against a fixed set of collaborators.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates the configuration and collaborators.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.ListingParser == nil:
		return nil, errors.New("pipeline: listing parser is required")
	case deps.DetailParser == nil && cfg.DetailEnabled:
		return nil, errors.New("pipeline: detail parser is required")
	case deps.Snapshot == nil:
		return nil, errors.New("pipeline: snapshot store is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if cfg.URLs.FirstPage == "" && cfg.URLs.Template == "" {
		return nil, errors.New("pipeline: listing urls are required")
	}
	if cfg.ListingWorkers < 1 {
		return nil, fmt.Errorf("pipeline: listing workers must be >= 1, got %d", cfg.ListingWorkers)
	}
	if cfg.DetailEnabled && cfg.DetailWorkers < 1 {
		return nil, fmt.Errorf("pipeline: detail workers must be >= 1, got %d", cfg.DetailWorkers)
	}
	if cfg.StalenessTTL <= 0 {
		cfg.StalenessTTL = frontier.DefaultStalenessTTL
	}
	if cfg.Listing.Window <= 0 {
		cfg.Listing.Window = 2 * cfg.ListingWorkers
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run executes one harvest. Fetch and parse failures are absorbed; the
// returned error is the snapshot save failure, if any.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.ForRun(p.deps.Logger, runID)
	summary := Summary{RunID: runID, StartedAt: p.deps.Clock.Now().UTC()}
	logger.Info("run started")

	crawlCtx, cancel := p.crawlContext(ctx)
	defer cancel()

	seed, err := p.deps.Snapshot.Load(crawlCtx)
	if err != nil {
		summary.LoadFailed = true
		seed = nil
		logger.Warn("snapshot load failed; starting empty", zap.Error(err))
	}
	st := store.New(p.deps.Clock, seed)
	logger.Info("snapshot loaded", zap.Int("records", st.Len()))

	summary.Listing = p.runListing(crawlCtx, st, logger)
	metrics.SetListingEndPage(summary.Listing.EndPage)

	if p.cfg.DetailEnabled {
		if crawlCtx.Err() != nil {
			logger.Warn("detail stage skipped", zap.Error(crawlCtx.Err()))
		} else {
			summary.Detail = p.runDetail(crawlCtx, st, logger)
		}
	}

	records := st.Records()
	summary.StoreSize = len(records)
	metrics.SetStoreRecords(len(records))
	if digest, derr := snapshot.Digest(records); derr == nil {
		summary.SnapshotDigest = digest
	} else {
		logger.Warn("snapshot digest failed", zap.Error(derr))
	}

	persistCtx := context.WithoutCancel(ctx)
	var saveErr error
	if err := p.deps.Snapshot.Save(persistCtx, records); err != nil {
		saveErr = fmt.Errorf("save snapshot: %w", err)
		summary.Error = saveErr.Error()
		logger.Error("snapshot save failed", zap.Error(err))
	} else {
		logger.Info("snapshot saved", zap.Int("records", len(records)))
	}

	Export(persistCtx, records, p.deps.Sinks, logger)

	summary.FinishedAt = p.deps.Clock.Now().UTC()
	p.notify(persistCtx, summary, logger)

	logger.Info("run finished",
		zap.Int("store_size", summary.StoreSize),
		zap.Int("end_page", summary.Listing.EndPage),
		zap.Int("details_fetched", summary.Detail.Fetched),
		zap.String("digest", summary.SnapshotDigest))
	return summary, saveErr
}

func (p *Pipeline) crawlContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Deadline > 0 {
		return context.WithTimeout(ctx, p.cfg.Deadline)
	}
	return context.WithCancel(ctx)
}

// pageResults buffers parsed listing pages until the pool drains so they can
// be merged in page order.
type pageResults struct {
	mu    sync.Mutex
	pages map[int][]crawler.ListingRecord
}

func (r *pageResults) put(page int, records []crawler.ListingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[page] = records
}

func (p *Pipeline) runListing(ctx context.Context, st *store.Store, logger *zap.Logger) ListingSummary {
	logger = logger.With(zap.String("stage", "listing"))
	listing := frontier.NewListing(p.cfg.Listing, p.cfg.URLs, logger)
	results := &pageResults{pages: make(map[int][]crawler.ListingRecord)}

	var pages, empty, failed, skipped atomic.Int64
	handler := func(ctx context.Context, task frontier.PageTask) error {
		// Every dequeued page reports exactly once, even when parsing panics,
		// so the producer's window slot is released.
		reported := false
		report := func(outcome frontier.PageOutcome) {
			reported = true
			listing.Report(task.Page, outcome)
		}
		defer func() {
			if !reported {
				failed.Add(1)
				listing.Report(task.Page, frontier.PageFailed)
			}
		}()

		if listing.End().Beyond(task.Page) {
			skipped.Add(1)
			report(frontier.PageSkipped)
			return nil
		}
		resp, err := p.deps.Fetcher.Fetch(ctx, task.URL)
		if err != nil {
			if crawler.StatusCode(err) == http.StatusNotFound {
				report(frontier.PageNotFound)
				if p.cfg.Listing.StopOnNotFound {
					empty.Add(1)
					return nil
				}
			} else {
				report(frontier.PageFailed)
			}
			failed.Add(1)
			return fmt.Errorf("fetch listing page %d: %w", task.Page, err)
		}
		records, err := p.deps.ListingParser.ParseListing(resp.Body, task.URL)
		if err != nil {
			failed.Add(1)
			report(frontier.PageFailed)
			return fmt.Errorf("parse listing page %d: %w", task.Page, err)
		}
		if len(records) == 0 {
			empty.Add(1)
			report(frontier.PageEmpty)
			return nil
		}
		for i := range records {
			records[i].Page = task.Page
		}
		results.put(task.Page, records)
		pages.Add(1)
		report(frontier.PageRecords)
		logger.Debug("listing page parsed", zap.Int("page", task.Page), zap.Int("items", len(records)))
		return nil
	}

	pool, err := worker.New[frontier.PageTask](worker.Config{
		Name:    "listing",
		Workers: p.cfg.ListingWorkers,
		Delay:   p.cfg.ListingDelay,
	}, handler, logger)
	if err != nil {
		logger.Error("listing pool", zap.Error(err))
		return ListingSummary{}
	}

	q := memory.NewQueue[frontier.PageTask]()
	produced := make(chan error, 1)
	go func() {
		produced <- listing.Produce(ctx, q)
	}()
	pool.Run(ctx, q)
	if err := <-produced; err != nil {
		logger.Warn("listing production interrupted", zap.Error(err))
	}

	summary := ListingSummary{
		Dispatched: listing.Dispatched(),
		Pages:      int(pages.Load()),
		Empty:      int(empty.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
		EndPage:    listing.End().Page(),
		Aborted:    listing.Aborted(),
	}

	order := make([]int, 0, len(results.pages))
	for page := range results.pages {
		order = append(order, page)
	}
	slices.Sort(order)
	for _, page := range order {
		if listing.End().Beyond(page) {
			logger.Debug("discarding page beyond end", zap.Int("page", page))
			continue
		}
		res := st.ApplyListing(results.pages[page])
		summary.Inserted += res.Inserted
		summary.Updated += res.Updated
	}

	logger.Info("listing stage finished",
		zap.Int("dispatched", summary.Dispatched),
		zap.Int("pages", summary.Pages),
		zap.Int("failed", summary.Failed),
		zap.Int("end_page", summary.EndPage),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated))
	return summary
}

func (p *Pipeline) runDetail(ctx context.Context, st *store.Store, logger *zap.Logger) DetailSummary {
	logger = logger.With(zap.String("stage", "detail"))
	backlog := frontier.DetailBacklog(st.Records(), p.deps.Clock.Now(), p.cfg.StalenessTTL, p.cfg.DetailMaxItems)
	summary := DetailSummary{Queued: len(backlog)}
	if len(backlog) == 0 {
		logger.Info("no details due")
		return summary
	}

	var fetched, failed atomic.Int64
	handler := func(ctx context.Context, task frontier.DetailTask) error {
		resp, err := p.deps.Fetcher.Fetch(ctx, task.URL)
		if err != nil {
			failed.Add(1)
			return fmt.Errorf("fetch detail %s: %w", task.Identity, err)
		}
		detail, err := p.deps.DetailParser.ParseDetail(resp.Body, task.URL)
		if err != nil {
			failed.Add(1)
			return fmt.Errorf("parse detail %s: %w", task.Identity, err)
		}
		if st.ApplyDetail(crawler.DetailRecord{Identity: task.Identity, Detail: detail}) {
			fetched.Add(1)
		}
		return nil
	}

	pool, err := worker.New[frontier.DetailTask](worker.Config{
		Name:    "detail",
		Workers: p.cfg.DetailWorkers,
		Delay:   p.cfg.DetailDelay,
	}, handler, logger)
	if err != nil {
		logger.Error("detail pool", zap.Error(err))
		return summary
	}

	q := memory.NewQueue[frontier.DetailTask]()
	for _, task := range backlog {
		if err := q.Enqueue(ctx, task); err != nil {
			logger.Warn("enqueue detail task", zap.Error(err))
			break
		}
	}
	q.Close()
	pool.Run(ctx, q)

	summary.Fetched = int(fetched.Load())
	summary.Failed = int(failed.Load())
	logger.Info("detail stage finished",
		zap.Int("queued", summary.Queued),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.Failed))
	return summary
}

// Export hands the reconciled collection to every sink. Sink failures are
// logged and never fail the run. An empty collection is not exported.
func Export(ctx context.Context, records []crawler.Record, sinks []crawler.ExportSink, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sinks) == 0 {
		return 0
	}
	if len(records) == 0 {
		logger.Info("nothing to export")
		return 0
	}
	header, rows := snapshot.Table(records)
	exported := 0
	for _, sink := range sinks {
		if err := sink.Export(ctx, header, rows); err != nil {
			logger.Warn("export failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		exported++
		logger.Info("exported", zap.String("sink", sink.Name()), zap.Int("rows", len(rows)))
	}
	return exported
}

func (p *Pipeline) notify(ctx context.Context, summary Summary, logger *zap.Logger) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, summary)
	if err != nil {
		logger.Warn("run notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("run notification published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}
