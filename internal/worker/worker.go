// Package worker implements the bounded-concurrency pool that executes
// listing and detail tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// Handler executes one task. Returned errors are logged and counted; they do
// not stop the pool. Retrying is the handler's job.
type Handler[T any] func(ctx context.Context, task T) error

// Config controls Pool behavior.
type Config struct {
	// Name labels logs and metrics (e.g. "listing", "detail").
	Name string
	// Workers is the fixed number of concurrent workers, at least one.
	Workers int
	// Delay is the pause a worker takes after each task to rate-limit the
	// remote host.
	Delay time.Duration
}

// Validate rejects unusable pool settings.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("worker pool %q: workers must be >= 1", c.Name)
	}
	if c.Delay < 0 {
		return fmt.Errorf("worker pool %q: delay must be >= 0", c.Name)
	}
	return nil
}

// Stats summarizes one Run.
type Stats struct {
	Processed int64
	Succeeded int64
	Failed    int64
}

// Pool executes tasks from a crawler.TaskQueue with a fixed number of workers.
type Pool[T any] struct {
	cfg     Config
	handler Handler[T]
	pauser  pauseController
	logger  *zap.Logger
}

// New constructs a Pool.
func New[T any](cfg Config, handler Handler[T], logger *zap.Logger) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[T]{
		cfg:     cfg,
		handler: handler,
		pauser:  timerPauseController{},
		logger:  logger.With(zap.String("pool", cfg.Name)),
	}, nil
}

// Run starts the workers and blocks until every one of them has exited. A
// worker exits when the source reports crawler.ErrQueueDrained or the context
// ends.
func (p *Pool[T]) Run(ctx context.Context, source crawler.TaskQueue[T]) Stats {
	var (
		wg                           sync.WaitGroup
		processed, succeeded, failed atomic.Int64
	)
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))

	for id := 1; id <= p.cfg.Workers; id++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID, source, &processed, &succeeded, &failed)
		}(id)
	}
	wg.Wait()

	stats := Stats{
		Processed: processed.Load(),
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
	}
	p.logger.Info("worker pool finished",
		zap.Int64("processed", stats.Processed),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
	)
	return stats
}

func (p *Pool[T]) loop(
	ctx context.Context,
	workerID int,
	source crawler.TaskQueue[T],
	processed, succeeded, failed *atomic.Int64,
) {
	logger := p.logger.With(zap.Int("worker_id", workerID))
	for {
		task, err := source.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, crawler.ErrQueueDrained) && ctx.Err() == nil {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}

		metrics.IncActiveWorkers(p.cfg.Name)
		err = p.execute(ctx, task)
		metrics.DecActiveWorkers(p.cfg.Name)

		processed.Add(1)
		if err != nil {
			failed.Add(1)
			metrics.ObserveTask(p.cfg.Name, "failed")
			logger.Warn("task failed", zap.Any("task", task), zap.Error(err))
		} else {
			succeeded.Add(1)
			metrics.ObserveTask(p.cfg.Name, "succeeded")
		}

		p.pauser.Pause(ctx, p.cfg.Delay)
	}
}

func (p *Pool[T]) execute(ctx context.Context, task T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return p.handler(ctx, task)
}

// pauseController abstracts how a worker waits between tasks.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
