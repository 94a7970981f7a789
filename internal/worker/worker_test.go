package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/queue/memory"
)

func TestPoolProcessesEveryTaskOnceDespiteLateCompletionSignal(t *testing.T) {
	t.Parallel()

	const total = 1000
	q := memory.NewQueue[int](memory.WithPollInterval(time.Millisecond))

	var (
		mu   sync.Mutex
		seen = make(map[int]int, total)
	)
	pool, err := New(Config{Name: "detail", Workers: 8}, func(_ context.Context, task int) error {
		mu.Lock()
		seen[task]++
		mu.Unlock()
		return nil
	}, zap.NewNop())
	require.NoError(t, err)

	go func() {
		ctx := context.Background()
		for i := 0; i < total; i++ {
			_ = q.Enqueue(ctx, i)
		}
		// Artificial gap between the last enqueue and the completion signal:
		// workers see an empty queue here and must keep polling.
		time.Sleep(50 * time.Millisecond)
		q.Close()
	}()

	stats := pool.Run(context.Background(), q)

	require.Equal(t, int64(total), stats.Processed)
	require.Equal(t, int64(total), stats.Succeeded)
	require.Len(t, seen, total)
	for task, n := range seen {
		require.Equal(t, 1, n, "task %d executed %d times", task, n)
	}
}

func TestPoolKeepsRunningAfterHandlerFailures(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[int]()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	q.Close()

	pool, err := New(Config{Name: "listing", Workers: 3}, func(_ context.Context, task int) error {
		switch {
		case task%3 == 0:
			return errors.New("fetch failed")
		case task == 7:
			panic("parser exploded")
		}
		return nil
	}, zap.NewNop())
	require.NoError(t, err)

	stats := pool.Run(ctx, q)
	require.Equal(t, int64(10), stats.Processed)
	require.Equal(t, int64(5), stats.Failed) // 0,3,6,9 and the panic on 7
	require.Equal(t, int64(5), stats.Succeeded)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[int]()
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	q.Close()

	var active, peak atomic.Int32
	pool, err := New(Config{Name: "bounded", Workers: 4}, func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	}, nil)
	require.NoError(t, err)

	stats := pool.Run(ctx, q)
	require.Equal(t, int64(40), stats.Processed)
	require.LessOrEqual(t, peak.Load(), int32(4))
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	pool, err := New(Config{Name: "cancel", Workers: 2}, func(context.Context, int) error { return nil }, zap.NewNop())
	require.NoError(t, err)

	done := make(chan Stats, 1)
	go func() { done <- pool.Run(ctx, q) }()
	cancel()

	select {
	case stats := <-done:
		require.Zero(t, stats.Processed)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Name: "zero", Workers: 0}, func(context.Context, int) error { return nil }, nil)
	require.Error(t, err)

	_, err = New[int](Config{Name: "nil", Workers: 1}, nil, nil)
	require.EqualError(t, err, "handler cannot be nil")

	_, err = New(Config{Name: "neg", Workers: 1, Delay: -time.Second}, func(context.Context, int) error { return nil }, nil)
	require.Error(t, err)
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	timerPauseController{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}
