package analysis

import (
	"context"
	"log/slog"
	"sync"
)

type job[T any] struct {
	index int
	data  T
}

// workerPool runs a function over a batch of items and keeps the outputs in
// input order. With one worker, items are handled one after another in order.
type workerPool[TIn, TOut any] struct {
	concurrency int
	logger      *slog.Logger
}

func newWorkerPool[TIn, TOut any](concurrency int, logger *slog.Logger) *workerPool[TIn, TOut] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &workerPool[TIn, TOut]{
		concurrency: concurrency,
		logger:      logger,
	}
}

// run returns one output per item. done[i] is false for items skipped because
// ctx was cancelled before a worker picked them up.
func (wp *workerPool[TIn, TOut]) run(
	ctx context.Context,
	items []TIn,
	fn func(ctx context.Context, item TIn) TOut,
	taskName string,
) (results []TOut, done []bool) {
	results = make([]TOut, len(items))
	done = make([]bool, len(items))
	if len(items) == 0 {
		return results, done
	}

	workers := min(wp.concurrency, len(items))
	wp.logger.Debug("processing items",
		"component", "worker_pool",
		"task", taskName,
		"items", len(items),
		"workers", workers)

	jobs := make(chan job[TIn], len(items))
	for i, item := range items {
		jobs <- job[TIn]{index: i, data: item}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					wp.logger.Debug("worker stopping",
						"component", "worker_pool",
						"worker_id", workerID,
						"reason", ctx.Err())
					return
				}
				// each index is written by exactly one worker
				results[j.index] = fn(ctx, j.data)
				done[j.index] = true
			}
		}(w)
	}
	wg.Wait()

	return results, done
}
