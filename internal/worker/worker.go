package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"

	"github.com/google/uuid"
)

// DefaultResumeDelay is how long a suspended run waits before it is queued again.
const DefaultResumeDelay = 30 * time.Second

// Worker pops run ids off the queue and drives each run to a terminal status.
type Worker struct {
	workerID    string
	queue       ports.RunQueue
	runs        ports.RunStore
	executor    *engine.Executor
	logger      *slog.Logger
	resumeDelay time.Duration
	wg          sync.WaitGroup
}

type Option func(*Worker)

// WithResumeDelay sets the wait before a suspended run is queued again.
func WithResumeDelay(d time.Duration) Option {
	return func(w *Worker) { w.resumeDelay = d }
}

func NewWorker(q ports.RunQueue, runs ports.RunStore, executor *engine.Executor, logger *slog.Logger, opts ...Option) *Worker {
	workerID := "worker-" + uuid.New().String()[:8]
	w := &Worker{
		workerID:    workerID,
		queue:       q,
		runs:        runs,
		executor:    executor,
		logger:      logger.With(slog.String("worker_id", workerID)),
		resumeDelay: DefaultResumeDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessNextRun handles exactly ONE run
func (w *Worker) ProcessNextRun(ctx context.Context) {
	// 1. POP: Wait until a run is available
	runIDStr, err := w.queue.Pop(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("failed to pop run", slog.String("error", err.Error()))
		// Avoid spinning on a broken queue connection
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return
	}

	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		w.logger.Error("dropping malformed run id", slog.String("run_id", runIDStr))
		return
	}

	// 2. DRIVE: replay finished steps and run the rest
	run, err := w.executor.Drive(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			w.logger.Warn("queued run does not exist", slog.String("run_id", runIDStr))
			return
		}
		if errors.Is(err, domain.ErrRunSuspended) {
			w.logger.Warn("run suspended, queueing it again later",
				slog.String("run_id", runIDStr),
				slog.Duration("delay", w.resumeDelay),
				slog.String("error", err.Error()),
			)
			w.requeueLater(ctx, runIDStr)
			return
		}
		w.logger.Error("run did not finish",
			slog.String("run_id", runIDStr),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("run finished",
		slog.String("run_id", runIDStr),
		slog.String("status", string(run.Status)),
	)
}

// requeueLater pushes the run back after resumeDelay. If ctx ends first the
// run is left for Recover.
func (w *Worker) requeueLater(ctx context.Context, runID string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(w.resumeDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if err := w.queue.Push(ctx, runID); err != nil && ctx.Err() == nil {
			w.logger.Error("failed to queue suspended run",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// StartPool launches multiple concurrent worker loops. Each loop drives one
// run at a time, so concurrency is the number of runs in flight.
func (w *Worker) StartPool(ctx context.Context, concurrency int) {
	w.logger.Info("starting run worker pool", slog.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go func(threadID int) {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					w.logger.Info("worker thread shutting down", slog.Int("thread", threadID))
					return
				default:
					w.ProcessNextRun(ctx)
				}
			}
		}(i)
	}
}

// Wait blocks until every loop started by StartPool has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Recover re-queues runs left running by a previous process. Call it once
// at startup, after StartPool, since Push may block on a bounded queue.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	runs, err := w.runs.ListRuns(ctx, domain.RunRunning)
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		if err := w.queue.Push(ctx, run.ID.String()); err != nil {
			return 0, err
		}
	}
	if len(runs) > 0 {
		w.logger.Info("re-queued unfinished runs", slog.Int("count", len(runs)))
	}
	return len(runs), nil
}
