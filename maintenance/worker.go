package maintenance

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
)

// WorkerConfig contains configuration for the worker pool.
type WorkerConfig struct {
	Workers         int           `json:"workers"`
	PollInterval    time.Duration `json:"poll_interval"`
	ChunkSize       int           `json:"chunk_size"`
	ChunksPerSecond float64       `json:"chunks_per_second"`
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:         1,
		PollInterval:    5 * time.Second,
		ChunkSize:       20,
		ChunksPerSecond: 4,
	}
}

// Worker polls for queued jobs and executes them through registered handlers.
//
// Cancellation is cooperative: handlers checkpoint between chunks and the
// checkpoint reports the job's cancel flag, so a cancel request takes effect
// within one chunk. On shutdown running jobs are re-queued with their
// progress intact and resume after restart.
type Worker struct {
	store     *Store
	registry  *Registry
	runner    *Runner
	config    WorkerConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
}

// NewWorker creates a worker pool with an empty handler registry.
// Callers must register handlers before calling Start.
// Logger may be nil for silent operation.
func NewWorker(ctx context.Context, database *sql.DB, cfg WorkerConfig, logger *zap.SugaredLogger) *Worker {
	workerCtx, cancel := context.WithCancel(ctx)
	store := NewStore(database, logger)
	return &Worker{
		store:     store,
		registry:  NewRegistry(),
		runner:    NewRunner(store, cfg.ChunkSize, cfg.ChunksPerSecond),
		config:    cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Registry returns the handler registry for registering job handlers.
func (w *Worker) Registry() *Registry {
	return w.registry
}

// Store returns the job store (useful for enqueuing jobs).
func (w *Worker) Store() *Store {
	return w.store
}

// Enqueue creates and persists a queued job for the named handler.
func (w *Worker) Enqueue(ctx context.Context, handlerName string, payload []byte) (*Job, error) {
	if w.registry.Get(handlerName) == nil {
		return nil, errors.Newf("no handler registered for name: %s", handlerName)
	}
	job, err := NewJob(handlerName, payload)
	if err != nil {
		return nil, err
	}
	if err := w.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Start recovers orphaned jobs and begins polling for queued work.
func (w *Worker) Start() {
	w.mu.Lock()
	select {
	case <-w.ctx.Done():
		// Restart after Stop: derive a fresh context from the parent.
		w.ctx, w.cancel = context.WithCancel(w.parentCtx)
	default:
	}
	w.mu.Unlock()

	recovered, err := w.store.RecoverOrphans(w.ctx)
	if err != nil {
		if w.logger != nil {
			w.logger.Warnw("Failed to recover orphaned jobs", "error", err)
		}
	} else if recovered > 0 && w.logger != nil {
		w.logger.Infow("Re-queued orphaned jobs from previous shutdown", "count", recovered)
	}

	workers := w.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop cancels the worker context and waits for workers to checkpoint and
// exit. A generous timeout keeps shutdown from blocking indefinitely.
func (w *Worker) Stop() {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if w.logger != nil {
			w.logger.Infow("Maintenance workers exited cleanly")
		}
	case <-time.After(30 * time.Second):
		if w.logger != nil {
			w.logger.Warnw("Timeout waiting for maintenance workers to exit")
		}
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()

	interval := w.config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.processNext(); err != nil {
				select {
				case <-w.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Database closed during shutdown.
					return
				}
				if w.logger != nil {
					w.logger.Errorw("Worker error processing job", "worker_id", id, "error", err)
				}
			}
		}
	}
}

// processNext claims the next queued job and runs it to a terminal state.
func (w *Worker) processNext() error {
	select {
	case <-w.ctx.Done():
		return nil
	default:
	}

	job, err := w.store.ClaimNext(w.ctx)
	if err != nil {
		return errors.Wrap(err, "failed to claim job")
	}
	if job == nil {
		return nil
	}

	handler := w.registry.Get(job.HandlerName)
	if handler == nil {
		job.Fail(errors.Newf("no handler registered for name: %s", job.HandlerName))
		return w.store.UpdateJob(w.ctx, job)
	}

	if w.logger != nil {
		w.logger.Infow("Executing maintenance job",
			"job_id", job.ID, "handler", job.HandlerName, "resumed_at", job.Progress.Processed)
	}

	execErr := handler.Execute(w.ctx, job, w.runner)
	switch {
	case execErr == nil:
		job.Complete()
	case errors.Is(execErr, ErrCancelled):
		job.Cancel()
	case errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		// Shutdown mid-job: re-queue with progress intact so the job
		// resumes after restart.
		job.Status = StatusQueued
		job.Touch()
		if err := w.store.UpdateJob(context.Background(), job); err != nil && w.logger != nil {
			w.logger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", err)
		}
		return nil
	default:
		job.Fail(execErr)
	}

	if err := w.store.UpdateJob(w.ctx, job); err != nil {
		// Terminal updates race shutdown; fall back to a background
		// context so the final status is not lost.
		if updateErr := w.store.UpdateJob(context.Background(), job); updateErr != nil {
			return errors.Wrapf(updateErr, "failed to finalize job %s", job.ID)
		}
	}

	if w.logger != nil {
		w.logger.Infow("Maintenance job finished",
			"job_id", job.ID, "status", job.Status,
			"processed", job.Progress.Processed, "errors", job.Progress.Errors)
	}
	return nil
}
