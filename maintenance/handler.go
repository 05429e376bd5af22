package maintenance

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// ErrCancelled is returned by Runner.Checkpoint when cancellation was
// requested. Handlers propagate it so the worker records status cancelled
// rather than failed.
var ErrCancelled = errors.New("job cancelled")

// Handler executes one kind of maintenance job.
//
// Handlers decode their own payloads from job.Payload, process records in
// chunks of r.ChunkSize(), update job.Progress as they go, and call
// r.Checkpoint after every chunk. Checkpoint persists progress and reports
// cancellation; handlers must return its error unchanged. Chunk operations
// must be idempotent so a recovered job can replay its last chunk safely.
type Handler interface {
	Name() string
	Execute(ctx context.Context, job *Job, r *Runner) error
}

// Registry manages handlers by name. Thread-safe.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its name. Registering the same name twice is
// a programming error and panics.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		panic("handler already registered: " + name)
	}
	r.handlers[name] = h
}

// Get retrieves the handler for a name, or nil.
func (r *Registry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Runner is the per-chunk contract between the worker and handlers: it owns
// the chunk size, paces chunk throughput, and checkpoints progress.
type Runner struct {
	store     *Store
	chunkSize int
	limiter   *rate.Limiter
}

// NewRunner creates a runner. chunksPerSecond <= 0 disables pacing.
func NewRunner(store *Store, chunkSize int, chunksPerSecond float64) *Runner {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	var limiter *rate.Limiter
	if chunksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(chunksPerSecond), 1)
	}
	return &Runner{store: store, chunkSize: chunkSize, limiter: limiter}
}

// ChunkSize returns the number of records a handler should process between
// checkpoints.
func (r *Runner) ChunkSize() int {
	return r.chunkSize
}

// Checkpoint persists the job's progress, then polls for cancellation.
// Returns ErrCancelled when the job's cancel flag is set, the context error
// when ctx is done, and otherwise waits on the chunk pacer. Bulk jobs yield
// between chunks so foreground readers are not starved.
func (r *Runner) Checkpoint(ctx context.Context, job *Job) error {
	job.Touch()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return errors.Wrap(err, "failed to checkpoint job")
	}

	cancelled, err := r.store.CancelRequested(ctx, job.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return ErrCancelled
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
