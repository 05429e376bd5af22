package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/span"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

// Built-in handler names.
const (
	HandlerBulkImport       = "spans.bulk-import"
	HandlerMetricsRecompute = "spans.metrics-recompute"
	HandlerDuplicateCleanup = "spans.duplicate-cleanup"
)

// RegisterSpanHandlers registers the built-in span maintenance handlers.
func RegisterSpanHandlers(registry *Registry, database *sql.DB, spans *span.Store, logger *zap.SugaredLogger) {
	registry.Register(&BulkImportHandler{spans: spans, logger: logger})
	registry.Register(&MetricsRecomputeHandler{db: database, logger: logger})
	registry.Register(&DuplicateCleanupHandler{db: database, spans: spans, logger: logger})
}

// BulkImportEntry is one record in a bulk import manifest.
type BulkImportEntry struct {
	Name        string            `json:"name"`
	Slug        string            `json:"slug,omitempty"`
	Type        string            `json:"type"`
	State       string            `json:"state,omitempty"`
	AccessLevel string            `json:"access_level,omitempty"`
	OwnerID     string            `json:"owner_id,omitempty"`
	Start       string            `json:"start,omitempty"`
	End         string            `json:"end,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BulkImportPayload is the manifest for a spans.bulk-import job.
type BulkImportPayload struct {
	Spans []BulkImportEntry `json:"spans"`
}

// BulkImportHandler creates spans from a payload manifest. Creation is
// create-if-absent keyed on slug, so replaying a chunk after a crash makes
// no duplicate rows.
type BulkImportHandler struct {
	spans  *span.Store
	logger *zap.SugaredLogger
}

func (h *BulkImportHandler) Name() string { return HandlerBulkImport }

func (h *BulkImportHandler) Execute(ctx context.Context, job *Job, r *Runner) error {
	var payload BulkImportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "failed to decode bulk import payload")
	}

	job.Progress.Total = len(payload.Spans)

	// Resume past entries already processed by a previous run.
	for i := job.Progress.Processed; i < len(payload.Spans); i += r.ChunkSize() {
		end := min(i+r.ChunkSize(), len(payload.Spans))
		for _, entry := range payload.Spans[i:end] {
			h.importEntry(ctx, job, entry)
			job.Progress.Processed++
		}
		if err := r.Checkpoint(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (h *BulkImportHandler) importEntry(ctx context.Context, job *Job, entry BulkImportEntry) {
	sp, err := entryToSpan(entry)
	if err == nil {
		var created bool
		created, err = h.spans.CreateIfAbsent(ctx, sp)
		if err == nil {
			if created {
				job.Progress.Created++
			} else {
				job.Progress.Skipped++
			}
			return
		}
	}

	job.Progress.Errors++
	if h.logger != nil {
		h.logger.Warnw("Bulk import entry failed", "job_id", job.ID, "name", entry.Name, "error", err)
	}
}

func entryToSpan(entry BulkImportEntry) (*span.Span, error) {
	sp := &span.Span{
		Name:        entry.Name,
		Slug:        entry.Slug,
		Type:        span.Type(entry.Type),
		State:       span.State(entry.State),
		AccessLevel: span.AccessLevel(entry.AccessLevel),
		OwnerID:     entry.OwnerID,
		Metadata:    entry.Metadata,
	}
	if entry.Start != "" {
		d, err := temporal.Parse(entry.Start)
		if err != nil {
			return nil, errors.Wrapf(err, "start date %q", entry.Start)
		}
		sp.Start = &d
	}
	if entry.End != "" {
		d, err := temporal.Parse(entry.End)
		if err != nil {
			return nil, errors.Wrapf(err, "end date %q", entry.End)
		}
		sp.End = &d
	}
	return sp, nil
}

// MetricsRecomputeHandler recomputes per-span connection counts into the
// span_metrics table. Each span's row is replaced wholesale, so replaying a
// chunk is harmless.
type MetricsRecomputeHandler struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func (h *MetricsRecomputeHandler) Name() string { return HandlerMetricsRecompute }

func (h *MetricsRecomputeHandler) Execute(ctx context.Context, job *Job, r *Runner) error {
	var total int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans`).Scan(&total); err != nil {
		return errors.Wrap(err, "failed to count spans")
	}
	job.Progress.Total = total

	for job.Progress.Processed < total {
		ids, err := h.spanIDChunk(ctx, job.Progress.Processed, r.ChunkSize())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := h.recomputeOne(ctx, id); err != nil {
				job.Progress.Errors++
				if h.logger != nil {
					h.logger.Warnw("Metrics recompute failed for span", "job_id", job.ID, "span_id", id, "error", err)
				}
			} else {
				job.Progress.Created++
			}
			job.Progress.Processed++
		}
		if err := r.Checkpoint(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (h *MetricsRecomputeHandler) spanIDChunk(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id FROM spans ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list span ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan span id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating span ids")
	}
	return ids, nil
}

func (h *MetricsRecomputeHandler) recomputeOne(ctx context.Context, spanID string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO span_metrics (span_id, subject_connections, object_connections, recomputed_at)
		VALUES (
			?,
			(SELECT COUNT(*) FROM connections WHERE subject_id = ?),
			(SELECT COUNT(*) FROM connections WHERE object_id = ?),
			?
		)
		ON CONFLICT(span_id) DO UPDATE SET
			subject_connections = excluded.subject_connections,
			object_connections = excluded.object_connections,
			recomputed_at = excluded.recomputed_at`,
		spanID, spanID, spanID, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to upsert span metrics")
	}
	return nil
}

// DuplicateCleanupHandler removes placeholder spans that duplicate a real
// span of the same name and type. Placeholders with connections are kept
// and counted as skipped; deciding where their connections should point is
// an editorial call, not a batch one.
type DuplicateCleanupHandler struct {
	db     *sql.DB
	spans  *span.Store
	logger *zap.SugaredLogger
}

func (h *DuplicateCleanupHandler) Name() string { return HandlerDuplicateCleanup }

func (h *DuplicateCleanupHandler) Execute(ctx context.Context, job *Job, r *Runner) error {
	ids, err := h.duplicatePlaceholders(ctx)
	if err != nil {
		return err
	}

	// Progress.Total counts candidates remaining at this run; after a
	// restart already-deleted placeholders no longer appear, so the
	// processed count simply continues from the checkpoint.
	job.Progress.Total = job.Progress.Processed + len(ids)

	for i := 0; i < len(ids); i += r.ChunkSize() {
		end := min(i+r.ChunkSize(), len(ids))
		for _, id := range ids[i:end] {
			h.cleanupOne(ctx, job, id)
			job.Progress.Processed++
		}
		if err := r.Checkpoint(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (h *DuplicateCleanupHandler) duplicatePlaceholders(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT p.id
		FROM spans p
		WHERE p.state = 'placeholder'
		  AND EXISTS (
			SELECT 1 FROM spans o
			WHERE o.id != p.id
			  AND o.name = p.name
			  AND o.type = p.type
			  AND o.state != 'placeholder'
		  )
		ORDER BY p.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list duplicate placeholders")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan placeholder id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating placeholders")
	}
	return ids, nil
}

func (h *DuplicateCleanupHandler) cleanupOne(ctx context.Context, job *Job, id string) {
	err := h.spans.Delete(ctx, id)
	switch {
	case err == nil:
		job.Progress.Created++ // counts rows removed
	case errors.Is(err, errors.ErrNotFound):
		// Already gone, a replayed chunk after recovery.
		job.Progress.Skipped++
	case errors.Is(err, errors.ErrConflict):
		// Still connected somewhere.
		job.Progress.Skipped++
	default:
		job.Progress.Errors++
		if h.logger != nil {
			h.logger.Warnw("Duplicate cleanup failed for span", "job_id", job.ID, "span_id", id, "error", err)
		}
	}
}
