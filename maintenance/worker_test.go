package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/span"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

// newTestWorker wires a worker with the span handlers over a migrated
// temp database. Pacing is disabled and the chunk size kept small so tests
// cross chunk boundaries. Tests drive processNext directly instead of the
// poll loop.
func newTestWorker(t *testing.T) (*Worker, *span.Store, *sql.DB) {
	t.Helper()
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	spans := span.NewStore(conn, nil)
	w := NewWorker(context.Background(), conn, WorkerConfig{
		Workers:      1,
		PollInterval: time.Hour,
		ChunkSize:    2,
	}, nil)
	RegisterSpanHandlers(w.Registry(), conn, spans, nil)
	return w, spans, conn
}

func importManifest(t *testing.T, entries ...BulkImportEntry) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(BulkImportPayload{Spans: entries})
	require.NoError(t, err)
	return payload
}

func TestWorkerBulkImport(t *testing.T) {
	w, spans, _ := newTestWorker(t)
	ctx := context.Background()

	job, err := w.Enqueue(ctx, HandlerBulkImport, importManifest(t,
		BulkImportEntry{Name: "John Lennon", Type: "person", State: "published", Start: "1940-10-09"},
		BulkImportEntry{Name: "Liverpool", Type: "place", Start: "1207"},
		BulkImportEntry{Name: "Bad Date", Type: "person", Start: "1962-02-30"},
		BulkImportEntry{Name: "Abbey Road", Type: "thing", Start: "1969-09"},
	))
	require.NoError(t, err)

	require.NoError(t, w.processNext())

	got, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 4, got.Progress.Processed)
	assert.Equal(t, 3, got.Progress.Created)
	assert.Equal(t, 1, got.Progress.Errors, "impossible date counted, batch continued")

	imported, err := spans.GetBySlug(ctx, "john-lennon")
	require.NoError(t, err)
	require.NotNil(t, imported.Start)
	assert.True(t, imported.Start.Equal(temporal.NewDay(1940, 10, 9)))

	t.Run("re-import is idempotent", func(t *testing.T) {
		again, err := w.Enqueue(ctx, HandlerBulkImport, importManifest(t,
			BulkImportEntry{Name: "John Lennon", Type: "person", State: "published", Start: "1940-10-09"},
			BulkImportEntry{Name: "Liverpool", Type: "place", Start: "1207"},
		))
		require.NoError(t, err)
		require.NoError(t, w.processNext())

		got, err := w.Store().GetJob(ctx, again.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 0, got.Progress.Created)
		assert.Equal(t, 2, got.Progress.Skipped)
	})
}

func TestWorkerCancellationTakesEffectWithinOneChunk(t *testing.T) {
	w, _, _ := newTestWorker(t)
	ctx := context.Background()

	entries := make([]BulkImportEntry, 10)
	for i := range entries {
		entries[i] = BulkImportEntry{Name: "Span " + string(rune('A'+i)), Type: "thing"}
	}
	job, err := w.Enqueue(ctx, HandlerBulkImport, importManifest(t, entries...))
	require.NoError(t, err)

	// Flag is set before the worker claims the job, so the first
	// checkpoint observes it.
	require.NoError(t, w.Store().RequestCancel(ctx, job.ID))
	require.NoError(t, w.processNext())

	got, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 2, got.Progress.Processed, "stopped at the first chunk boundary")
	assert.Equal(t, 2, got.Progress.Created, "counts from completed chunks kept")
}

func TestWorkerResumeAfterInterruption(t *testing.T) {
	w, spans, conn := newTestWorker(t)
	ctx := context.Background()

	entries := make([]BulkImportEntry, 5)
	for i := range entries {
		entries[i] = BulkImportEntry{Name: "Record " + string(rune('A'+i)), Type: "thing"}
	}
	job, err := w.Enqueue(ctx, HandlerBulkImport, importManifest(t, entries...))
	require.NoError(t, err)

	// Interrupt after the first chunk, as a crash between checkpoints
	// would.
	require.NoError(t, w.Store().RequestCancel(ctx, job.ID))
	require.NoError(t, w.processNext())

	interrupted, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, interrupted.Progress.Processed)

	// Re-queue the same job record, clearing the flag, and let it run to
	// completion.
	_, err = conn.Exec(
		`UPDATE maintenance_jobs SET status = ?, cancel_requested = 0, completed_at = NULL WHERE id = ?`,
		StatusQueued, job.ID)
	require.NoError(t, err)
	require.NoError(t, w.processNext())

	final, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 5, final.Progress.Processed)
	assert.Equal(t, 5, final.Progress.Created, "no duplicates from the resumed run")

	for i := range entries {
		_, err := spans.GetBySlug(ctx, span.Slugify(entries[i].Name))
		assert.NoError(t, err, "entry %d imported exactly once", i)
	}
}

func TestWorkerMetricsRecompute(t *testing.T) {
	w, spans, conn := newTestWorker(t)
	ctx := context.Background()

	person := &span.Span{Name: "Paul McCartney", Type: span.TypePerson, State: span.StateDraft}
	require.NoError(t, spans.Create(ctx, person))
	place := &span.Span{Name: "Liverpool", Type: span.TypePlace, State: span.StateDraft}
	require.NoError(t, spans.Create(ctx, place))

	connection := &span.Connection{Type: "residence", SubjectID: person.ID, ObjectID: place.ID}
	require.NoError(t, spans.CreateConnection(ctx, connection, &span.Span{
		Name: "Paul McCartney resided at Liverpool", State: span.StateDraft,
	}))

	job, err := w.Enqueue(ctx, HandlerMetricsRecompute, nil)
	require.NoError(t, err)
	require.NoError(t, w.processNext())

	got, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Progress.Total, "person, place and the connection span")

	var subjectCount, objectCount int
	require.NoError(t, conn.QueryRow(
		`SELECT subject_connections, object_connections FROM span_metrics WHERE span_id = ?`,
		person.ID).Scan(&subjectCount, &objectCount))
	assert.Equal(t, 1, subjectCount)
	assert.Equal(t, 0, objectCount)

	require.NoError(t, conn.QueryRow(
		`SELECT subject_connections, object_connections FROM span_metrics WHERE span_id = ?`,
		place.ID).Scan(&subjectCount, &objectCount))
	assert.Equal(t, 0, subjectCount)
	assert.Equal(t, 1, objectCount)
}

func TestWorkerDuplicateCleanup(t *testing.T) {
	w, spans, _ := newTestWorker(t)
	ctx := context.Background()

	canonical := &span.Span{Name: "George Harrison", Type: span.TypePerson, State: span.StatePublished,
		Start: &temporal.Date{Year: 1943, Precision: temporal.PrecisionYear}}
	require.NoError(t, spans.Create(ctx, canonical))

	orphanDupe := &span.Span{Name: "George Harrison", Slug: "george-harrison-2",
		Type: span.TypePerson, State: span.StatePlaceholder}
	require.NoError(t, spans.Create(ctx, orphanDupe))

	connectedDupe := &span.Span{Name: "George Harrison", Slug: "george-harrison-3",
		Type: span.TypePerson, State: span.StatePlaceholder}
	require.NoError(t, spans.Create(ctx, connectedDupe))
	place := &span.Span{Name: "Henley-on-Thames", Type: span.TypePlace, State: span.StateDraft}
	require.NoError(t, spans.Create(ctx, place))
	require.NoError(t, spans.CreateConnection(ctx,
		&span.Connection{Type: "residence", SubjectID: connectedDupe.ID, ObjectID: place.ID},
		&span.Span{Name: "residence", State: span.StateDraft}))

	lonePlaceholder := &span.Span{Name: "Stuart Sutcliffe", Type: span.TypePerson, State: span.StatePlaceholder}
	require.NoError(t, spans.Create(ctx, lonePlaceholder))

	job, err := w.Enqueue(ctx, HandlerDuplicateCleanup, nil)
	require.NoError(t, err)
	require.NoError(t, w.processNext())

	got, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Progress.Processed)
	assert.Equal(t, 1, got.Progress.Created, "unconnected duplicate removed")
	assert.Equal(t, 1, got.Progress.Skipped, "connected duplicate kept")

	_, err = spans.GetByID(ctx, orphanDupe.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = spans.GetByID(ctx, connectedDupe.ID)
	assert.NoError(t, err)

	_, err = spans.GetByID(ctx, lonePlaceholder.ID)
	assert.NoError(t, err, "placeholders without a real counterpart are untouched")

	_, err = spans.GetByID(ctx, canonical.ID)
	assert.NoError(t, err)
}

func TestWorkerUnknownHandlerFailsJob(t *testing.T) {
	w, _, _ := newTestWorker(t)
	ctx := context.Background()

	// Enqueue validates the handler name, so insert directly.
	job, err := NewJob("spans.no-such-handler", nil)
	require.NoError(t, err)
	require.NoError(t, w.Store().CreateJob(ctx, job))

	require.NoError(t, w.processNext())

	got, err := w.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no handler registered")

	t.Run("enqueue rejects unknown handler", func(t *testing.T) {
		_, err := w.Enqueue(ctx, "spans.no-such-handler", nil)
		require.Error(t, err)
	})
}

func TestWorkerStartStop(t *testing.T) {
	w, _, _ := newTestWorker(t)
	ctx := context.Background()

	job, err := w.Enqueue(ctx, HandlerBulkImport, importManifest(t,
		BulkImportEntry{Name: "Ringo Starr", Type: "person"}))
	require.NoError(t, err)

	w.config.PollInterval = 10 * time.Millisecond
	w.Start()
	require.Eventually(t, func() bool {
		got, err := w.Store().GetJob(ctx, job.ID)
		return err == nil && got.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	w.Stop()
}
