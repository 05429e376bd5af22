package span

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn, nil), conn
}

func testPerson(name string) *Span {
	return &Span{
		Name:        name,
		Type:        TypePerson,
		State:       StatePublished,
		AccessLevel: AccessPrivate,
		OwnerID:     "u-1",
		Start:       datePtr(temporal.NewYear(1940)),
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sp := testPerson("John Lennon")
	require.NoError(t, store.Create(ctx, sp))
	assert.NotEmpty(t, sp.ID)
	assert.Equal(t, "john-lennon", sp.Slug)

	t.Run("by id", func(t *testing.T) {
		got, err := store.GetByID(ctx, sp.ID)
		require.NoError(t, err)
		assert.Equal(t, "John Lennon", got.Name)
		assert.Equal(t, TypePerson, got.Type)
		require.NotNil(t, got.Start)
		assert.True(t, got.Start.Equal(temporal.NewYear(1940)))
		assert.True(t, got.Ongoing())
	})

	t.Run("by slug", func(t *testing.T) {
		got, err := store.GetBySlug(ctx, "john-lennon")
		require.NoError(t, err)
		assert.Equal(t, sp.ID, got.ID)
	})

	t.Run("missing span is not found", func(t *testing.T) {
		_, err := store.GetByID(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("duplicate slug conflicts", func(t *testing.T) {
		dup := testPerson("John Lennon")
		err := store.Create(ctx, dup)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})
}

func TestStoreBCYearSpans(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sp := testPerson("Julius Caesar")
	sp.AccessLevel = AccessPublic
	sp.Start = datePtr(temporal.NewYear(-100))
	sp.End = datePtr(temporal.NewYear(-44))
	require.NoError(t, store.Create(ctx, sp))

	t.Run("get scans negative years back", func(t *testing.T) {
		got, err := store.GetByID(ctx, sp.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Start)
		assert.Equal(t, -100, got.Start.Year)
		require.NotNil(t, got.End)
		assert.Equal(t, -44, got.End.Year)
	})

	t.Run("list survives a BC span in the pool", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, testPerson("John Lennon")))

		all, err := store.List(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestStoreCreateIfAbsent(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateIfAbsent(ctx, testPerson("Ringo Starr"))
	require.NoError(t, err)
	assert.True(t, created)

	// Repeating the same insert is a no-op, not an error
	created, err = store.CreateIfAbsent(ctx, testPerson("Ringo Starr"))
	require.NoError(t, err)
	assert.False(t, created)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM spans").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStoreUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sp := testPerson("George Harrison")
	require.NoError(t, store.Create(ctx, sp))

	sp.End = datePtr(temporal.NewDay(2001, 11, 29))
	sp.Metadata = map[string]string{MetadataSubtypeKey: "musician"}
	require.NoError(t, store.Update(ctx, sp))

	got, err := store.GetByID(ctx, sp.ID)
	require.NoError(t, err)
	assert.False(t, got.Ongoing())
	assert.Equal(t, "musician", got.Subtype())

	t.Run("updating a missing span is not found", func(t *testing.T) {
		ghost := testPerson("Ghost")
		ghost.ID = "no-such-id"
		ghost.Slug = "ghost"
		err := store.Update(ctx, ghost)
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestStoreConnections(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	person := testPerson("Paul McCartney")
	require.NoError(t, store.Create(ctx, person))

	place := &Span{
		Name: "Liverpool", Type: TypePlace, State: StateDraft,
		AccessLevel: AccessPublic, OwnerID: "u-1",
	}
	require.NoError(t, store.Create(ctx, place))

	conn := &Connection{Type: "residence", SubjectID: person.ID, ObjectID: place.ID}
	connSpan := &Span{
		Name: "Paul McCartney resided at Liverpool", State: StateDraft,
		AccessLevel: AccessPrivate,
		Start:       datePtr(temporal.NewYear(1942)),
		End:         datePtr(temporal.NewYear(1964)),
	}
	require.NoError(t, store.CreateConnection(ctx, conn, connSpan))
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, connSpan.ID, conn.SpanID)
	assert.Equal(t, TypeConnection, connSpan.Type)

	t.Run("single-instance types reject a second connection", func(t *testing.T) {
		second := &Connection{Type: "residence", SubjectID: person.ID, ObjectID: place.ID}
		err := store.CreateConnection(ctx, second, &Span{
			Name: "second residence", State: StateDraft, AccessLevel: AccessPrivate,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})

	t.Run("type constraints enforced", func(t *testing.T) {
		bad := &Connection{Type: "residence", SubjectID: place.ID, ObjectID: person.ID}
		err := store.CreateConnection(ctx, bad, &Span{
			Name: "backwards", State: StateDraft, AccessLevel: AccessPrivate,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})

	t.Run("referenced span cannot be deleted", func(t *testing.T) {
		err := store.Delete(ctx, person.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})

	t.Run("connections listed for both endpoints", func(t *testing.T) {
		conns, err := store.ConnectionsForSpan(ctx, place.ID)
		require.NoError(t, err)
		require.Len(t, conns, 1)
		assert.Equal(t, "residence", conns[0].Type)
	})

	t.Run("deleting the connection frees the span", func(t *testing.T) {
		require.NoError(t, store.DeleteConnection(ctx, conn.ID))

		_, err := store.GetByID(ctx, conn.SpanID)
		assert.True(t, errors.IsNotFoundError(err))

		assert.NoError(t, store.Delete(ctx, person.ID))
	})
}

func TestStoreList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	early := testPerson("Early")
	early.Start = datePtr(temporal.NewYear(1900))
	late := testPerson("Late")
	late.Start = datePtr(temporal.NewYear(1990))
	place := &Span{
		Name: "Somewhere", Type: TypePlace, State: StateDraft,
		AccessLevel: AccessPublic, OwnerID: "u-2",
	}
	musician := testPerson("Musician")
	musician.Metadata = map[string]string{MetadataSubtypeKey: "musician"}

	for _, sp := range []*Span{late, early, place, musician} {
		require.NoError(t, store.Create(ctx, sp))
	}

	t.Run("type filter and start ordering", func(t *testing.T) {
		people, err := store.List(ctx, ListFilter{Type: TypePerson})
		require.NoError(t, err)
		require.Len(t, people, 3)
		assert.Equal(t, "Early", people[0].Name)
	})

	t.Run("subtype filter reads metadata", func(t *testing.T) {
		got, err := store.List(ctx, ListFilter{Subtype: "musician"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Musician", got[0].Name)
	})

	t.Run("owner filter", func(t *testing.T) {
		got, err := store.List(ctx, ListFilter{OwnerID: "u-2"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Somewhere", got[0].Name)
	})

	t.Run("limit caps results", func(t *testing.T) {
		got, err := store.List(ctx, ListFilter{Type: TypePerson, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}
