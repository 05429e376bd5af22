package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rich13/lifespan-beta-sub017/access"
	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/span"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

type composerFixture struct {
	composer *Composer
	spans    *span.Store
	acl      *access.Store

	owner    *access.Actor
	stranger *access.Actor

	ref *span.Span
}

func newComposerFixture(t *testing.T, cfg ComposerConfig) *composerFixture {
	t.Helper()
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := &composerFixture{
		spans: span.NewStore(conn, nil),
		acl:   access.NewStore(conn, nil),
	}
	resolver := NewResolver(f.spans, nil)
	resolver.now = func() temporal.Date { return temporal.NewDay(2020, 6, 15) }
	f.composer = NewComposer(f.spans, resolver, access.NewResolver(f.acl, nil), cfg, nil)

	ctx := context.Background()
	f.owner = &access.Actor{Name: "owner"}
	f.stranger = &access.Actor{Name: "stranger"}
	require.NoError(t, f.acl.CreateActor(ctx, f.owner))
	require.NoError(t, f.acl.CreateActor(ctx, f.stranger))

	f.ref = &span.Span{
		Name: "The Sixties", Type: span.TypeEvent, State: span.StateDraft,
		AccessLevel: span.AccessPublic, OwnerID: f.owner.ID,
		Start: datePtr(temporal.NewYear(1960)), End: datePtr(temporal.NewYear(1969)),
	}
	require.NoError(t, f.spans.Create(ctx, f.ref))

	return f
}

func (f *composerFixture) addEvent(t *testing.T, name string, level span.AccessLevel, startYear, endYear int) *span.Span {
	t.Helper()
	sp := &span.Span{
		Name: name, Type: span.TypeEvent, State: span.StateDraft,
		AccessLevel: level, OwnerID: f.owner.ID,
		Start: datePtr(temporal.NewYear(startYear)),
		End:   datePtr(temporal.NewYear(endYear)),
	}
	require.NoError(t, f.spans.Create(context.Background(), sp))
	return sp
}

func TestComposerAccessIntersection(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 100})
	ctx := context.Background()

	f.addEvent(t, "Public Event", span.AccessPublic, 1962, 1964)
	private := f.addEvent(t, "Private Event", span.AccessPrivate, 1963, 1965)

	t.Run("stranger sees only public results", func(t *testing.T) {
		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Public Event", got[0].Name)
	})

	t.Run("owner sees both", func(t *testing.T) {
		got, err := f.composer.RelatedSpans(ctx, f.owner, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("a view grant opens the private result", func(t *testing.T) {
		require.NoError(t, f.acl.Grant(ctx, &access.Grant{
			SpanID: private.ID, UserID: f.stranger.ID, Permission: access.PermissionView,
		}))
		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestComposerForbiddenReference(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 100})
	ctx := context.Background()

	hidden := &span.Span{
		Name: "Hidden Ref", Type: span.TypeEvent, State: span.StateDraft,
		AccessLevel: span.AccessPrivate, OwnerID: f.owner.ID,
		Start: datePtr(temporal.NewYear(1960)),
	}
	require.NoError(t, f.spans.Create(ctx, hidden))

	_, err := f.composer.RelatedSpans(ctx, f.stranger, hidden.ID, RelationDuring, Filters{})
	require.Error(t, err)
	assert.True(t, errors.IsForbiddenError(err))

	t.Run("missing reference is not found, distinguishable from forbidden", func(t *testing.T) {
		_, err := f.composer.RelatedSpans(ctx, f.stranger, "no-such-span", RelationDuring, Filters{})
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
		assert.False(t, errors.IsForbiddenError(err))
	})
}

func TestComposerLimitCountsVisibleResults(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 100})
	ctx := context.Background()

	// Private spans come first in start order; a limit applied before access
	// filtering would return nothing to the stranger.
	f.addEvent(t, "Private A", span.AccessPrivate, 1961, 1962)
	f.addEvent(t, "Private B", span.AccessPrivate, 1962, 1963)
	f.addEvent(t, "Public A", span.AccessPublic, 1964, 1965)
	f.addEvent(t, "Public B", span.AccessPublic, 1966, 1967)

	got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Public A", got[0].Name)
}

func TestComposerInvalidRelation(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 100})

	_, err := f.composer.RelatedSpans(context.Background(), f.owner, f.ref.ID, Relation("near"), Filters{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRelation))
}

func TestComposerCache(t *testing.T) {
	cfg := ComposerConfig{
		DefaultLimit: 100,
		CacheEnabled: true,
		CacheSize:    16,
		CacheTTL:     time.Minute,
	}
	f := newComposerFixture(t, cfg)
	ctx := context.Background()

	f.addEvent(t, "Public Event", span.AccessPublic, 1962, 1964)

	first, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Positive(t, f.composer.cache.Len())

	t.Run("span writes drop the cache", func(t *testing.T) {
		f.addEvent(t, "Another Public Event", span.AccessPublic, 1965, 1966)

		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("a revoke takes effect on the next query", func(t *testing.T) {
		private := f.addEvent(t, "Private Event", span.AccessPrivate, 1963, 1965)
		grant := &access.Grant{
			SpanID: private.ID, UserID: f.stranger.ID, Permission: access.PermissionView,
		}
		require.NoError(t, f.acl.Grant(ctx, grant))

		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 3)

		require.NoError(t, f.acl.Revoke(ctx, grant))

		got, err = f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, sum := range got {
			assert.NotEqual(t, "Private Event", sum.Name)
		}
	})

	t.Run("cache hits hand out copies", func(t *testing.T) {
		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Positive(t, f.composer.cache.Len())

		// Mutating a returned slice must not reach the cached entry.
		got[0].Name = "Mangled"

		again, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, again, 2)
		assert.Equal(t, "Public Event", again[0].Name)
	})
}

func TestComposerDefaultLimit(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 2})
	ctx := context.Background()

	f.addEvent(t, "Public A", span.AccessPublic, 1961, 1962)
	f.addEvent(t, "Public B", span.AccessPublic, 1963, 1964)
	f.addEvent(t, "Public C", span.AccessPublic, 1965, 1966)

	t.Run("no explicit limit falls back to the configured cap", func(t *testing.T) {
		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Public A", got[0].Name)
	})

	t.Run("an explicit limit overrides the default", func(t *testing.T) {
		got, err := f.composer.RelatedSpans(ctx, f.stranger, f.ref.ID, RelationDuring, Filters{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("zero default means uncapped", func(t *testing.T) {
		uncapped := newComposerFixture(t, ComposerConfig{})
		uncapped.addEvent(t, "Public A", span.AccessPublic, 1961, 1962)
		uncapped.addEvent(t, "Public B", span.AccessPublic, 1963, 1964)
		uncapped.addEvent(t, "Public C", span.AccessPublic, 1965, 1966)

		got, err := uncapped.composer.RelatedSpans(ctx, uncapped.stranger, uncapped.ref.ID, RelationDuring, Filters{})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
}

func TestComposerOutputIsSummaries(t *testing.T) {
	f := newComposerFixture(t, ComposerConfig{DefaultLimit: 100})
	ctx := context.Background()

	sp := f.addEvent(t, "Public Event", span.AccessPublic, 1962, 1964)
	sp.Metadata = map[string]string{span.MetadataSubtypeKey: "festival"}
	require.NoError(t, f.spans.Update(ctx, sp))

	got, err := f.composer.RelatedSpans(ctx, nil, f.ref.ID, RelationDuring, Filters{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	sum := got[0]
	assert.Equal(t, sp.ID, sum.ID)
	assert.Equal(t, "festival", sum.Subtype)
	require.NotNil(t, sum.Start)
	assert.True(t, sum.Start.Equal(temporal.NewYear(1962)))
}
