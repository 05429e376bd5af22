package query

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/access"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/span"
)

// ComposerConfig tunes the query composer.
type ComposerConfig struct {
	DefaultLimit int
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// DefaultComposerConfig returns sensible defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		DefaultLimit: 100,
		CacheEnabled: true,
		CacheSize:    1024,
		CacheTTL:     30 * time.Second,
	}
}

// Composer combines the temporal relation resolver with access control and
// attribute filters to produce the visible, ordered, truncated result sets
// consumed by API, search and timeline surfaces.
type Composer struct {
	spans        *span.Store
	resolver     *Resolver
	acl          *access.Resolver
	defaultLimit int
	logger       *zap.SugaredLogger

	// cache is a pure optimization keyed by actor + relation + filter
	// fingerprint; correctness never depends on it. nil when disabled.
	cache *expirable.LRU[string, []span.Summary]
}

// NewComposer creates a query composer. Logger may be nil.
//
// The composer subscribes to span and access mutations, so any write through
// those stores drops the cache immediately rather than waiting out the TTL.
func NewComposer(spans *span.Store, resolver *Resolver, acl *access.Resolver, cfg ComposerConfig, logger *zap.SugaredLogger) *Composer {
	c := &Composer{
		spans:        spans,
		resolver:     resolver,
		acl:          acl,
		defaultLimit: cfg.DefaultLimit,
		logger:       logger,
	}
	if cfg.CacheEnabled && cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, []span.Summary](cfg.CacheSize, nil, cfg.CacheTTL)
		spans.OnChange(c.Invalidate)
		acl.OnChange(c.Invalidate)
	}
	return c
}

// RelatedSpans returns the spans holding the given temporal relation to the
// reference span, restricted to what the actor may view, ordered and
// truncated to the requested limit. Output is span summaries, never raw
// rows, keeping the access-filtering boundary explicit.
func (c *Composer) RelatedSpans(ctx context.Context, actor *access.Actor, referenceID string, relation Relation, filters Filters) ([]span.Summary, error) {
	if _, err := ParseRelation(string(relation)); err != nil {
		return nil, err
	}

	// No explicit limit means the configured default cap. Normalized before
	// the cache key so both spellings hit the same entry.
	if filters.Limit <= 0 {
		filters.Limit = c.defaultLimit
	}

	reference, err := c.spans.GetByID(ctx, referenceID)
	if err != nil {
		return nil, err
	}

	// An actor who cannot view the reference gets forbidden, not an empty
	// result: callers serving untrusted actors collapse this with not-found.
	visible, err := c.acl.HasPermission(ctx, actor, reference, access.PermissionView)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errors.Wrapf(errors.ErrForbidden, "span %s", referenceID)
	}

	key := c.cacheKey(actor, referenceID, relation, filters)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			// Hand out a copy: callers may sort or trim the result and
			// must not reach the cached entry through it.
			out := make([]span.Summary, len(cached))
			copy(out, cached)
			return out, nil
		}
	}

	candidates, err := c.resolver.Resolve(ctx, relation, reference, filters)
	if err != nil {
		return nil, err
	}

	viewable, err := c.acl.FilterVisible(ctx, actor, candidates)
	if err != nil {
		return nil, err
	}

	// Truncate only after access filtering so the limit counts visible
	// results, not candidates.
	if filters.Limit > 0 && len(viewable) > filters.Limit {
		viewable = viewable[:filters.Limit]
	}

	summaries := make([]span.Summary, len(viewable))
	for i, sp := range viewable {
		summaries[i] = sp.Summarize()
	}

	if c.cache != nil {
		c.cache.Add(key, summaries)
	}
	return summaries, nil
}

// Invalidate drops every cached result. NewComposer wires this to span and
// access store mutations; callers that mutate out of band call it directly.
// The whole cache goes: entries are keyed by filter fingerprint, so per-span
// invalidation cannot be computed without tracking reverse indexes, and a
// short-TTL cache makes the coarse purge cheap.
func (c *Composer) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *Composer) cacheKey(actor *access.Actor, referenceID string, relation Relation, filters Filters) string {
	actorID := "anon"
	if actor != nil {
		actorID = actor.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%t",
		actorID, referenceID, relation,
		filters.Type, filters.Subtype, filters.OwnerID,
		filters.Limit, filters.OrderDesc,
	)
}
