package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/span"
)

// Resolver answers permission checks. It is a pure read over the grant and
// membership tables — no mutation, safe to call concurrently and repeatedly.
type Resolver struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewResolver creates a permission resolver. Logger may be nil.
func NewResolver(store *Store, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// OnChange registers fn to run after any access mutation that can change
// what this resolver would answer. Delegates to the underlying store.
func (r *Resolver) OnChange(fn func()) {
	r.store.OnChange(fn)
}

// HasPermission reports whether the actor holds the permission on the span.
// A nil actor is anonymous and can only ever view public spans.
//
// Resolution order, first match wins (each rule independently sufficient):
//  1. platform admin
//  2. span owner
//  3. view requested and span is public
//  4. direct grant to the actor
//  5. grant to a group the actor is currently a member of
func (r *Resolver) HasPermission(ctx context.Context, actor *Actor, sp *span.Span, perm Permission) (bool, error) {
	if actor != nil {
		if actor.Admin {
			return true, nil
		}
		if actor.ID == sp.OwnerID {
			return true, nil
		}
	}

	if perm == PermissionView && sp.AccessLevel == span.AccessPublic {
		return true, nil
	}

	// Anonymous actors never reach the grant tables.
	if actor == nil {
		return false, nil
	}

	if ok, err := r.store.hasDirectGrant(ctx, sp.ID, actor.ID, perm); err != nil || ok {
		return ok, err
	}

	return r.store.hasGroupGrant(ctx, sp.ID, actor.ID, perm)
}

// FilterVisible keeps only the spans the actor may view. Query surfaces call
// this before returning results so visibility is enforced inside the
// boundary, never bolted on by the caller afterwards.
func (r *Resolver) FilterVisible(ctx context.Context, actor *Actor, spans []*span.Span) ([]*span.Span, error) {
	visible := make([]*span.Span, 0, len(spans))
	for _, sp := range spans {
		ok, err := r.HasPermission(ctx, actor, sp, PermissionView)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, sp)
		}
	}
	return visible, nil
}
