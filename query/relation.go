// Package query resolves temporal relations between spans and composes them
// with access control into the result sets every read surface consumes.
package query

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/span"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

// Relation names a temporal relationship between a reference span and a
// candidate.
type Relation string

const (
	RelationDuring Relation = "during"
	RelationBefore Relation = "before"
	RelationAfter  Relation = "after"
)

// ParseRelation validates a relation name. Unknown names are a hard error,
// never defaulted to a guessed relation.
func ParseRelation(s string) (Relation, error) {
	switch Relation(s) {
	case RelationDuring, RelationBefore, RelationAfter:
		return Relation(s), nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidRelation, "relation %q", s)
	}
}

// Filters narrows resolver results. All fields are optional and independent
// of the temporal predicate.
type Filters struct {
	Type      span.Type
	Subtype   string
	OwnerID   string
	Limit     int
	OrderDesc bool // order by start date descending instead of ascending
}

// Resolver computes the set of spans temporally related to a reference span.
// It is a pure function over the span store plus an evaluation-time "now";
// safe for concurrent use.
type Resolver struct {
	spans  *span.Store
	logger *zap.SugaredLogger

	// now is the evaluation clock; overridable in tests
	now func() temporal.Date

	// loggedBadDates tracks span IDs with malformed dates already reported,
	// so a data-quality defect logs once per record rather than per query
	loggedBadDates sync.Map
}

// NewResolver creates a temporal relation resolver. Logger may be nil.
func NewResolver(spans *span.Store, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{
		spans:  spans,
		logger: logger,
		now:    temporal.Today,
	}
}

// Resolve returns the spans holding the given temporal relation to the
// reference span, with attribute filters applied as a conjunction. The
// reference is never part of its own result set. Limit is NOT applied here;
// the composer truncates only after access filtering.
func (r *Resolver) Resolve(ctx context.Context, relation Relation, reference *span.Span, filters Filters) ([]*span.Span, error) {
	if _, err := ParseRelation(string(relation)); err != nil {
		return nil, err
	}
	if reference.Start == nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest,
			"reference span %s has no start date", reference.ID)
	}

	// Nothing can be after an unbounded interval.
	if relation == RelationAfter && reference.Ongoing() {
		return []*span.Span{}, nil
	}

	pool, err := r.spans.List(ctx, span.ListFilter{
		Type:    filters.Type,
		Subtype: filters.Subtype,
		OwnerID: filters.OwnerID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load candidate pool")
	}

	now := r.now()
	matched := make([]*span.Span, 0, len(pool))
	for _, cand := range pool {
		if cand.ID == reference.ID {
			continue
		}
		ok, err := r.matches(relation, reference, cand, now)
		if err != nil {
			// Malformed candidate dates are a data-quality defect, not a
			// query failure: exclude the record and keep going.
			r.logBadDateOnce(cand, err)
			continue
		}
		if ok {
			matched = append(matched, cand)
		}
	}

	if filters.OrderDesc {
		reverse(matched)
	}
	return matched, nil
}

// matches evaluates the temporal predicate for one candidate.
func (r *Resolver) matches(relation Relation, ref, cand *span.Span, now temporal.Date) (bool, error) {
	// An undated candidate has no temporal anchor and can hold no relation.
	if cand.Start == nil {
		return false, nil
	}
	if err := cand.Start.Validate(); err != nil {
		return false, err
	}
	if cand.End != nil {
		if err := cand.End.Validate(); err != nil {
			return false, err
		}
	}

	// An ongoing candidate's effective end is "now": it never ends, but it
	// can still have started during (or ended before) a finite window.
	candEnd := now
	if cand.End != nil {
		candEnd = *cand.End
	}

	switch relation {
	case RelationDuring:
		// Reference with no end is still current; its window closes at the
		// evaluation instant.
		refEnd := now
		if ref.End != nil {
			refEnd = *ref.End
		}
		return !cand.Start.Before(*ref.Start) && !candEnd.After(refEnd), nil

	case RelationBefore:
		return candEnd.Before(*ref.Start), nil

	case RelationAfter:
		// Resolve already returned empty for an ongoing reference.
		return cand.Start.After(*ref.End), nil

	default:
		return false, errors.Wrapf(errors.ErrInvalidRelation, "relation %q", relation)
	}
}

func (r *Resolver) logBadDateOnce(cand *span.Span, err error) {
	if _, loaded := r.loggedBadDates.LoadOrStore(cand.ID, struct{}{}); loaded {
		return
	}
	if r.logger != nil {
		r.logger.Warnw("Excluding span with malformed dates from temporal query",
			"span", cand.ID,
			"slug", cand.Slug,
			"error", err.Error(),
		)
	}
}

func reverse(spans []*span.Span) {
	for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
		spans[i], spans[j] = spans[j], spans[i]
	}
}
