package span

import (
	"time"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// Connection is a directed, typed edge between two spans. The connection owns
// its own span (SpanID) carrying the relation's temporal extent — an
// employment's start and end live on the connection span, not on either
// endpoint.
type Connection struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SubjectID string    `json:"subject_id"`
	ObjectID  string    `json:"object_id"`
	SpanID    string    `json:"span_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionType declares a connection type's predicates and structural
// constraints.
type ConnectionType struct {
	Name             string   `toml:"name"`
	ForwardPredicate string   `toml:"forward"`
	InversePredicate string   `toml:"inverse"`
	SubjectTypes     []string `toml:"subject_types"` // empty = any
	ObjectTypes      []string `toml:"object_types"`  // empty = any
	// AllowsMultiple permits several concurrent instances of this type for
	// the same subject (e.g. memberships); when false a second instance for
	// the same subject is a conflict (e.g. a second concurrent residence).
	AllowsMultiple bool `toml:"allows_multiple"`
}

// AllowsSubject reports whether the type accepts the given subject span type.
func (ct *ConnectionType) AllowsSubject(t Type) bool {
	return containsOrEmpty(ct.SubjectTypes, string(t))
}

// AllowsObject reports whether the type accepts the given object span type.
func (ct *ConnectionType) AllowsObject(t Type) bool {
	return containsOrEmpty(ct.ObjectTypes, string(t))
}

func containsOrEmpty(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// ValidateEndpoints checks the structural constraints of a connection against
// its type definition and the resolved endpoint spans.
func (ct *ConnectionType) ValidateEndpoints(subject, object *Span) error {
	if !ct.AllowsSubject(subject.Type) {
		return errors.Wrapf(errors.ErrInvalidRequest,
			"connection type %q does not accept subject type %q", ct.Name, subject.Type)
	}
	if !ct.AllowsObject(object.Type) {
		return errors.Wrapf(errors.ErrInvalidRequest,
			"connection type %q does not accept object type %q", ct.Name, object.Type)
	}
	return nil
}
