// Package span defines the core lifespan entities: spans (date-anchored
// people, places, events, organisations and things) and the typed directed
// connections between them.
package span

import (
	"time"

	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

// Type classifies a span.
type Type string

const (
	TypePerson       Type = "person"
	TypePlace        Type = "place"
	TypeEvent        Type = "event"
	TypeOrganisation Type = "organisation"
	TypeThing        Type = "thing"
	TypeRole         Type = "role"
	// TypeConnection marks the span owned by a connection, carrying the
	// relation's own temporal extent.
	TypeConnection Type = "connection"
)

// IsValidType returns true if the string is a recognised span type.
func IsValidType(s string) bool {
	switch Type(s) {
	case TypePerson, TypePlace, TypeEvent, TypeOrganisation, TypeThing, TypeRole, TypeConnection:
		return true
	default:
		return false
	}
}

// State is a span's lifecycle state.
type State string

const (
	StatePlaceholder State = "placeholder"
	StateDraft       State = "draft"
	StatePublished   State = "published"
)

// AccessLevel is a span's visibility level.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessPrivate AccessLevel = "private"
	AccessShared  AccessLevel = "shared"
)

// MetadataSubtypeKey is the metadata key carrying a span's optional subtype.
const MetadataSubtypeKey = "subtype"

// Span is a date-anchored entity.
type Span struct {
	ID          string            `json:"id"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Type        Type              `json:"type"`
	State       State             `json:"state"`
	AccessLevel AccessLevel       `json:"access_level"`
	OwnerID     string            `json:"owner_id"`
	Personal    bool              `json:"personal"` // actor's canonical self-record
	Start       *temporal.Date    `json:"start,omitempty"`
	End         *temporal.Date    `json:"end,omitempty"` // nil = ongoing
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Ongoing reports whether the span has no end date.
func (s *Span) Ongoing() bool {
	return s.End == nil
}

// Subtype returns the span's subtype from metadata, or "" when unset.
func (s *Span) Subtype() string {
	return s.Metadata[MetadataSubtypeKey]
}

// Validate checks the span's structural invariants:
//   - type and state are recognised
//   - published spans carry a start date
//   - if an end date is present it is not earlier than the start under
//     partial-date comparison
//   - dates denote real calendar instants
//   - metadata keys are recognised for the span's type once published
func (s *Span) Validate() error {
	if s.Name == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "span name is required")
	}
	if !IsValidType(string(s.Type)) {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown span type %q", s.Type)
	}
	switch s.State {
	case StatePlaceholder, StateDraft, StatePublished:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown span state %q", s.State)
	}
	switch s.AccessLevel {
	case AccessPublic, AccessPrivate, AccessShared:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown access level %q", s.AccessLevel)
	}

	if s.State == StatePublished && s.Start == nil {
		return errors.Wrap(errors.ErrInvalidRequest, "published span requires a start date")
	}
	if s.Start != nil {
		if err := s.Start.Validate(); err != nil {
			return errors.Wrap(err, "start date")
		}
	}
	if s.End != nil {
		if err := s.End.Validate(); err != nil {
			return errors.Wrap(err, "end date")
		}
		if s.Start != nil && s.End.CompareCoarse(*s.Start) < 0 {
			return errors.Wrapf(errors.ErrInvalidRequest,
				"end %s precedes start %s", s.End, s.Start)
		}
	}

	if s.State == StatePublished {
		if err := ValidateMetadata(s.Type, s.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// recognisedMetadataKeys is the closed set of metadata keys per span type.
// Keys are validated at the boundary for published spans rather than trusted
// ad hoc at each read site.
var recognisedMetadataKeys = map[Type][]string{
	TypePerson:       {MetadataSubtypeKey, "description", "gender", "birth_name"},
	TypePlace:        {MetadataSubtypeKey, "description", "country", "coordinates"},
	TypeEvent:        {MetadataSubtypeKey, "description", "significance"},
	TypeOrganisation: {MetadataSubtypeKey, "description", "sector"},
	TypeThing:        {MetadataSubtypeKey, "description", "creator"},
	TypeRole:         {MetadataSubtypeKey, "description"},
	TypeConnection:   {MetadataSubtypeKey, "description", "connection_type"},
}

// ValidateMetadata rejects metadata keys outside the recognised set for the
// span type.
func ValidateMetadata(t Type, metadata map[string]string) error {
	allowed := recognisedMetadataKeys[t]
	for key := range metadata {
		found := false
		for _, a := range allowed {
			if key == a {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(errors.ErrInvalidRequest,
				"metadata key %q not recognised for span type %q", key, t)
		}
	}
	return nil
}

// Summary is the boundary representation of a span returned by query
// surfaces. Raw span rows never cross the access-filtering boundary.
type Summary struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    Type           `json:"type"`
	Subtype string         `json:"subtype,omitempty"`
	Start   *temporal.Date `json:"start,omitempty"`
	End     *temporal.Date `json:"end,omitempty"`
}

// Summarize converts a span to its boundary summary.
func (s *Span) Summarize() Summary {
	return Summary{
		ID:      s.ID,
		Name:    s.Name,
		Type:    s.Type,
		Subtype: s.Subtype(),
		Start:   s.Start,
		End:     s.End,
	}
}
