// Package access decides who may see or change a span. Permission checks
// combine ownership, the span's visibility level, and layered grants to
// users and groups. Group membership is resolved live at check time, never
// cached into grants, so a membership change revokes flowed permissions
// instantly.
package access

import (
	"time"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// Permission names an operation a grant can allow. View and edit are
// independent: neither ever implies the other, so callers wanting "can see
// or change" check both explicitly.
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// IsValidPermission returns true if the string is a recognised permission.
func IsValidPermission(s string) bool {
	switch Permission(s) {
	case PermissionView, PermissionEdit:
		return true
	default:
		return false
	}
}

// Actor is an authenticated identity. A nil *Actor means anonymous.
type Actor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Admin          bool      `json:"admin"`
	PersonalSpanID string    `json:"personal_span_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Group is a named set of actor memberships.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant ties one grantee (a user or a group, exactly one) to one span and
// one permission. Effective permission on a span is the union of all grants
// targeting it.
type Grant struct {
	ID         string     `json:"id"`
	SpanID     string     `json:"span_id"`
	UserID     string     `json:"user_id,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks the grant's structural invariants.
func (g *Grant) Validate() error {
	if g.SpanID == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "grant requires a span")
	}
	if (g.UserID == "") == (g.GroupID == "") {
		return errors.Wrap(errors.ErrInvalidRequest,
			"grant requires exactly one of user or group grantee")
	}
	if !IsValidPermission(string(g.Permission)) {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown permission %q", g.Permission)
	}
	return nil
}
