package access

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// Store persists actors, groups, memberships and grants.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	mu        sync.Mutex
	listeners []func()
}

// NewStore creates a new access store. Logger may be nil for silent operation.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

// OnChange registers fn to run after every mutation that can alter what an
// actor may see: grants, revokes, membership and group changes.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notifyChanged() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// CreateActor inserts a new actor.
func (s *Store) CreateActor(ctx context.Context, actor *Actor) error {
	if actor.ID == "" {
		actor.ID = uuid.New().String()
	}
	actor.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, name, admin, personal_span_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		actor.ID, actor.Name, actor.Admin,
		sql.NullString{String: actor.PersonalSpanID, Valid: actor.PersonalSpanID != ""},
		actor.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create actor")
	}
	return nil
}

// GetActor retrieves an actor by ID.
func (s *Store) GetActor(ctx context.Context, id string) (*Actor, error) {
	var actor Actor
	var personalSpanID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, admin, personal_span_id, created_at
		FROM actors WHERE id = ?`, id,
	).Scan(&actor.ID, &actor.Name, &actor.Admin, &personalSpanID, &actor.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("actor %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get actor")
	}
	actor.PersonalSpanID = personalSpanID.String
	return &actor, nil
}

// CreateGroup inserts a new group.
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	group.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actor_groups (id, name, owner_id, created_at)
		VALUES (?, ?, ?, ?)`,
		group.ID, group.Name, group.OwnerID, group.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create group")
	}
	return nil
}

// DeleteGroup removes a group. Memberships and grants referencing the group
// cascade away, which revokes every permission that flowed through it.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM actor_groups WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete group")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("group %s", id)
	}
	s.notifyChanged()
	return nil
}

// AddMember adds an actor to a group. Takes effect immediately for every
// grant referencing the group.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, user_id, created_at)
		VALUES (?, ?, ?)`,
		groupID, userID, time.Now(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to add group member")
	}
	s.notifyChanged()
	return nil
}

// RemoveMember removes an actor from a group. No grant rows change; the
// permissions that flowed through the group simply stop resolving.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to remove group member")
	}
	s.notifyChanged()
	return nil
}

// Grant records a permission grant. Granting an already-granted permission
// is a no-op, not an error: the natural key is unique and the insert is
// create-if-absent.
func (s *Store) Grant(ctx context.Context, grant *Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	grant.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO grants (id, span_id, user_id, group_id, permission, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		grant.ID, grant.SpanID,
		sql.NullString{String: grant.UserID, Valid: grant.UserID != ""},
		sql.NullString{String: grant.GroupID, Valid: grant.GroupID != ""},
		grant.Permission, grant.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create grant")
	}

	if s.logger != nil {
		s.logger.Debugw("Granted permission",
			"span", grant.SpanID,
			"user", grant.UserID,
			"group", grant.GroupID,
			"permission", grant.Permission,
		)
	}
	s.notifyChanged()
	return nil
}

// Revoke removes a grant by its natural key (span, grantee, permission).
// Revoking a grant that does not exist is a no-op.
func (s *Store) Revoke(ctx context.Context, grant *Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM grants
		WHERE span_id = ?
		  AND COALESCE(user_id, '') = ?
		  AND COALESCE(group_id, '') = ?
		  AND permission = ?`,
		grant.SpanID, grant.UserID, grant.GroupID, grant.Permission,
	)
	if err != nil {
		return errors.Wrap(err, "failed to revoke grant")
	}
	s.notifyChanged()
	return nil
}

// GrantsForSpan lists all grants targeting a span.
func (s *Store) GrantsForSpan(ctx context.Context, spanID string) ([]*Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, span_id, user_id, group_id, permission, created_at
		FROM grants WHERE span_id = ? ORDER BY created_at`,
		spanID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list grants")
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var g Grant
		var userID, groupID sql.NullString
		if err := rows.Scan(&g.ID, &g.SpanID, &userID, &groupID, &g.Permission, &g.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan grant")
		}
		g.UserID = userID.String
		g.GroupID = groupID.String
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// hasDirectGrant reports whether a grant row exists for the user themselves.
func (s *Store) hasDirectGrant(ctx context.Context, spanID, userID string, perm Permission) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM grants
			WHERE span_id = ? AND user_id = ? AND permission = ?
		)`,
		spanID, userID, perm,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check direct grant")
	}
	return exists, nil
}

// hasGroupGrant reports whether a grant row exists for any group the user is
// currently a member of. Membership is joined live and the join is driven by
// the user-keyed membership index, keeping the check O(1) amortized.
func (s *Store) hasGroupGrant(ctx context.Context, spanID, userID string, perm Permission) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM group_members gm
			JOIN grants g ON g.group_id = gm.group_id
			WHERE gm.user_id = ? AND g.span_id = ? AND g.permission = ?
		)`,
		userID, spanID, perm,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check group grant")
	}
	return exists, nil
}
