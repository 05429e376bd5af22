package span

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/temporal"
)

// Store persists spans and connections in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	mu        sync.Mutex
	listeners []func()
}

// NewStore creates a new span store. Logger may be nil for silent operation.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

// OnChange registers fn to run after every successful mutation. Cache layers
// register here so writes drop entries that may now be stale.
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

const spanSelectColumns = `id, slug, name, type, state, access_level, owner_id, personal,
	start_date, end_date, metadata, created_at, updated_at`

// Create inserts a new span. A missing ID or slug is generated.
func (s *Store) Create(ctx context.Context, sp *Span) error {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	if sp.Slug == "" {
		sp.Slug = Slugify(sp.Name)
	}
	if sp.State == "" {
		sp.State = StateDraft
	}
	if sp.AccessLevel == "" {
		sp.AccessLevel = AccessPrivate
	}
	if err := sp.Validate(); err != nil {
		return err
	}

	now := time.Now()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	metadataJSON, err := marshalMetadata(sp.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (id, slug, name, type, state, access_level, owner_id, personal,
			start_date, end_date, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Slug, sp.Name, sp.Type, sp.State, sp.AccessLevel, sp.OwnerID, sp.Personal,
		dateColumn(sp.Start), dateColumn(sp.End), metadataJSON, sp.CreatedAt, sp.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(errors.ErrConflict, "slug %q already exists", sp.Slug)
		}
		return errors.Wrap(err, "failed to create span")
	}

	if s.logger != nil {
		s.logger.Debugw("Created span", "id", sp.ID, "slug", sp.Slug, "type", sp.Type)
	}
	s.notifyChanged()
	return nil
}

// CreateIfAbsent inserts a span unless one with the same slug already exists.
// Returns true when a row was created. Safe to repeat, which makes bulk
// import chunks idempotent.
func (s *Store) CreateIfAbsent(ctx context.Context, sp *Span) (bool, error) {
	err := s.Create(ctx, sp)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errors.ErrConflict) {
		return false, nil
	}
	return false, err
}

// GetByID retrieves a span by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*Span, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spanSelectColumns+` FROM spans WHERE id = ?`, id)
	return scanSpan(row)
}

// GetBySlug retrieves a span by its slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Span, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spanSelectColumns+` FROM spans WHERE slug = ?`, slug)
	return scanSpan(row)
}

// Update rewrites a span's mutable fields in a single-row transaction.
func (s *Store) Update(ctx context.Context, sp *Span) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	sp.UpdatedAt = time.Now()

	metadataJSON, err := marshalMetadata(sp.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE spans
		SET slug = ?, name = ?, type = ?, state = ?, access_level = ?,
		    owner_id = ?, personal = ?, start_date = ?, end_date = ?,
		    metadata = ?, updated_at = ?
		WHERE id = ?`,
		sp.Slug, sp.Name, sp.Type, sp.State, sp.AccessLevel,
		sp.OwnerID, sp.Personal, dateColumn(sp.Start), dateColumn(sp.End),
		metadataJSON, sp.UpdatedAt, sp.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update span")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("span %s", sp.ID)
	}
	s.notifyChanged()
	return nil
}

// Delete removes a span outright. Spans referenced by any connection cannot
// be deleted; they are versioned instead (see maintenance jobs).
func (s *Store) Delete(ctx context.Context, id string) error {
	count, err := s.CountConnections(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.Wrapf(errors.ErrConflict,
			"span %s is referenced by %d connections", id, count)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM spans WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete span")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("span %s", id)
	}
	s.notifyChanged()
	return nil
}

// ListFilter narrows List results. All fields are optional.
type ListFilter struct {
	Type    Type
	Subtype string
	OwnerID string
	State   State
	Limit   int
}

// List returns spans matching the filter, ordered by start date ascending
// with undated placeholders last.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Span, error) {
	var where []string
	var args []interface{}

	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Subtype != "" {
		where = append(where, "json_extract(metadata, '$.subtype') = ?")
		args = append(args, filter.Subtype)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}

	query := `SELECT ` + spanSelectColumns + ` FROM spans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date IS NULL, start_date ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list spans")
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// CreateConnection validates structural constraints against the type
// definition and inserts the connection plus its connection span in one
// transaction.
func (s *Store) CreateConnection(ctx context.Context, conn *Connection, connSpan *Span) error {
	ct, err := LookupConnectionType(conn.Type)
	if err != nil {
		return err
	}

	subject, err := s.GetByID(ctx, conn.SubjectID)
	if err != nil {
		return errors.Wrap(err, "connection subject")
	}
	object, err := s.GetByID(ctx, conn.ObjectID)
	if err != nil {
		return errors.Wrap(err, "connection object")
	}
	if err := ct.ValidateEndpoints(subject, object); err != nil {
		return err
	}

	if !ct.AllowsMultiple {
		var existing int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM connections WHERE type = ? AND subject_id = ?`,
			conn.Type, conn.SubjectID,
		).Scan(&existing)
		if err != nil {
			return errors.Wrap(err, "failed to count existing connections")
		}
		if existing > 0 {
			return errors.Wrapf(errors.ErrConflict,
				"connection type %q allows a single instance per subject", conn.Type)
		}
	}

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	conn.CreatedAt = time.Now()

	connSpan.Type = TypeConnection
	if connSpan.OwnerID == "" {
		connSpan.OwnerID = subject.OwnerID
	}
	if err := s.Create(ctx, connSpan); err != nil {
		return errors.Wrap(err, "connection span")
	}
	conn.SpanID = connSpan.ID

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (id, type, subject_id, object_id, span_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Type, conn.SubjectID, conn.ObjectID, conn.SpanID, conn.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create connection")
	}

	if s.logger != nil {
		s.logger.Debugw("Created connection",
			"id", conn.ID, "type", conn.Type,
			"subject", conn.SubjectID, "object", conn.ObjectID,
		)
	}
	s.notifyChanged()
	return nil
}

// DeleteConnection removes a connection and its connection span.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	var spanID string
	err := s.db.QueryRowContext(ctx,
		`SELECT span_id FROM connections WHERE id = ?`, id).Scan(&spanID)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("connection %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to get connection")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete connection")
	}
	// The connection span is now unreferenced and can go with it.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spans WHERE id = ?`, spanID); err != nil {
		return errors.Wrap(err, "failed to delete connection span")
	}
	s.notifyChanged()
	return nil
}

// ConnectionsForSpan lists connections where the span is subject or object.
func (s *Store) ConnectionsForSpan(ctx context.Context, spanID string) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, subject_id, object_id, span_id, created_at
		FROM connections
		WHERE subject_id = ? OR object_id = ?
		ORDER BY created_at`,
		spanID, spanID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list connections")
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.Type, &c.SubjectID, &c.ObjectID, &c.SpanID, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan connection")
		}
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}

// CountConnections returns how many connections reference the span as
// subject, object or connection span.
func (s *Store) CountConnections(ctx context.Context, spanID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connections
		WHERE subject_id = ? OR object_id = ? OR span_id = ?`,
		spanID, spanID, spanID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count connections")
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSpan(row scannable) (*Span, error) {
	var sp Span
	var start, end sql.NullString
	var metadataJSON string

	err := row.Scan(
		&sp.ID, &sp.Slug, &sp.Name, &sp.Type, &sp.State, &sp.AccessLevel,
		&sp.OwnerID, &sp.Personal, &start, &end, &metadataJSON,
		&sp.CreatedAt, &sp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "span")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan span")
	}

	if start.Valid {
		d, err := temporal.ParseLenient(start.String)
		if err != nil {
			return nil, errors.Wrapf(err, "span %s start date", sp.ID)
		}
		sp.Start = &d
	}
	if end.Valid {
		d, err := temporal.ParseLenient(end.String)
		if err != nil {
			return nil, errors.Wrapf(err, "span %s end date", sp.ID)
		}
		sp.End = &d
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &sp.Metadata); err != nil {
			return nil, errors.Wrapf(err, "span %s metadata", sp.ID)
		}
	}
	return &sp, nil
}

func dateColumn(d *temporal.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	return string(data), nil
}

// Slugify lowercases a name and folds runs of non-alphanumerics to hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
