// Package store is the durable backing store for users, groups, messages,
// and ban records, backed by PostgreSQL. It is the only component that
// touches the database; the ban authority and router consume it through
// narrow interfaces.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/moderation"
)

// Store wraps the database handle with the operations the core needs.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN and verifies the
// connection before returning.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ioErr wraps a driver failure so callers can classify it as transient.
func ioErr(op string, err error) error {
	return fmt.Errorf("store: %s: %v: %w", op, err, errs.ErrUnavailable)
}

// UserExists reports whether a user id is known to the identity domain.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, ioErr("user exists", err)
	}
	return exists, nil
}

// GroupExists reports whether a group id exists.
func (s *Store) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return false, ioErr("group exists", err)
	}
	return exists, nil
}

// ListGroupMembers returns the user ids belonging to a group.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, ioErr("list group members", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ioErr("scan group member", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list group members", err)
	}
	return members, nil
}

// ListGroupsForUser returns the group ids the user belongs to.
func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, ioErr("list groups for user", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ioErr("scan group id", err)
		}
		groups = append(groups, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list groups for user", err)
	}
	return groups, nil
}

// AppendMessage persists a chat message.
func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, target_id, content, scope, is_file, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SenderID, m.TargetID, m.Content, string(m.Scope), m.IsFile, m.SentAt)
	if err != nil {
		return ioErr("append message", err)
	}
	return nil
}

// AppendBan persists a new ban record.
func (s *Store) AppendBan(ctx context.Context, b *moderation.Ban) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (id, user_id, banned_by, reason, scope, created_at, expires_at, active, reporter_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.BannedBy, string(b.Reason), b.Scope.String(),
		b.CreatedAt, b.ExpiresAt, b.Active, pq.Array(b.ReporterIDs))
	if err != nil {
		return ioErr("append ban", err)
	}
	return nil
}

// FindActiveBan returns the ban whose stored active flag is true for the
// exact (user, scope) pair, or nil when none exists. Expiry of the returned
// ban is the caller's concern.
func (s *Store) FindActiveBan(ctx context.Context, userID string, scope moderation.Scope) (*moderation.Ban, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, banned_by, reason, scope, created_at, expires_at, active, reporter_ids
		FROM bans
		WHERE user_id = $1 AND scope = $2 AND active
		LIMIT 1`,
		userID, scope.String())
	b, err := scanBan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("find active ban", err)
	}
	return b, nil
}

// GetBan returns the ban with the given id, or errs.ErrNotFound.
func (s *Store) GetBan(ctx context.Context, banID string) (*moderation.Ban, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, banned_by, reason, scope, created_at, expires_at, active, reporter_ids
		FROM bans WHERE id = $1`, banID)
	b, err := scanBan(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: ban %s: %w", banID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("get ban", err)
	}
	return b, nil
}

// DeactivateBan flips a ban's active flag to false (soft delete).
func (s *Store) DeactivateBan(ctx context.Context, banID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bans SET active = FALSE WHERE id = $1`, banID)
	if err != nil {
		return ioErr("deactivate ban", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: ban %s: %w", banID, errs.ErrNotFound)
	}
	return nil
}

// ListBans returns all ban records, newest first.
func (s *Store) ListBans(ctx context.Context) ([]*moderation.Ban, error) {
	return s.queryBans(ctx, `
		SELECT id, user_id, banned_by, reason, scope, created_at, expires_at, active, reporter_ids
		FROM bans ORDER BY created_at DESC`)
}

// ListBansForUser returns all ban records for one user, newest first.
func (s *Store) ListBansForUser(ctx context.Context, userID string) ([]*moderation.Ban, error) {
	return s.queryBans(ctx, `
		SELECT id, user_id, banned_by, reason, scope, created_at, expires_at, active, reporter_ids
		FROM bans WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Store) queryBans(ctx context.Context, query string, args ...interface{}) ([]*moderation.Ban, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr("list bans", err)
	}
	defer rows.Close()

	var bans []*moderation.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, ioErr("scan ban", err)
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list bans", err)
	}
	return bans, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBan(sc scanner) (*moderation.Ban, error) {
	var (
		b         moderation.Ban
		reason    string
		scopeStr  string
		expiresAt sql.NullTime
		reporters pq.StringArray
	)
	err := sc.Scan(&b.ID, &b.UserID, &b.BannedBy, &reason, &scopeStr,
		&b.CreatedAt, &expiresAt, &b.Active, &reporters)
	if err != nil {
		return nil, err
	}
	b.Reason = moderation.Reason(reason)
	scope, err := moderation.ParseScope(scopeStr)
	if err != nil {
		return nil, fmt.Errorf("stored scope: %w", err)
	}
	b.Scope = scope
	if expiresAt.Valid {
		t := expiresAt.Time
		b.ExpiresAt = &t
	}
	b.ReporterIDs = []string(reporters)
	return &b, nil
}
