package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/finchat-io/finchat/internal/assistant"
)

// CachedSession is a session row in the local history cache, with the
// time it was last refreshed from the backend.
type CachedSession struct {
	assistant.Session
	SyncedAt time.Time
}

// SessionStore caches the backend's session list so `finchat sessions`
// has something to show when the backend is unreachable.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// DB returns the underlying database connection.
func (s *SessionStore) DB() *sql.DB {
	return s.db
}

// Upsert inserts or refreshes one cached session, keyed by id.
func (s *SessionStore) Upsert(ctx context.Context, sess assistant.Session, syncedAt time.Time) error {
	var lastMessageAt *string
	if sess.LastMessageAt != nil {
		v := sess.LastMessageAt.UTC().Format(time.RFC3339Nano)
		lastMessageAt = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, is_active, message_count, last_message_at, created_at, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   is_active = excluded.is_active,
		   message_count = excluded.message_count,
		   last_message_at = excluded.last_message_at,
		   synced_at = excluded.synced_at`,
		sess.ID, sess.Title, sess.IsActive, sess.MessageCount, lastMessageAt,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano), syncedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SyncAll replaces the cache with the backend's session list. Sessions
// the backend no longer reports are dropped along with their messages.
func (s *SessionStore) SyncAll(ctx context.Context, sessions []assistant.Session, syncedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	synced := syncedAt.UTC().Format(time.RFC3339Nano)
	for _, sess := range sessions {
		var lastMessageAt *string
		if sess.LastMessageAt != nil {
			v := sess.LastMessageAt.UTC().Format(time.RFC3339Nano)
			lastMessageAt = &v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, title, is_active, message_count, last_message_at, created_at, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   title = excluded.title,
			   is_active = excluded.is_active,
			   message_count = excluded.message_count,
			   last_message_at = excluded.last_message_at,
			   synced_at = excluded.synced_at`,
			sess.ID, sess.Title, sess.IsActive, sess.MessageCount, lastMessageAt,
			sess.CreatedAt.UTC().Format(time.RFC3339Nano), synced,
		); err != nil {
			return fmt.Errorf("sync sessions: %w", err)
		}
	}

	if len(sessions) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("sync sessions: %w", err)
		}
	} else {
		placeholders := make([]string, len(sessions))
		args := make([]any, len(sessions))
		for i, sess := range sessions {
			placeholders[i] = "?"
			args[i] = sess.ID
		}
		query := `DELETE FROM sessions WHERE id NOT IN (` + strings.Join(placeholders, ", ") + `)`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sync sessions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}
	return nil
}

// List returns all cached sessions, most recently active first.
func (s *SessionStore) List(ctx context.Context) ([]CachedSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, is_active, message_count, last_message_at, created_at, synced_at
		 FROM sessions ORDER BY COALESCE(last_message_at, created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []CachedSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// Get retrieves one cached session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*CachedSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, is_active, message_count, last_message_at, created_at, synced_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Delete removes a cached session and, via the foreign key, its messages.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*CachedSession, error) {
	var cs CachedSession
	var lastMessageAt, createdAt, syncedAt *string

	err := sc.Scan(&cs.ID, &cs.Title, &cs.IsActive, &cs.MessageCount, &lastMessageAt, &createdAt, &syncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	cs.LastMessageAt = parseTime(lastMessageAt)
	if t := parseTime(createdAt); t != nil {
		cs.CreatedAt = *t
	}
	if t := parseTime(syncedAt); t != nil {
		cs.SyncedAt = *t
	}
	return &cs, nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
