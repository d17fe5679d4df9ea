// Package store persists session and room records in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_uuid       TEXT PRIMARY KEY,
	upstream_id        TEXT NOT NULL DEFAULT '',
	embed_url          TEXT NOT NULL DEFAULT '',
	admin_token        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	last_accessed      TIMESTAMP NOT NULL,
	is_active          INTEGER NOT NULL DEFAULT 1,
	termination_reason TEXT NOT NULL DEFAULT '',
	width              INTEGER NOT NULL DEFAULT 0,
	height             INTEGER NOT NULL DEFAULT 0,
	start_url          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions (is_active, created_at);

CREATE TABLE IF NOT EXISTS rooms (
	code         TEXT PRIMARY KEY,
	session_uuid TEXT NOT NULL,
	label        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// schema. Use ":memory:" for throwaway databases in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// sqlite has a single writer; one pooled connection keeps the
	// admission INSERT serialized and makes :memory: databases behave.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Reserve inserts the session row only if the number of currently
// active rows is below limit, as a single statement. That is the
// admission decision: there is no separate count step to race against.
// A limit of zero or less means unlimited.
func (s *Store) Reserve(ctx context.Context, sess *domain.Session, limit int) error {
	if limit <= 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_uuid, created_at, last_accessed, is_active, width, height, start_url)
			VALUES (?, ?, ?, 1, ?, ?, ?)`,
			sess.UUID, sess.CreatedAt, sess.LastAccessed, sess.Meta.Width, sess.Meta.Height, sess.Meta.StartURL)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", sess.UUID, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_uuid, created_at, last_accessed, is_active, width, height, start_url)
		SELECT ?, ?, ?, 1, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM sessions WHERE is_active = 1) < ?`,
		sess.UUID, sess.CreatedAt, sess.LastAccessed, sess.Meta.Width, sess.Meta.Height, sess.Meta.StartURL, limit)
	if err != nil {
		return fmt.Errorf("reserve session %s: %w", sess.UUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve session %s: %w", sess.UUID, err)
	}
	if n == 0 {
		return domain.CapacityError{Limit: limit}
	}
	return nil
}

// Finalize fills the upstream fields of a reserved row once the
// provisioning call succeeded.
func (s *Store) Finalize(ctx context.Context, uuid, upstreamID, embedURL, adminToken string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET upstream_id = ?, embed_url = ?, admin_token = ?
		WHERE session_uuid = ? AND is_active = 1`,
		upstreamID, embedURL, adminToken, uuid)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", uuid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFoundActive
	}
	return nil
}

// Release drops a reservation whose upstream provisioning failed, so
// no record survives a failed creation.
func (s *Store) Release(ctx context.Context, uuid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_uuid = ?`, uuid); err != nil {
		return fmt.Errorf("release session %s: %w", uuid, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, uuid string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_uuid, upstream_id, embed_url, admin_token, created_at, last_accessed,
		       is_active, termination_reason, width, height, start_url
		FROM sessions WHERE session_uuid = ?`, uuid)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", uuid, err)
	}
	return sess, nil
}

// Touch advances last_accessed; it never moves the timestamp backwards.
func (s *Store) Touch(ctx context.Context, uuid string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_accessed = ?
		WHERE session_uuid = ? AND is_active = 1 AND last_accessed < ?`,
		now, uuid, now)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", uuid, err)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_uuid, upstream_id, embed_url, admin_token, created_at, last_accessed,
		       is_active, termination_reason, width, height, start_url
		FROM sessions WHERE is_active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active session: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return out, nil
}

// Deactivate is the only way is_active goes false. The conditional
// WHERE serializes racing terminations: exactly one caller flips the
// flag, everyone else gets ErrNotFoundActive.
func (s *Store) Deactivate(ctx context.Context, uuid, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = 0, last_accessed = ?, termination_reason = ?
		WHERE session_uuid = ? AND is_active = 1`,
		now, reason, uuid)
	if err != nil {
		return fmt.Errorf("deactivate session %s: %w", uuid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate session %s: %w", uuid, err)
	}
	if n == 0 {
		return domain.ErrNotFoundActive
	}
	log.Info().Str("module", "store").Str("session", uuid).Str("reason", reason).Msg("session deactivated")
	return nil
}

func (s *Store) InsertRoom(ctx context.Context, room *domain.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (code, session_uuid, label, created_at) VALUES (?, ?, ?, ?)`,
		room.Code, room.SessionUUID, room.Label, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert room %s: %w", room.Code, err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := s.db.QueryRowContext(ctx, `
		SELECT code, session_uuid, label, created_at FROM rooms WHERE code = ?`, code).
		Scan(&room.Code, &room.SessionUUID, &room.Label, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}
	return &room, nil
}

func (s *Store) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE code = ?`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check room code %s: %w", code, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var active int
	if err := r.Scan(&sess.UUID, &sess.UpstreamID, &sess.EmbedURL, &sess.AdminToken,
		&sess.CreatedAt, &sess.LastAccessed, &active, &sess.Reason,
		&sess.Meta.Width, &sess.Meta.Height, &sess.Meta.StartURL); err != nil {
		return nil, err
	}
	sess.Active = active == 1
	return &sess, nil
}
