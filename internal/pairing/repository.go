package pairing

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
)

// SessionRepository persists pairing sessions. The compare-and-set
// transition methods are the concurrency primitive the manager builds on:
// each guards on the expected current status so exactly one caller wins a
// racing transition.
type SessionRepository interface {
	Create(s *Session) error
	GetByID(id string) (*Session, error)
	List() ([]*Session, error)
	ListPending() ([]*Session, error)
	IncrementAttempts(id string) (int, error)
	RecordDeviceInfo(id, deviceName, deviceType string) error
	MarkVerified(id string) error
	MarkCompleted(id string) error
	MarkLocked(id string) error
	Cancel(id string) error
	ExpireOverdue() (int64, error)
	DeleteFinished(before string) (int64, error)
}

// SQLiteSessionRepository is the SQLite-backed SessionRepository.
type SQLiteSessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a SQLite-backed session repository.
func NewSessionRepository(db *database.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a session and its requested area scopes.
func (r *SQLiteSessionRepository) Create(s *Session) error {
	if s.ID == "" {
		s.ID = "pair-" + uuid.NewString()[:16]
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = database.NowUTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning session insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO pairing_sessions
			(id, pin_hash, device_name, device_type, status, attempts, max_attempts, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PINHash, s.DeviceName, s.DeviceType, string(s.Status), s.Attempts, s.MaxAttempts,
		s.CreatedBy, database.FormatTime(s.CreatedAt), database.FormatTime(s.ExpiresAt),
	); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for _, areaID := range s.Areas {
		if _, err := tx.Exec(
			"INSERT INTO pairing_session_areas (session_id, area_id) VALUES (?, ?)",
			s.ID, areaID,
		); err != nil {
			return fmt.Errorf("inserting session area: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session insert: %w", err)
	}
	return nil
}

const sessionColumns = `
	id, pin_hash, device_name, device_type, status, attempts, max_attempts,
	created_by, created_at, expires_at, verified_at, completed_at`

// GetByID retrieves a session by ID.
func (r *SQLiteSessionRepository) GetByID(id string) (*Session, error) {
	s, err := r.scanOne(r.db.QueryRow(
		"SELECT"+sessionColumns+" FROM pairing_sessions WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if s.Areas, err = r.areas(s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns all sessions, newest first.
func (r *SQLiteSessionRepository) List() ([]*Session, error) {
	return r.query("SELECT" + sessionColumns + " FROM pairing_sessions ORDER BY created_at DESC")
}

// ListPending returns sessions still awaiting PIN verification.
func (r *SQLiteSessionRepository) ListPending() ([]*Session, error) {
	return r.query("SELECT" + sessionColumns + " FROM pairing_sessions WHERE status = 'pending' ORDER BY created_at")
}

// IncrementAttempts bumps the failed-attempt counter and returns the new
// count.
func (r *SQLiteSessionRepository) IncrementAttempts(id string) (int, error) {
	if _, err := r.db.Exec(
		"UPDATE pairing_sessions SET attempts = attempts + 1 WHERE id = ?", id,
	); err != nil {
		return 0, fmt.Errorf("incrementing attempts: %w", err)
	}

	var attempts int
	if err := r.db.QueryRow(
		"SELECT attempts FROM pairing_sessions WHERE id = ?", id,
	).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading attempts: %w", err)
	}
	return attempts, nil
}

// RecordDeviceInfo stores the name and type a device announced about
// itself during PIN verification. Empty values leave the existing
// columns untouched so an admin-supplied label is not blanked.
func (r *SQLiteSessionRepository) RecordDeviceInfo(id, deviceName, deviceType string) error {
	if _, err := r.db.Exec(`
		UPDATE pairing_sessions
		SET device_name = CASE WHEN ? != '' THEN ? ELSE device_name END,
		    device_type = CASE WHEN ? != '' THEN ? ELSE device_type END
		WHERE id = ?`,
		deviceName, deviceName, deviceType, deviceType, id,
	); err != nil {
		return fmt.Errorf("recording device info: %w", err)
	}
	return nil
}

// MarkVerified transitions pending -> verified. Returns
// ErrSessionNotPending if another caller transitioned the session first.
func (r *SQLiteSessionRepository) MarkVerified(id string) error {
	return r.transition(id, StatusPending, StatusVerified, "verified_at", ErrSessionNotPending)
}

// MarkCompleted transitions verified -> completed.
func (r *SQLiteSessionRepository) MarkCompleted(id string) error {
	return r.transition(id, StatusVerified, StatusCompleted, "completed_at", ErrSessionNotVerified)
}

// MarkLocked transitions pending -> locked after attempt exhaustion.
func (r *SQLiteSessionRepository) MarkLocked(id string) error {
	return r.transition(id, StatusPending, StatusLocked, "", ErrSessionNotPending)
}

// Cancel transitions pending -> cancelled.
func (r *SQLiteSessionRepository) Cancel(id string) error {
	return r.transition(id, StatusPending, StatusCancelled, "", ErrSessionNotPending)
}

func (r *SQLiteSessionRepository) transition(id string, from, to SessionStatus, stampCol string, mismatch error) error {
	query := "UPDATE pairing_sessions SET status = ?"
	args := []any{string(to)}
	if stampCol != "" {
		query += ", " + stampCol + " = ?"
		args = append(args, database.FormatTime(database.NowUTC()))
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, string(from))

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("transitioning session to %s: %w", to, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(id); err != nil {
			return err
		}
		return mismatch
	}
	return nil
}

// ExpireOverdue marks every pending or verified session whose PIN
// lifetime has lapsed. A session that was verified in time but never
// completed times out like any other.
func (r *SQLiteSessionRepository) ExpireOverdue() (int64, error) {
	res, err := r.db.Exec(
		"UPDATE pairing_sessions SET status = 'expired' WHERE status IN ('pending', 'verified') AND expires_at < ?",
		database.FormatTime(database.NowUTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteFinished removes terminal sessions created before the RFC3339
// cutoff. Pending and verified sessions are never deleted.
func (r *SQLiteSessionRepository) DeleteFinished(before string) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM pairing_sessions
		WHERE status IN ('completed', 'expired', 'locked', 'cancelled') AND created_at < ?`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting finished sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteSessionRepository) query(q string) ([]*Session, error) {
	rows, err := r.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range sessions {
		if s.Areas, err = r.areas(s.ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteSessionRepository) scanOne(row rowScanner) (*Session, error) {
	var (
		s           Session
		status      string
		createdAt   string
		expiresAt   string
		verifiedAt  sql.NullString
		completedAt sql.NullString
	)

	err := row.Scan(
		&s.ID, &s.PINHash, &s.DeviceName, &s.DeviceType, &status, &s.Attempts, &s.MaxAttempts,
		&s.CreatedBy, &createdAt, &expiresAt, &verifiedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	s.Status = SessionStatus(status)
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if verifiedAt.Valid {
		t, err := database.ParseTime(verifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing verified_at: %w", err)
		}
		s.VerifiedAt = &t
	}
	if completedAt.Valid {
		t, err := database.ParseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		s.CompletedAt = &t
	}

	return &s, nil
}

func (r *SQLiteSessionRepository) areas(sessionID string) ([]string, error) {
	rows, err := r.db.Query(
		"SELECT area_id FROM pairing_session_areas WHERE session_id = ? ORDER BY area_id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading session areas: %w", err)
	}
	defer rows.Close()

	var areas []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning session area: %w", err)
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}
