package auth

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
)

// CredentialRepository persists issued client tokens (hash-only).
type CredentialRepository interface {
	Create(cred *Credential) error
	GetByTokenHash(hash string) (*Credential, error)
	GetActiveByClient(clientID string) (*Credential, error)
	RevokeAllForClient(clientID, reason string) (int, error)
	DeleteDefunct(before string) (int64, error)
}

// SQLiteCredentialRepository is the SQLite-backed CredentialRepository.
type SQLiteCredentialRepository struct {
	db *database.DB
}

// NewCredentialRepository creates a SQLite-backed credential repository.
func NewCredentialRepository(db *database.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

// Create inserts a credential and its area scopes in one transaction.
func (r *SQLiteCredentialRepository) Create(cred *Credential) error {
	if cred.ID == "" {
		cred.ID = "crd-" + uuid.NewString()[:16]
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = database.NowUTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning credential insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO credentials (id, client_id, token_hash, issued_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, 0)`,
		cred.ID, cred.ClientID, cred.TokenHash,
		database.FormatTime(cred.IssuedAt), database.FormatTime(cred.ExpiresAt),
	); err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	for _, areaID := range cred.Areas {
		if _, err := tx.Exec(
			"INSERT INTO credential_scopes (credential_id, area_id) VALUES (?, ?)",
			cred.ID, areaID,
		); err != nil {
			return fmt.Errorf("inserting credential scope: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential insert: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a credential by token hash, with its scopes.
func (r *SQLiteCredentialRepository) GetByTokenHash(hash string) (*Credential, error) {
	return r.getOne(`
		SELECT id, client_id, token_hash, issued_at, expires_at, revoked, revoked_at, revoked_reason
		FROM credentials WHERE token_hash = ?`, hash)
}

// GetActiveByClient retrieves the client's current (unrevoked) credential.
func (r *SQLiteCredentialRepository) GetActiveByClient(clientID string) (*Credential, error) {
	return r.getOne(`
		SELECT id, client_id, token_hash, issued_at, expires_at, revoked, revoked_at, revoked_reason
		FROM credentials
		WHERE client_id = ? AND revoked = 0
		ORDER BY issued_at DESC LIMIT 1`, clientID)
}

// RevokeAllForClient revokes every unrevoked credential a client holds and
// returns how many were affected. Zero is not an error; revocation is
// idempotent.
func (r *SQLiteCredentialRepository) RevokeAllForClient(clientID, reason string) (int, error) {
	res, err := r.db.Exec(`
		UPDATE credentials
		SET revoked = 1, revoked_at = ?, revoked_reason = ?
		WHERE client_id = ? AND revoked = 0`,
		database.FormatTime(database.NowUTC()), database.NullString(reason), clientID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteDefunct removes revoked or expired credentials older than the
// given RFC3339 cutoff. Used by the retention sweep.
func (r *SQLiteCredentialRepository) DeleteDefunct(before string) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM credentials
		WHERE (revoked = 1 AND revoked_at < ?) OR expires_at < ?`,
		before, before,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting defunct credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteCredentialRepository) getOne(query string, arg any) (*Credential, error) {
	var (
		c         Credential
		issuedAt  string
		expiresAt string
		revoked   int
		revokedAt sql.NullString
		reason    sql.NullString
	)

	err := r.db.QueryRow(query, arg).Scan(
		&c.ID, &c.ClientID, &c.TokenHash, &issuedAt, &expiresAt, &revoked, &revokedAt, &reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	c.Revoked = revoked == 1
	c.RevokedReason = reason.String

	if c.IssuedAt, err = database.ParseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	if c.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if revokedAt.Valid {
		t, err := database.ParseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		c.RevokedAt = &t
	}

	if c.Areas, err = r.scopes(c.ID); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *SQLiteCredentialRepository) scopes(credentialID string) ([]string, error) {
	rows, err := r.db.Query(
		"SELECT area_id FROM credential_scopes WHERE credential_id = ? ORDER BY area_id",
		credentialID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading credential scopes: %w", err)
	}
	defer rows.Close()

	var areas []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning scope: %w", err)
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}
