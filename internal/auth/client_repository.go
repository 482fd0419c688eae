package auth

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
)

// ClientRepository persists paired devices.
type ClientRepository interface {
	Create(client *Client) error
	GetByID(id string) (*Client, error)
	List() ([]*Client, error)
	Revoke(id, reason string) error
	Delete(id string) error
	TouchLastSeen(id string) error
}

// SQLiteClientRepository is the SQLite-backed ClientRepository.
type SQLiteClientRepository struct {
	db *database.DB
}

// NewClientRepository creates a SQLite-backed client repository.
func NewClientRepository(db *database.DB) *SQLiteClientRepository {
	return &SQLiteClientRepository{db: db}
}

// Create inserts a new paired client.
func (r *SQLiteClientRepository) Create(client *Client) error {
	if client.ID == "" {
		client.ID = "cli-" + uuid.NewString()[:16]
	}
	if client.PairedAt.IsZero() {
		client.PairedAt = database.NowUTC()
	}
	if client.Status == "" {
		client.Status = ClientActive
	}

	_, err := r.db.Exec(`
		INSERT INTO clients (id, name, device_info, status, paired_at)
		VALUES (?, ?, ?, ?, ?)`,
		client.ID, client.Name, database.NullString(client.DeviceInfo),
		string(client.Status), database.FormatTime(client.PairedAt),
	)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	return nil
}

// GetByID retrieves a client by ID.
func (r *SQLiteClientRepository) GetByID(id string) (*Client, error) {
	row := r.db.QueryRow(`
		SELECT id, name, device_info, status, paired_at, last_seen_at, revoked_at, revoked_reason
		FROM clients WHERE id = ?`, id)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	return c, err
}

// List returns all clients, most recently paired first.
func (r *SQLiteClientRepository) List() ([]*Client, error) {
	rows, err := r.db.Query(`
		SELECT id, name, device_info, status, paired_at, last_seen_at, revoked_at, revoked_reason
		FROM clients ORDER BY paired_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Revoke marks an active client revoked. Revoking an already revoked
// client is a no-op success so retried admin actions stay idempotent.
func (r *SQLiteClientRepository) Revoke(id, reason string) error {
	res, err := r.db.Exec(`
		UPDATE clients
		SET status = ?, revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND status = ?`,
		string(ClientRevoked), database.FormatTime(database.NowUTC()),
		database.NullString(reason), id, string(ClientActive),
	)
	if err != nil {
		return fmt.Errorf("revoking client: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing from already-revoked.
		if _, err := r.GetByID(id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a client and, via cascade, its credentials and scopes.
func (r *SQLiteClientRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM clients WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}
	return nil
}

// TouchLastSeen stamps the client's last connection time.
func (r *SQLiteClientRepository) TouchLastSeen(id string) error {
	_, err := r.db.Exec(
		"UPDATE clients SET last_seen_at = ? WHERE id = ?",
		database.FormatTime(database.NowUTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		c          Client
		status     string
		deviceInfo sql.NullString
		pairedAt   string
		lastSeen   sql.NullString
		revokedAt  sql.NullString
		reason     sql.NullString
	)

	err := row.Scan(&c.ID, &c.Name, &deviceInfo, &status, &pairedAt, &lastSeen, &revokedAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning client: %w", err)
	}

	c.Status = ClientStatus(status)
	c.DeviceInfo = deviceInfo.String
	c.RevokedReason = reason.String

	if c.PairedAt, err = database.ParseTime(pairedAt); err != nil {
		return nil, fmt.Errorf("parsing paired_at: %w", err)
	}
	if lastSeen.Valid {
		t, err := database.ParseTime(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen_at: %w", err)
		}
		c.LastSeenAt = &t
	}
	if revokedAt.Valid {
		t, err := database.ParseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		c.RevokedAt = &t
	}

	return &c, nil
}
