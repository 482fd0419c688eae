package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
)

// UserRepository persists administrative accounts.
type UserRepository interface {
	Create(user *User) error
	GetByID(id string) (*User, error)
	GetByUsername(username string) (*User, error)
	UpdateLastLogin(id string) error
	Count() (int, error)
}

// SQLiteUserRepository is the SQLite-backed UserRepository.
type SQLiteUserRepository struct {
	db *database.DB
}

// NewUserRepository creates a SQLite-backed user repository.
func NewUserRepository(db *database.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new user. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:16]
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = database.NowUTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, string(user.Role),
		database.FormatTime(user.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(id string) (*User, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, username, password_hash, role, created_at, last_login_at
		FROM users WHERE id = ?`, id))
}

// GetByUsername retrieves a user by username.
func (r *SQLiteUserRepository) GetByUsername(username string) (*User, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, username, password_hash, role, created_at, last_login_at
		FROM users WHERE username = ?`, username))
}

// UpdateLastLogin stamps the user's last login time.
func (r *SQLiteUserRepository) UpdateLastLogin(id string) error {
	res, err := r.db.Exec(
		"UPDATE users SET last_login_at = ? WHERE id = ?",
		database.FormatTime(database.NowUTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the number of users. Used at startup to decide whether
// to seed the first admin account.
func (r *SQLiteUserRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *SQLiteUserRepository) scanOne(row *sql.Row) (*User, error) {
	var (
		u         User
		role      string
		createdAt string
		lastLogin sql.NullString
	)

	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastLogin.Valid {
		t, err := database.ParseTime(lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_login_at: %w", err)
		}
		u.LastLoginAt = &t
	}

	return &u, nil
}
