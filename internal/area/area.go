// Package area maintains the registry of physical areas that scope
// client credentials and event delivery.
package area

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
)

// Sentinel errors.
var (
	ErrAreaNotFound = errors.New("area not found")
	ErrAreaExists   = errors.New("area already exists")
)

// Area is a physical space events are scoped to.
type Area struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists areas.
type Repository interface {
	Create(a *Area) error
	GetByID(id string) (*Area, error)
	List() ([]*Area, error)
	ExistAll(ids []string) error
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *database.DB
}

// NewRepository creates a SQLite-backed area repository.
func NewRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new area. Names are unique.
func (r *SQLiteRepository) Create(a *Area) error {
	if a.ID == "" {
		a.ID = "area-" + uuid.NewString()[:16]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = database.NowUTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO areas (id, name, description, created_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, database.NullString(a.Description), database.FormatTime(a.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAreaExists
		}
		return fmt.Errorf("creating area: %w", err)
	}
	return nil
}

// GetByID retrieves an area by ID.
func (r *SQLiteRepository) GetByID(id string) (*Area, error) {
	var (
		a         Area
		desc      sql.NullString
		createdAt string
	)

	err := r.db.QueryRow(
		"SELECT id, name, description, created_at FROM areas WHERE id = ?", id,
	).Scan(&a.ID, &a.Name, &desc, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAreaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning area: %w", err)
	}

	a.Description = desc.String
	if a.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// List returns all areas ordered by name.
func (r *SQLiteRepository) List() ([]*Area, error) {
	rows, err := r.db.Query("SELECT id, name, description, created_at FROM areas ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing areas: %w", err)
	}
	defer rows.Close()

	var areas []*Area
	for rows.Next() {
		var (
			a         Area
			desc      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning area: %w", err)
		}
		a.Description = desc.String
		if a.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		areas = append(areas, &a)
	}
	return areas, rows.Err()
}

// ExistAll verifies every ID refers to a known area. Used to validate
// requested scopes before a session or credential is created.
func (r *SQLiteRepository) ExistAll(ids []string) error {
	for _, id := range ids {
		if _, err := r.GetByID(id); err != nil {
			if errors.Is(err, ErrAreaNotFound) {
				return fmt.Errorf("%w: %s", ErrAreaNotFound, id)
			}
			return err
		}
	}
	return nil
}
