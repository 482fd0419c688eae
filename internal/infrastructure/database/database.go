// Package database manages the SQLite connection and schema migrations
// for Emberlink Core.
//
// SQLite runs in WAL mode with a single writer connection. All timestamps
// are stored as RFC3339 UTC text so rows stay readable with the sqlite3
// shell during incident response.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path and
// applies pending migrations.
func Open(path string, busyTimeoutSec int, walMode bool) (*DB, error) {
	d, err := OpenRaw(path, busyTimeoutSec, walMode)
	if err != nil {
		return nil, err
	}

	if err := d.migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenRaw opens the database without running migrations. Tests that
// manage their own schema use this.
func OpenRaw(path string, busyTimeoutSec int, walMode bool) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", path, busyTimeoutSec*1000)
	if walMode {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite supports a single writer. Serialising all access through one
	// connection avoids SQLITE_BUSY under concurrent request handling.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting database permissions: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the filesystem path of the database file.
func (d *DB) Path() string {
	return d.path
}

// HealthCheck verifies the database connection is alive.
func (d *DB) HealthCheck() error {
	var one int
	if err := d.QueryRow("SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// NowUTC returns the current time in UTC truncated to seconds, the
// precision timestamps are stored with.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FormatTime serialises a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime deserialises a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// BoolToInt converts a bool to the 0/1 representation SQLite stores.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NullString converts an empty string to a SQL NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
