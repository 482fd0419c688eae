package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

const (
	testJWTTTL  = time.Hour
	testCredTTL = 24 * time.Hour
)

// testSchema mirrors the auth-related tables from the migrations. Kept
// inline so repository tests do not depend on the embedded migration set.
const testSchema = `
CREATE TABLE users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    created_at    TEXT NOT NULL,
    last_login_at TEXT
);
CREATE TABLE areas (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at  TEXT NOT NULL
);
CREATE TABLE clients (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    device_info    TEXT,
    status         TEXT NOT NULL DEFAULT 'active',
    paired_at      TEXT NOT NULL,
    last_seen_at   TEXT,
    revoked_at     TEXT,
    revoked_reason TEXT
);
CREATE TABLE credentials (
    id             TEXT PRIMARY KEY,
    client_id      TEXT NOT NULL REFERENCES clients (id) ON DELETE CASCADE,
    token_hash     TEXT NOT NULL UNIQUE,
    issued_at      TEXT NOT NULL,
    expires_at     TEXT NOT NULL,
    revoked        INTEGER NOT NULL DEFAULT 0,
    revoked_at     TEXT,
    revoked_reason TEXT
);
CREATE TABLE credential_scopes (
    credential_id TEXT NOT NULL REFERENCES credentials (id) ON DELETE CASCADE,
    area_id       TEXT NOT NULL,
    PRIMARY KEY (credential_id, area_id)
);
`

func testDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.OpenRaw(path, 5, false)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}
	return db
}

func testLogger() *logging.Logger {
	return logging.New(logging.Options{Level: "error", Format: "text", Output: "stderr"})
}

func testService(t *testing.T, db *database.DB) *Service {
	t.Helper()

	svc, err := NewService(ServiceOptions{
		Users:         NewUserRepository(db),
		Clients:       NewClientRepository(db),
		Credentials:   NewCredentialRepository(db),
		JWTSecret:     "test-secret-0123456789abcdef012345",
		JWTTTL:        testJWTTTL,
		CredentialTTL: testCredTTL,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("creating auth service: %v", err)
	}
	return svc
}

func seedClient(t *testing.T, db *database.DB, name string) *Client {
	t.Helper()

	repo := NewClientRepository(db)
	c := &Client{Name: name, DeviceInfo: "test device"}
	if err := repo.Create(c); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	return c
}
