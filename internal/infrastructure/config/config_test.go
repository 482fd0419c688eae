package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
database:
  path: ./test.db
security:
  jwt:
    secret: "0123456789abcdef0123456789abcdef"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want ./test.db", cfg.Database.Path)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default 8090", cfg.API.Port)
	}
	if cfg.Pairing.MaxAttempts != 5 {
		t.Errorf("Pairing.MaxAttempts = %d, want default 5", cfg.Pairing.MaxAttempts)
	}
	if cfg.WebSocket.SendBufferSize != 256 {
		t.Errorf("WebSocket.SendBufferSize = %d, want default 256", cfg.WebSocket.SendBufferSize)
	}
}

func TestLoadMissingSecret(t *testing.T) {
	path := writeConfigFile(t, "database:\n  path: ./test.db\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with missing JWT secret should fail")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("error should mention security.jwt.secret, got: %v", err)
	}
}

func TestLoadShortSecret(t *testing.T) {
	path := writeConfigFile(t, `
database:
  path: ./test.db
security:
  jwt:
    secret: "tooshort"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with short JWT secret should fail")
	}
	if !strings.Contains(err.Error(), "at least 32 characters") {
		t.Errorf("error should mention minimum length, got: %v", err)
	}
}

func TestLoadAttemptsOutOfRange(t *testing.T) {
	for _, attempts := range []string{"2", "6"} {
		path := writeConfigFile(t, validConfig+"pairing:\n  max_attempts: "+attempts+"\n")

		_, err := Load(path)
		if err == nil {
			t.Errorf("Load() with max_attempts=%s should fail", attempts)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EMBERLINK_DATABASE_PATH", "/override/emberlink.db")
	t.Setenv("EMBERLINK_API_PORT", "9000")
	t.Setenv("EMBERLINK_JWT_SECRET", "env-secret-0123456789abcdef012345")

	path := writeConfigFile(t, "database:\n  path: ./test.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/override/emberlink.db" {
		t.Errorf("Database.Path = %q, env override not applied", cfg.Database.Path)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, env override not applied", cfg.API.Port)
	}
	if cfg.Security.JWT.Secret != "env-secret-0123456789abcdef012345" {
		t.Error("JWT secret env override not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	if err == nil {
		t.Fatal("Load() with missing file should fail")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Pairing.TTL().Minutes(); got != 5 {
		t.Errorf("Pairing TTL = %v minutes, want 5", got)
	}
	if got := cfg.Security.JWT.TTL().Hours(); got != 12 {
		t.Errorf("JWT TTL = %v hours, want 12", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("read timeout = %v seconds, want 30", got)
	}
}
