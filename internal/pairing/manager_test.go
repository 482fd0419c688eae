package pairing

import (
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

const testSchema = `
CREATE TABLE pairing_sessions (
    id           TEXT PRIMARY KEY,
    pin_hash     TEXT NOT NULL,
    device_name  TEXT NOT NULL DEFAULT '',
    device_type  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'pending',
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL,
    created_by   TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    expires_at   TEXT NOT NULL,
    verified_at  TEXT,
    completed_at TEXT
);
CREATE TABLE pairing_session_areas (
    session_id TEXT NOT NULL REFERENCES pairing_sessions (id) ON DELETE CASCADE,
    area_id    TEXT NOT NULL,
    PRIMARY KEY (session_id, area_id)
);
CREATE TABLE users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    created_at    TEXT NOT NULL,
    last_login_at TEXT
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

func testLogger() *logging.Logger {
	return logging.New(logging.Options{Level: "error", Format: "text", Output: "stderr"})
}

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.OpenRaw(filepath.Join(t.TempDir(), "test.db"), 5, false)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}
	return db
}

func testManager(t *testing.T, db *database.DB) *Manager {
	t.Helper()

	authSvc, err := auth.NewService(auth.ServiceOptions{
		Users:         auth.NewUserRepository(db),
		Clients:       auth.NewClientRepository(db),
		Credentials:   auth.NewCredentialRepository(db),
		JWTSecret:     "pairing-test-secret-0123456789abcd",
		JWTTTL:        time.Hour,
		CredentialTTL: 24 * time.Hour,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("creating auth service: %v", err)
	}

	mgr, err := NewManager(Options{
		Sessions:    NewSessionRepository(db),
		Auth:        authSvc,
		Logger:      testLogger(),
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		Retention:   24 * time.Hour,
		SweepEvery:  time.Minute,
	})
	if err != nil {
		t.Fatalf("creating pairing manager: %v", err)
	}
	return mgr
}

// wrongPIN returns a valid-format PIN that differs from pin.
func wrongPIN(pin string) string {
	if pin == "100000" {
		return "100001"
	}
	return "100000"
}

func TestGeneratePIN(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin, err := GeneratePIN()
		if err != nil {
			t.Fatalf("GeneratePIN() error = %v", err)
		}
		if len(pin) != 6 {
			t.Fatalf("pin %q length = %d, want 6", pin, len(pin))
		}
		n, err := strconv.Atoi(pin)
		if err != nil {
			t.Fatalf("pin %q is not numeric", pin)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("pin %d outside [100000, 999999]", n)
		}
	}
}

func TestGeneratePINDigitDistribution(t *testing.T) {
	// Positions 2-6 draw uniformly from 0-9; the leading digit is
	// range-bound to 1-9 and checked separately.
	const draws = 3000
	var digits [10]int
	var leading [10]int
	for i := 0; i < draws; i++ {
		pin, err := GeneratePIN()
		if err != nil {
			t.Fatal(err)
		}
		leading[pin[0]-'0']++
		for _, c := range pin[1:] {
			digits[c-'0']++
		}
	}

	if leading[0] != 0 {
		t.Errorf("leading zero appeared %d times", leading[0])
	}

	// Chi-square over 10 bins, 9 degrees of freedom. The 0.001 critical
	// value is 27.88; the bound sits above it to avoid flaking.
	expected := float64(draws*5) / 10
	var chi2 float64
	for _, n := range digits {
		d := float64(n) - expected
		chi2 += d * d / expected
	}
	if chi2 > 40 {
		t.Errorf("digit distribution chi-square = %.2f, want < 40", chi2)
	}
}

func TestStartAndVerify(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	s, pin, err := mgr.Start("kitchen-panel", []string{"kitchen"}, "usr-admin")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Status != StatusPending {
		t.Errorf("status = %q, want pending", s.Status)
	}
	if s.PINHash == pin {
		t.Fatal("raw pin must not be stored")
	}

	res, err := mgr.Verify(pin, "Kitchen Tablet", "wall-panel")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Session.ID != s.ID {
		t.Errorf("verified session = %q, want %q", res.Session.ID, s.ID)
	}
	if res.Session.Status != StatusVerified {
		t.Errorf("status = %q, want verified", res.Session.Status)
	}
	if res.Session.VerifiedAt == nil {
		t.Error("verified_at should be stamped")
	}
	if res.Session.DeviceName != "Kitchen Tablet" {
		t.Errorf("device name = %q, want the device-announced one", res.Session.DeviceName)
	}
	if res.Session.DeviceType != "wall-panel" {
		t.Errorf("device type = %q, want wall-panel", res.Session.DeviceType)
	}

	// A second submission of the same PIN finds no pending session.
	if _, err := mgr.Verify(pin, "", ""); !errors.Is(err, ErrPINMismatch) {
		t.Errorf("replayed pin error = %v, want ErrPINMismatch", err)
	}
}

func TestVerifyWrongPINLocksSession(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	s, pin, err := mgr.Start("porch-cam", nil, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}
	bad := wrongPIN(pin)

	// Three misses exhaust the allowance.
	for want := 2; want >= 0; want-- {
		res, err := mgr.Verify(bad, "", "")
		if !errors.Is(err, ErrPINMismatch) {
			t.Fatalf("Verify(wrong) error = %v, want ErrPINMismatch", err)
		}
		if res.AttemptsRemaining != want {
			t.Errorf("attempts remaining = %d, want %d", res.AttemptsRemaining, want)
		}
	}

	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusLocked {
		t.Errorf("status = %q, want locked", got.Status)
	}

	// The correct PIN no longer helps.
	if _, err := mgr.Verify(pin, "", ""); !errors.Is(err, ErrPINMismatch) {
		t.Errorf("pin after lockout error = %v, want ErrPINMismatch", err)
	}
}

func TestVerifyNoSessions(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	res, err := mgr.Verify("123456", "", "")
	if !errors.Is(err, ErrPINMismatch) {
		t.Fatalf("Verify() with no sessions error = %v, want ErrPINMismatch", err)
	}
	if res.AttemptsRemaining != -1 {
		t.Errorf("attempts remaining = %d, want -1 (nothing disclosed)", res.AttemptsRemaining)
	}
}

func TestVerifyExpiredSession(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)
	repo := NewSessionRepository(db)

	hash, err := auth.HashSecret("123456")
	if err != nil {
		t.Fatal(err)
	}
	s := &Session{
		PINHash:     hash,
		DeviceName:  "stale-device",
		MaxAttempts: 3,
		CreatedBy:   "usr-admin",
		ExpiresAt:   database.NowUTC().Add(-time.Minute),
	}
	if err := repo.Create(s); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Verify("123456", "", ""); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Verify(expired) error = %v, want ErrSessionExpired", err)
	}

	// Wrong PINs do not charge attempts against expired sessions.
	if _, err := mgr.Verify("654321", "", ""); !errors.Is(err, ErrPINMismatch) {
		t.Fatal("wrong pin should still mismatch")
	}
	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempts != 0 {
		t.Errorf("expired session attempts = %d, want 0", got.Attempts)
	}
}

func TestVerifiedSessionExpires(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)
	repo := NewSessionRepository(db)

	hash, err := auth.HashSecret("123456")
	if err != nil {
		t.Fatal(err)
	}
	s := &Session{
		PINHash:     hash,
		DeviceName:  "lingering-panel",
		MaxAttempts: 3,
		CreatedBy:   "usr-admin",
		ExpiresAt:   database.NowUTC().Add(-time.Hour),
	}
	if err := repo.Create(s); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkVerified(s.ID); err != nil {
		t.Fatal(err)
	}

	// Reaching verified in time does not outlive the PIN lifetime: no
	// credential may be minted once expires_at has passed.
	if _, err := mgr.Complete(s.ID, "", nil); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Complete(stale verified) error = %v, want ErrSessionExpired", err)
	}

	// The sweep moves the stale verified session to expired.
	mgr.sweep()
	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status after sweep = %q, want expired", got.Status)
	}

	if _, err := mgr.Complete(s.ID, "", nil); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Complete(expired) error = %v, want ErrSessionExpired", err)
	}
}

func TestVerifySingleWinner(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	_, pin, err := mgr.Start("racy-device", nil, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Verify(pin, "racer", "sensor"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

func TestComplete(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	s, pin, err := mgr.Start("lounge-panel", []string{"lounge", "hall"}, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}

	// Completing before verification is rejected.
	if _, err := mgr.Complete(s.ID, "", nil); !errors.Is(err, ErrSessionNotVerified) {
		t.Errorf("Complete(pending) error = %v, want ErrSessionNotVerified", err)
	}

	if _, err := mgr.Verify(pin, "Lounge Panel", "wall-panel"); err != nil {
		t.Fatal(err)
	}

	res, err := mgr.Complete(s.ID, "", nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Client.Name != "Lounge Panel" {
		t.Errorf("client name = %q, want the device-announced one", res.Client.Name)
	}
	if res.Client.DeviceInfo != "wall-panel" {
		t.Errorf("client device info = %q, want wall-panel", res.Client.DeviceInfo)
	}
	if len(res.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(res.Token))
	}
	if len(res.Areas) != 2 {
		t.Errorf("areas = %v", res.Areas)
	}

	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be stamped")
	}

	// Completing twice mints no second credential.
	if _, err := mgr.Complete(s.ID, "", nil); !errors.Is(err, ErrSessionNotVerified) {
		t.Errorf("second Complete() error = %v, want ErrSessionNotVerified", err)
	}
}

func TestCompleteOverrides(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	s, pin, err := mgr.Start("", []string{"lounge", "hall"}, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Verify(pin, "Generic Device", "sensor"); err != nil {
		t.Fatal(err)
	}

	res, err := mgr.Complete(s.ID, "Hall Motion", []string{"hall"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Client.Name != "Hall Motion" {
		t.Errorf("client name = %q, want the admin override", res.Client.Name)
	}
	if len(res.Areas) != 1 || res.Areas[0] != "hall" {
		t.Errorf("areas = %v, want the narrowed scope", res.Areas)
	}
}

func TestCancel(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)

	s, pin, err := mgr.Start("doomed-device", nil, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Cancel(s.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	got, err := mgr.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	// The PIN is dead after cancellation.
	if _, err := mgr.Verify(pin, "", ""); !errors.Is(err, ErrPINMismatch) {
		t.Errorf("Verify after cancel error = %v, want ErrPINMismatch", err)
	}

	// Cancelling twice reports the actual state.
	if err := mgr.Cancel(s.ID); !errors.Is(err, ErrSessionNotPending) {
		t.Errorf("second Cancel() error = %v, want ErrSessionNotPending", err)
	}

	if err := mgr.Cancel("pair-nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Cancel(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSweep(t *testing.T) {
	db := testDB(t)
	mgr := testManager(t, db)
	repo := NewSessionRepository(db)

	hash, _ := auth.HashSecret("123456")
	overdue := &Session{
		PINHash:     hash,
		DeviceName:  "overdue",
		MaxAttempts: 3,
		CreatedBy:   "usr-admin",
		CreatedAt:   database.NowUTC().Add(-48 * time.Hour),
		ExpiresAt:   database.NowUTC().Add(-time.Hour),
	}
	if err := repo.Create(overdue); err != nil {
		t.Fatal(err)
	}

	live, _, err := mgr.Start("live-device", nil, "usr-admin")
	if err != nil {
		t.Fatal(err)
	}

	mgr.sweep()

	got, err := mgr.Get(overdue.ID)
	// First sweep marks the overdue session expired; the retention pass in
	// the same sweep then deletes it because it is older than retention.
	if err == nil {
		if got.Status != StatusExpired {
			t.Errorf("overdue status = %q, want expired", got.Status)
		}
	} else if !errors.Is(err, ErrSessionNotFound) {
		t.Fatal(err)
	}

	// The live session is untouched.
	gotLive, err := mgr.Get(live.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotLive.Status != StatusPending {
		t.Errorf("live status = %q, want pending", gotLive.Status)
	}
}
