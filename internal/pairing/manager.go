package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// Manager drives the pairing session lifecycle.
type Manager struct {
	sessions SessionRepository
	auth     *auth.Service
	logger   *logging.Logger

	ttl         time.Duration
	maxAttempts int
	retention   time.Duration
	sweepEvery  time.Duration
}

// Options configures Manager construction.
type Options struct {
	Sessions    SessionRepository
	Auth        *auth.Service
	Logger      *logging.Logger
	TTL         time.Duration
	MaxAttempts int
	Retention   time.Duration
	SweepEvery  time.Duration
}

// NewManager creates a pairing manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("pairing manager requires a session repository")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("pairing manager requires the auth service")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("pairing ttl must be positive")
	}
	if opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("pairing max attempts must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}

	return &Manager{
		sessions:    opts.Sessions,
		auth:        opts.Auth,
		logger:      opts.Logger,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		retention:   opts.Retention,
		sweepEvery:  opts.SweepEvery,
	}, nil
}

// Start opens a new pairing session and returns it together with the raw
// PIN. The PIN is shown to the admin once and only its hash is stored.
// deviceName is an optional admin label; the device supplies its own name
// during verification.
func (m *Manager) Start(deviceName string, areas []string, createdBy string) (*Session, string, error) {
	pin, err := GeneratePIN()
	if err != nil {
		return nil, "", err
	}

	hash, err := auth.HashSecret(pin)
	if err != nil {
		return nil, "", fmt.Errorf("hashing pin: %w", err)
	}

	now := database.NowUTC()
	s := &Session{
		PINHash:     hash,
		DeviceName:  deviceName,
		Status:      StatusPending,
		MaxAttempts: m.maxAttempts,
		Areas:       areas,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.sessions.Create(s); err != nil {
		return nil, "", err
	}

	m.logger.Info("pairing session started",
		"session_id", s.ID, "device_name", deviceName, "areas", len(areas),
		"expires_at", s.ExpiresAt)

	return s, pin, nil
}

// VerifyResult is the outcome of a PIN verification attempt.
type VerifyResult struct {
	Session *Session

	// AttemptsRemaining is set on failure when at least one live session
	// absorbed the wrong PIN. Negative means no live session existed, so
	// nothing may be disclosed about why verification failed.
	AttemptsRemaining int
}

// Verify checks a submitted PIN against every pending session. The PIN
// alone identifies the session. deviceName and deviceType are what the
// device announces about itself and are recorded on the matched session.
//
// On a wrong PIN every live session's attempt counter is advanced;
// sessions that exhaust their allowance lock permanently. On a match the
// session moves pending -> verified through a compare-and-set, so of two
// devices racing with the same PIN exactly one wins and the loser sees
// the same failure as a wrong PIN.
func (m *Manager) Verify(pin, deviceName, deviceType string) (*VerifyResult, error) {
	pending, err := m.sessions.ListPending()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var matched *Session
	for _, s := range pending {
		ok, err := auth.VerifySecret(pin, s.PINHash)
		if err != nil {
			m.logger.Warn("pin hash unreadable", "session_id", s.ID, "error", err)
			continue
		}
		if ok {
			matched = s
			break
		}
	}

	if matched == nil {
		return m.recordMiss(pending, now)
	}

	if matched.Expired(now) {
		// The sweep will mark it; the caller just learns the PIN is dead.
		return nil, ErrSessionExpired
	}
	if matched.AttemptsRemaining() <= 0 {
		return nil, ErrSessionLocked
	}

	if err := m.sessions.MarkVerified(matched.ID); err != nil {
		if errors.Is(err, ErrSessionNotPending) {
			// Lost the race. Report the same generic failure a wrong PIN
			// gets so the loser learns nothing.
			return nil, ErrPINMismatch
		}
		return nil, err
	}

	if err := m.sessions.RecordDeviceInfo(matched.ID, deviceName, deviceType); err != nil {
		m.logger.Warn("device info not recorded", "session_id", matched.ID, "error", err)
	}

	m.logger.Info("pairing pin verified", "session_id", matched.ID, "device_name", deviceName)

	s, err := m.sessions.GetByID(matched.ID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Session: s}, nil
}

// recordMiss charges a wrong PIN against every live pending session and
// locks any that run out of attempts.
func (m *Manager) recordMiss(pending []*Session, now time.Time) (*VerifyResult, error) {
	remaining := -1
	for _, s := range pending {
		if s.Expired(now) {
			continue
		}

		attempts, err := m.sessions.IncrementAttempts(s.ID)
		if err != nil {
			return nil, err
		}

		left := s.MaxAttempts - attempts
		if left <= 0 {
			if err := m.sessions.MarkLocked(s.ID); err != nil && !errors.Is(err, ErrSessionNotPending) {
				return nil, err
			}
			m.logger.Warn("pairing session locked after repeated failures",
				"session_id", s.ID, "device_name", s.DeviceName)
			left = 0
		}
		if remaining < 0 || left < remaining {
			remaining = left
		}
	}

	return &VerifyResult{AttemptsRemaining: remaining}, ErrPINMismatch
}

// CompleteResult is what pairing completion hands back: the registered
// client and its raw credential, shown exactly once.
type CompleteResult struct {
	Client *auth.Client
	Token  string
	Areas  []string
}

// Complete finishes a verified session: the device is registered as a
// client and its scoped credential minted. clientName overrides the
// device-announced name and areas overrides the session's requested
// scopes; empty values fall back to what the session holds. The
// verified -> completed transition is claimed first so concurrent
// completions mint at most one credential.
func (m *Manager) Complete(sessionID, clientName string, areas []string) (*CompleteResult, error) {
	s, err := m.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}

	// Expiry outranks the stored status: a verified session the sweep has
	// not reached yet is still dead once its PIN lifetime lapses.
	if s.Expired(time.Now()) && s.Status != StatusCompleted {
		return nil, ErrSessionExpired
	}

	if err := m.sessions.MarkCompleted(sessionID); err != nil {
		return nil, err
	}

	if clientName == "" {
		clientName = s.DeviceName
	}
	if clientName == "" {
		clientName = "device"
	}
	if len(areas) == 0 {
		areas = s.Areas
	}

	client, err := m.auth.RegisterClient(clientName, s.DeviceType)
	if err != nil {
		// The session is burnt but no credential exists. The admin
		// re-pairs; partial state is visible in the audit trail.
		return nil, fmt.Errorf("registering client: %w", err)
	}

	token, _, err := m.auth.IssueClientCredential(client.ID, areas)
	if err != nil {
		return nil, fmt.Errorf("issuing credential: %w", err)
	}

	m.logger.Info("pairing completed",
		"session_id", sessionID, "client_id", client.ID, "areas", len(areas))

	return &CompleteResult{Client: client, Token: token, Areas: areas}, nil
}

// Cancel withdraws a pending session. Only pending sessions can be
// cancelled; anything else reports its actual state.
func (m *Manager) Cancel(sessionID string) error {
	if err := m.sessions.Cancel(sessionID); err != nil {
		return err
	}
	m.logger.Info("pairing session cancelled", "session_id", sessionID)
	return nil
}

// Get returns one session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	return m.sessions.GetByID(sessionID)
}

// List returns all sessions, newest first.
func (m *Manager) List() ([]*Session, error) {
	return m.sessions.List()
}

// Run drives the expiry and retention sweeps until the context ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	expired, err := m.sessions.ExpireOverdue()
	if err != nil {
		m.logger.Error("expiry sweep failed", "error", err)
	} else if expired > 0 {
		m.logger.Info("pairing sessions expired", "count", expired)
	}

	if m.retention > 0 {
		cutoff := database.FormatTime(database.NowUTC().Add(-m.retention))
		deleted, err := m.sessions.DeleteFinished(cutoff)
		if err != nil {
			m.logger.Error("retention sweep failed", "error", err)
		} else if deleted > 0 {
			m.logger.Info("finished pairing sessions purged", "count", deleted)
		}
	}
}
