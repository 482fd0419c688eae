package pairing

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle state of a pairing session.
type SessionStatus string

const (
	// StatusPending means the PIN is live and awaiting verification.
	StatusPending SessionStatus = "pending"

	// StatusVerified means a device has proven the PIN and the session
	// awaits admin completion.
	StatusVerified SessionStatus = "verified"

	// StatusCompleted means the client was registered and its credential
	// issued. Terminal.
	StatusCompleted SessionStatus = "completed"

	// StatusExpired means the PIN lifetime lapsed. Terminal.
	StatusExpired SessionStatus = "expired"

	// StatusLocked means too many wrong PINs were submitted. Terminal.
	StatusLocked SessionStatus = "locked"

	// StatusCancelled means an admin withdrew the session. Terminal.
	StatusCancelled SessionStatus = "cancelled"
)

// Sentinel errors for session state transitions.
var (
	ErrSessionNotFound    = errors.New("pairing session not found")
	ErrSessionExpired     = errors.New("pairing session expired")
	ErrSessionLocked      = errors.New("pairing session locked")
	ErrSessionNotPending  = errors.New("pairing session not pending")
	ErrSessionNotVerified = errors.New("pairing session not verified")
	ErrPINMismatch        = errors.New("pin did not match any session")
)

// Session is one pairing attempt. The PIN is stored hash-only.
type Session struct {
	ID          string        `json:"id"`
	PINHash     string        `json:"-"`
	DeviceName  string        `json:"device_name"`
	DeviceType  string        `json:"device_type,omitempty"`
	Status      SessionStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Areas       []string      `json:"areas"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	VerifiedAt  *time.Time    `json:"verified_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Expired reports whether the session's PIN lifetime has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AttemptsRemaining returns how many wrong PINs the session can still absorb.
func (s *Session) AttemptsRemaining() int {
	remaining := s.MaxAttempts - s.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
