package auth

import (
	"errors"
	"time"
)

// Role identifies the privilege level of an authenticated principal.
type Role string

const (
	// RoleAdmin is a human operator using the management API.
	RoleAdmin Role = "admin"

	// RoleClient is a paired device holding an opaque bearer token.
	RoleClient Role = "client"
)

// ClientStatus is the lifecycle state of a paired client.
type ClientStatus string

const (
	ClientActive  ClientStatus = "active"
	ClientRevoked ClientStatus = "revoked"
)

// Sentinel errors returned by repositories and the token service.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenExpired       = errors.New("token expired")
	ErrClientNotFound     = errors.New("client not found")
	ErrClientRevoked      = errors.New("client revoked")
)

// User is an administrative account.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Client is a paired device. A client survives credential reissue; the
// credential rows record the individual tokens it has held.
type Client struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	DeviceInfo    string       `json:"device_info,omitempty"`
	Status        ClientStatus `json:"status"`
	PairedAt      time.Time    `json:"paired_at"`
	LastSeenAt    *time.Time   `json:"last_seen_at,omitempty"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
	RevokedReason string       `json:"revoked_reason,omitempty"`
	Areas         []string     `json:"areas,omitempty"`
}

// Credential is one issued bearer token, stored hash-only.
type Credential struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	TokenHash     string     `json:"-"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Revoked       bool       `json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	Areas         []string   `json:"areas"`
}

// AreaScope limits which areas a principal may observe.
// An unrestricted scope (admin connections) can access everything.
type AreaScope struct {
	Areas        []string
	Unrestricted bool
}

// CanAccess reports whether the scope permits the given area.
func (s AreaScope) CanAccess(areaID string) bool {
	if s.Unrestricted {
		return true
	}
	for _, a := range s.Areas {
		if a == areaID {
			return true
		}
	}
	return false
}

// Identity is the result of successful credential verification.
type Identity struct {
	SubjectID    string
	Role         Role
	Scope        AreaScope
	CredentialID string
}

// RevocationNotifier receives push notification of credential lifecycle
// changes so live connections can be terminated or rescoped immediately.
// The WebSocket hub implements this.
type RevocationNotifier interface {
	// OnRevocation is called after a client credential is revoked.
	// Implementations must not block.
	OnRevocation(clientID, reason string)

	// OnScopeChange is called after a client's area scope changes.
	OnScopeChange(clientID string, areas []string)
}
