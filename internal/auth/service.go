package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// Service issues and verifies both credential shapes and coordinates
// revocation with the live connection layer.
type Service struct {
	users    UserRepository
	clients  ClientRepository
	creds    CredentialRepository
	secret   string
	jwtTTL   time.Duration
	credTTL  time.Duration
	notifier RevocationNotifier
	logger   *logging.Logger
}

// ServiceOptions configures Service construction.
type ServiceOptions struct {
	Users         UserRepository
	Clients       ClientRepository
	Credentials   CredentialRepository
	JWTSecret     string
	JWTTTL        time.Duration
	CredentialTTL time.Duration
	Logger        *logging.Logger
}

// NewService creates the auth service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Users == nil || opts.Clients == nil || opts.Credentials == nil {
		return nil, fmt.Errorf("auth service requires all repositories")
	}
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("auth service requires a signing secret")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	return &Service{
		users:   opts.Users,
		clients: opts.Clients,
		creds:   opts.Credentials,
		secret:  opts.JWTSecret,
		jwtTTL:  opts.JWTTTL,
		credTTL: opts.CredentialTTL,
		logger:  opts.Logger,
	}, nil
}

// SetNotifier wires the live-connection layer. Called once during startup
// after the WebSocket hub exists.
func (s *Service) SetNotifier(n RevocationNotifier) {
	s.notifier = n
}

// Login verifies an admin's username and password and returns a signed
// access token. Failures are reported with a single generic error so the
// response never reveals whether the username exists.
func (s *Service) Login(username, password string) (string, *User, error) {
	user, err := s.users.GetByUsername(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn comparable time so missing users are not distinguishable
			// by response latency.
			_, _ = VerifySecret(password, dummyHash)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	ok, err := VerifySecret(password, user.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateAdminToken(user, s.secret, s.jwtTTL)
	if err != nil {
		return "", nil, err
	}

	if err := s.users.UpdateLastLogin(user.ID); err != nil {
		s.logger.Warn("updating last login failed", "user_id", user.ID, "error", err)
	}

	return token, user, nil
}

// dummyHash is a throwaway Argon2id hash used to equalise login timing
// when the username does not exist.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$Wn8+Vvu8drOrhQbkMrUxCJyJxQoVbV7nmAYXcAw9/KI"

// IssueClientCredential mints a new opaque token for a client scoped to
// the given areas. The raw token is returned exactly once.
func (s *Service) IssueClientCredential(clientID string, areas []string) (string, *Credential, error) {
	raw, err := GenerateClientToken()
	if err != nil {
		return "", nil, err
	}

	cred := &Credential{
		ClientID:  clientID,
		TokenHash: HashToken(raw),
		IssuedAt:  database.NowUTC(),
		ExpiresAt: database.NowUTC().Add(s.credTTL),
		Areas:     areas,
	}
	if err := s.creds.Create(cred); err != nil {
		return "", nil, err
	}

	s.logger.Info("client credential issued",
		"client_id", clientID, "credential_id", cred.ID, "areas", len(areas))

	return raw, cred, nil
}

// VerifyClientToken authenticates an opaque bearer token and returns the
// client's identity with its area scope.
func (s *Service) VerifyClientToken(raw string) (*Identity, error) {
	cred, err := s.creds.GetByTokenHash(HashToken(raw))
	if err != nil {
		return nil, err
	}

	if cred.Revoked {
		return nil, ErrTokenRevoked
	}
	if time.Now().After(cred.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	client, err := s.clients.GetByID(cred.ClientID)
	if err != nil {
		return nil, err
	}
	if client.Status == ClientRevoked {
		return nil, ErrClientRevoked
	}

	if err := s.clients.TouchLastSeen(client.ID); err != nil {
		s.logger.Warn("updating last seen failed", "client_id", client.ID, "error", err)
	}

	return &Identity{
		SubjectID:    client.ID,
		Role:         RoleClient,
		Scope:        AreaScope{Areas: cred.Areas},
		CredentialID: cred.ID,
	}, nil
}

// VerifyAdminToken authenticates a signed admin access token.
func (s *Service) VerifyAdminToken(raw string) (*Identity, error) {
	claims, err := ParseAdminToken(raw, s.secret)
	if err != nil {
		return nil, err
	}

	return &Identity{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		Scope:     AreaScope{Unrestricted: true},
	}, nil
}

// Verify authenticates either credential shape. Signed admin tokens are
// structurally distinct (two dots), so the shape picks the path and a
// failure in one shape is never retried against the other.
func (s *Service) Verify(raw string) (*Identity, error) {
	if strings.Count(raw, ".") == 2 {
		return s.VerifyAdminToken(raw)
	}
	return s.VerifyClientToken(raw)
}

// Revoke revokes a client and every credential it holds, then pushes the
// revocation to live connections. Safe to call repeatedly; the count is
// how many credentials this call actually revoked.
func (s *Service) Revoke(clientID, reason string) (int, error) {
	if err := s.clients.Revoke(clientID, reason); err != nil {
		return 0, err
	}

	n, err := s.creds.RevokeAllForClient(clientID, reason)
	if err != nil {
		return 0, err
	}

	s.logger.Info("client revoked",
		"client_id", clientID, "reason", reason, "credentials_revoked", n)

	if s.notifier != nil {
		s.notifier.OnRevocation(clientID, reason)
	}
	return n, nil
}

// Reissue replaces a client's credential with a new one scoped to the
// given areas. The old token stops working immediately; live connections
// are rescoped in place rather than dropped.
func (s *Service) Reissue(clientID string, areas []string) (string, *Credential, error) {
	client, err := s.clients.GetByID(clientID)
	if err != nil {
		return "", nil, err
	}
	if client.Status == ClientRevoked {
		return "", nil, ErrClientRevoked
	}

	if _, err := s.creds.RevokeAllForClient(clientID, "superseded"); err != nil {
		return "", nil, err
	}

	raw, cred, err := s.IssueClientCredential(clientID, areas)
	if err != nil {
		return "", nil, err
	}

	if s.notifier != nil {
		s.notifier.OnScopeChange(clientID, areas)
	}
	return raw, cred, nil
}

// RegisterClient records a newly paired device. Called by pairing
// completion before the first credential is issued.
func (s *Service) RegisterClient(name, deviceInfo string) (*Client, error) {
	client := &Client{Name: name, DeviceInfo: deviceInfo}
	if err := s.clients.Create(client); err != nil {
		return nil, err
	}
	return client, nil
}

// GetClient returns a client with its current area scope attached.
func (s *Service) GetClient(clientID string) (*Client, error) {
	client, err := s.clients.GetByID(clientID)
	if err != nil {
		return nil, err
	}
	s.attachAreas(client)
	return client, nil
}

// ListClients returns all clients with their current area scopes.
func (s *Service) ListClients() ([]*Client, error) {
	clients, err := s.clients.List()
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		s.attachAreas(c)
	}
	return clients, nil
}

// DeleteClient removes a client entirely. Revokes first so any live
// connection is dropped before the rows disappear.
func (s *Service) DeleteClient(clientID string) error {
	if _, err := s.Revoke(clientID, "client deleted"); err != nil && !errors.Is(err, ErrClientNotFound) {
		return err
	}
	return s.clients.Delete(clientID)
}

// PurgeDefunctCredentials removes revoked and expired credential rows
// older than the cutoff.
func (s *Service) PurgeDefunctCredentials(olderThan time.Duration) (int64, error) {
	cutoff := database.FormatTime(database.NowUTC().Add(-olderThan))
	return s.creds.DeleteDefunct(cutoff)
}

func (s *Service) attachAreas(c *Client) {
	cred, err := s.creds.GetActiveByClient(c.ID)
	if err == nil {
		c.Areas = cred.Areas
	}
}
