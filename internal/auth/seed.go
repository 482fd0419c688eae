package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// SeedAdmin creates the first admin account when the users table is empty.
// The generated password is logged once at startup; the operator must
// change it after first login.
func SeedAdmin(users UserRepository, logger *logging.Logger) error {
	count, err := users.Count()
	if err != nil {
		return fmt.Errorf("checking for existing users: %w", err)
	}
	if count > 0 {
		return nil
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(buf)

	hash, err := HashSecret(password)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	user := &User{
		Username:     "admin",
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := users.Create(user); err != nil {
		return fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("first admin account created",
		"username", user.Username,
		"password", password,
		"action_required", "change this password after first login")

	return nil
}
