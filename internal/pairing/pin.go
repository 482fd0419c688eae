package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// PIN range. Six digits, never leading-zero, so the value a user reads
// off the screen is always exactly six characters.
const (
	pinMin  = 100000
	pinSpan = 900000
)

// GeneratePIN returns a uniformly random six-digit PIN using the
// cryptographic source. crypto/rand.Int performs rejection sampling, so
// no digit sequence is more likely than another.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinSpan))
	if err != nil {
		return "", fmt.Errorf("generating pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+pinMin), nil
}
