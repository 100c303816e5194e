package lockmgr

import (
	"crypto/rand"
)

const (
	ownerIDBytes = 32
)

// generateOwnerID creates a new unique owner ID (256 random bits)
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDBytes)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}
