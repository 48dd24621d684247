package util

import "github.com/google/uuid"

// GenerateUUID returns a random (v4) identifier. It panics only if the
// system entropy source fails.
func GenerateUUID() string {
	return uuid.NewString()
}
