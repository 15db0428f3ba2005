package session

import "github.com/google/uuid"

// GenerateID returns a random opaque session id.
func GenerateID() string {
	return uuid.NewString()
}
