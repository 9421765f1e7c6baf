package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random unique identifier.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first block of id, for compact log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
