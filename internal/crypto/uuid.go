package crypto

import (
	"github.com/google/uuid"
)

// NewRequestID generates a time-ordered UUID v7 used to correlate a single
// fan-out across peer logs.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}
