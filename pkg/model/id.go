package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewUnitID returns the 16-hex-char id shared by transactions and spans.
func NewUnitID() string {
	return randomHex(8)
}

// NewTraceID returns a 32-hex-char correlation id.
func NewTraceID() string {
	return randomHex(16)
}

// NewErrorID returns a UUID for error records.
func NewErrorID() string {
	return uuid.NewString()
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// fall back to a time-based id if crypto/rand fails
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))[:2*n]
	}
	return hex.EncodeToString(b)
}
