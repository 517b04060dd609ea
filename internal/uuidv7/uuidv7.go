// Package uuidv7 generates time-ordered UUIDs for correlation ids so that
// interleaved relay logs sort chronologically.
package uuidv7

import "github.com/google/uuid"

// NewString returns the string form of a fresh UUIDv7.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}
