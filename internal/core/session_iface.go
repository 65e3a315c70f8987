package core

import "github.com/google/uuid"

type SessionID string

// NewSessionID returns a fresh identity for an accepted connection.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
