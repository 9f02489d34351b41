package models

import "github.com/google/uuid"

// SessionStatus defines the lifecycle state of an identity session.
type SessionStatus string

const (
	SessionStatusAbsent        SessionStatus = "ABSENT"
	SessionStatusBootstrapping SessionStatus = "BOOTSTRAPPING"
	SessionStatusReady         SessionStatus = "READY"
)

// Session is the anonymous identity for one device/process context.
// Once Ready, IdentityID never changes for the process lifetime.
type Session struct {
	IdentityID uuid.UUID     `json:"identity_id"`
	Status     SessionStatus `json:"status"`
}

// Ready reports whether the session can be used for room operations.
func (s *Session) Ready() bool {
	return s != nil && s.Status == SessionStatusReady && s.IdentityID != uuid.Nil
}
