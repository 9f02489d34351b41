package roomsync

import (
	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
)

// Status is the connection health carried on every published view. A sync
// failure is never swallowed silently; it shows up here instead of the
// view quietly freezing.
type Status string

const (
	// StatusSyncing means no snapshot has been merged yet.
	StatusSyncing Status = "SYNCING"
	// StatusLive means the view is being kept fresh by the hint stream.
	StatusLive Status = "LIVE"
	// StatusDisconnected means the hint stream died (and the one
	// re-subscribe attempt failed) or an authoritative re-fetch failed; the
	// view is the last consistent state seen. A later successful merge
	// returns the view to LIVE.
	StatusDisconnected Status = "DISCONNECTED"
)

// RosterView is the reconciled membership view published to observers.
// Players are ordered by (joined_at, id) ascending; Revision increases with
// every publish so observers can discard anything they have already seen.
type RosterView struct {
	RoomID   uuid.UUID       `json:"room_id"`
	Players  []models.Player `json:"players"`
	Status   Status          `json:"status"`
	Revision uint64          `json:"revision"`
}

// RoomView is the reconciled room-state view published to observers.
type RoomView struct {
	Room     models.Room `json:"room"`
	Status   Status      `json:"status"`
	Revision uint64      `json:"revision"`
}
