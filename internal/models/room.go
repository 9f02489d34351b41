package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusOpen   RoomStatus = "OPEN"
	RoomStatusClosed RoomStatus = "CLOSED"
)

// Room code alphabet excludes ambiguous characters (0/O, 1/I/L).
const (
	RoomCodeLength   = 4
	RoomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// Room is one live party session, addressed by a short human-shareable code.
// Phase is an opaque token owned by game logic; this layer only mirrors it.
type Room struct {
	ID        uuid.UUID       `json:"id"`
	Code      string          `json:"code"`
	Phase     string          `json:"phase"`
	Status    RoomStatus      `json:"status"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RoomHandle is what a successful host/join intent yields: enough to open
// a synchronized view of the room and identify the local participant in it.
type RoomHandle struct {
	RoomID   uuid.UUID `json:"room_id"`
	Code     string    `json:"code"`
	PlayerID uuid.UUID `json:"player_id"`
}

// NormalizeRoomCode trims surrounding whitespace and uppercases a
// human-entered room code. Codes are case-insensitive on entry.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether a normalized code has the expected length
// and draws only from the code alphabet.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, r) {
			return false
		}
	}
	return true
}
