package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/partyroom/internal/roomsession"
)

// EventType represents the type of room event sent to clients.
type EventType string

const (
	EventTypeRoster EventType = "Roster"
	EventTypeRoom   EventType = "Room"
)

// RoomEvent is the wire envelope for every message pushed to a client.
// Payloads are full reconciled views, never diffs, so a client that misses
// one event is fully repaired by the next.
type RoomEvent struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// encodeUpdate converts a session fanout update into a wire event.
func encodeUpdate(update roomsession.Update) (*RoomEvent, error) {
	switch {
	case update.Roster != nil:
		data, err := json.Marshal(update.Roster)
		if err != nil {
			return nil, fmt.Errorf("marshal roster view: %w", err)
		}
		return &RoomEvent{
			Type:      EventTypeRoster,
			RoomID:    update.Roster.RoomID.String(),
			Timestamp: time.Now(),
			Data:      data,
		}, nil
	case update.State != nil:
		data, err := json.Marshal(update.State)
		if err != nil {
			return nil, fmt.Errorf("marshal room view: %w", err)
		}
		return &RoomEvent{
			Type:      EventTypeRoom,
			RoomID:    update.State.Room.ID.String(),
			Timestamp: time.Now(),
			Data:      data,
		}, nil
	default:
		return nil, fmt.Errorf("empty update")
	}
}
