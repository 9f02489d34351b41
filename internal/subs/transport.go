package subs

import (
	"context"

	"github.com/google/uuid"
)

// Topic names the change-notification channels scoped to a room.
const (
	TopicPlayers = "players"
	TopicRoom    = "room"
)

// Transport delivers change-hint events for a (room, topic) pair. Hints are
// low-information: payloads may be coalesced, partial, or dropped entirely,
// so consumers must treat each delivery as "state may have changed".
type Transport interface {
	// Subscribe opens a hint stream. deliver is invoked per hint; dropped is
	// invoked at most once if the stream dies and will not recover.
	Subscribe(ctx context.Context, roomID uuid.UUID, topic string, deliver func(payload []byte), dropped func(error)) (TransportSub, error)
}

// TransportSub is the network resource behind one live subscription.
type TransportSub interface {
	Unsubscribe() error
}
