package subs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type subKey struct {
	roomID uuid.UUID
	topic  string
}

// Subscription is a live handle correlating a (room, topic) pair to a
// delivery callback. Close is idempotent and always releases the transport
// resource before returning.
type Subscription struct {
	roomID uuid.UUID
	topic  string

	manager  *Manager
	resource TransportSub

	closeOnce sync.Once
	closeErr  error
}

// RoomID returns the room this subscription is scoped to.
func (s *Subscription) RoomID() uuid.UUID { return s.roomID }

// Topic returns the topic this subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Close releases the subscription. Safe to call multiple times and from
// teardown paths; the transport resource is released before returning.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.manager.remove(s)
		s.closeErr = s.resource.Unsubscribe()
		log.Debug().
			Str("room_id", s.roomID.String()).
			Str("topic", s.topic).
			Msg("subscription closed")
	})
	return s.closeErr
}

// Manager owns the live subscriptions of one view context. It guarantees at
// most one live subscription per (room, topic): opening a duplicate returns
// the existing handle instead of double-consuming the transport.
type Manager struct {
	transport Transport

	mu   sync.Mutex
	live map[subKey]*Subscription
}

// NewManager creates a subscription manager over the given transport.
func NewManager(transport Transport) *Manager {
	return &Manager{
		transport: transport,
		live:      make(map[subKey]*Subscription),
	}
}

// Open returns a live subscription for (roomID, topic), creating one on the
// transport only if none exists in this context.
func (m *Manager) Open(ctx context.Context, roomID uuid.UUID, topic string, deliver func(payload []byte), dropped func(error)) (*Subscription, error) {
	key := subKey{roomID: roomID, topic: topic}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[key]; ok {
		return existing, nil
	}

	resource, err := m.transport.Subscribe(ctx, roomID, topic, deliver, dropped)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", roomID, topic, err)
	}

	sub := &Subscription{
		roomID:   roomID,
		topic:    topic,
		manager:  m,
		resource: resource,
	}
	m.live[key] = sub

	log.Debug().
		Str("room_id", roomID.String()).
		Str("topic", topic).
		Msg("subscription opened")
	return sub, nil
}

// CloseRoom closes every live subscription for a room.
func (m *Manager) CloseRoom(roomID uuid.UUID) {
	for _, sub := range m.snapshot() {
		if sub.roomID == roomID {
			if err := sub.Close(); err != nil {
				log.Error().Err(err).
					Str("room_id", roomID.String()).
					Str("topic", sub.topic).
					Msg("failed to close subscription")
			}
		}
	}
}

// CloseAll closes every live subscription in this context.
func (m *Manager) CloseAll() {
	for _, sub := range m.snapshot() {
		if err := sub.Close(); err != nil {
			log.Error().Err(err).
				Str("room_id", sub.roomID.String()).
				Str("topic", sub.topic).
				Msg("failed to close subscription")
		}
	}
}

// Len returns the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) snapshot() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.live))
	for _, sub := range m.live {
		out = append(out, sub)
	}
	return out
}

// remove detaches a subscription from the live set. Called from Close; a
// handle that was replaced already is left alone.
func (m *Manager) remove(s *Subscription) {
	key := subKey{roomID: s.roomID, topic: s.topic}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[key] == s {
		delete(m.live, key)
	}
}
