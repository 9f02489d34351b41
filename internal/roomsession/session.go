package roomsession

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/mcdev12/partyroom/internal/roomsync"
	"github.com/rs/zerolog/log"
)

// Update is one fanout notification: exactly one of Roster or State is set.
type Update struct {
	Roster *roomsync.RosterView
	State  *roomsync.RoomView
}

// RoomSession is one live, synchronized view of a room for one participant.
// It owns its subscriptions and synchronizers; Dispose tears all of it down
// and discards anything still in flight.
type RoomSession struct {
	Handle models.RoomHandle

	leaver Leaver
	cancel context.CancelFunc
	roster *roomsync.RosterSync
	state  *roomsync.RoomSync

	closeSubs func()

	disposeOnce sync.Once

	mu          sync.Mutex
	disposed    bool
	watchers    map[int]chan Update
	nextWatcher int
}

// Roster returns the current reconciled membership view.
func (s *RoomSession) Roster() roomsync.RosterView {
	return s.roster.View()
}

// State returns the current reconciled room state.
func (s *RoomSession) State() roomsync.RoomView {
	return s.state.View()
}

// Watch registers an observer for view updates. The returned cancel func
// detaches it. A watcher that cannot keep up has updates dropped rather
// than blocking the merge path; the next update carries the full view, so
// a drop loses nothing durable.
func (s *RoomSession) Watch() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// Leave removes the local participant from the room at the authority, then
// disposes the session.
func (s *RoomSession) Leave(ctx context.Context) error {
	err := s.leaver.LeaveRoom(ctx, s.Handle.RoomID, s.Handle.PlayerID)
	s.Dispose()
	return err
}

// Dispose cancels in-flight fetches, closes every subscription for the
// room, and detaches all watchers. Safe to call more than once.
func (s *RoomSession) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		watchers := s.watchers
		s.watchers = nil
		s.mu.Unlock()

		s.cancel()
		s.roster.Stop()
		s.state.Stop()
		s.closeSubs()

		for _, ch := range watchers {
			close(ch)
		}

		log.Info().
			Str("room_id", s.Handle.RoomID.String()).
			Str("player_id", s.Handle.PlayerID.String()).
			Msg("room session disposed")
	})
}

func (s *RoomSession) fanoutRoster(view roomsync.RosterView) {
	s.fanout(Update{Roster: &view})
}

func (s *RoomSession) fanoutState(view roomsync.RoomView) {
	s.fanout(Update{State: &view})
}

func (s *RoomSession) fanout(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	for id, ch := range s.watchers {
		select {
		case ch <- update:
		default:
			log.Warn().
				Str("room_id", s.Handle.RoomID.String()).
				Int("watcher", id).
				Msg("watcher slow, dropping update")
		}
	}
}

// Leaver defines what the session needs to honor an explicit leave.
type Leaver interface {
	LeaveRoom(ctx context.Context, roomID, playerID uuid.UUID) error
}
