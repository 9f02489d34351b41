package roomsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/mcdev12/partyroom/internal/subs"
	"github.com/rs/zerolog/log"
)

// RoomSource defines what the state channel needs from the authority: a
// point-in-time read of the room row itself.
type RoomSource interface {
	FetchRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
}

// RoomSync mirrors the single room row (phase, status, settings) with the
// same re-fetch-on-hint protocol as the roster synchronizer. Room fields
// are owned by game logic; reconciliation is freshest-updated_at-wins,
// falling back to last-fetch-wins when timestamps tie.
type RoomSync struct {
	roomID   uuid.UUID
	source   RoomSource
	subs     *subs.Manager
	onUpdate func(RoomView)

	ctx    context.Context
	cancel context.CancelFunc

	kick chan struct{}

	mu         sync.Mutex
	sub        *subs.Subscription
	room       *models.Room
	status     Status
	revision   uint64
	appliedSeq uint64
	nextSeq    uint64
	resubbed   bool
}

// NewRoomSync creates a state channel for one room.
func NewRoomSync(roomID uuid.UUID, source RoomSource, manager *subs.Manager, onUpdate func(RoomView)) *RoomSync {
	return &RoomSync{
		roomID:   roomID,
		source:   source,
		subs:     manager,
		onUpdate: onUpdate,
		kick:     make(chan struct{}, 1),
		status:   StatusSyncing,
	}
}

// Start opens the room topic subscription and requests the initial fetch.
func (s *RoomSync) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	sub, err := s.subs.Open(s.ctx, s.roomID, subs.TopicRoom, s.onHint, s.onDrop)
	if err != nil {
		s.cancel()
		return fmt.Errorf("open room subscription: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go s.run()
	s.requestRefresh()
	return nil
}

// Stop tears the channel down; late fetch results are discarded.
func (s *RoomSync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to close room subscription")
		}
	}
}

// View returns the current reconciled room state.
func (s *RoomSync) View() RoomView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *RoomSync) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			// A failed re-fetch degrades the view rather than leaving a
			// possibly stale room claiming LIVE; the next successful merge
			// restores LIVE.
			if err := s.refresh(); err != nil && s.ctx.Err() == nil {
				s.degrade(err)
			}
		}
	}
}

func (s *RoomSync) onHint(_ []byte) {
	s.requestRefresh()
}

func (s *RoomSync) requestRefresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *RoomSync) refresh() error {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	room, err := s.source.FetchRoom(s.ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("fetch room: %w", err)
	}

	s.apply(seq, room)
	return nil
}

// apply installs a fetched room row. A response that lost the race to a
// fresher fetch is only applied when its updated_at is strictly newer than
// what the view already shows.
func (s *RoomSync) apply(seq uint64, fetched *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil || fetched == nil {
		return
	}

	if seq > s.appliedSeq {
		s.appliedSeq = seq
		s.room = fetched
	} else if s.room == nil || fetched.UpdatedAt.After(s.room.UpdatedAt) {
		s.room = fetched
	} else {
		return
	}

	// A successful merge proves the authority is reachable again, so any
	// prior degradation is over.
	s.status = StatusLive
	s.publishLocked()
}

func (s *RoomSync) onDrop(cause error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	retried := s.resubbed
	s.resubbed = true
	old := s.sub
	s.mu.Unlock()

	if retried {
		s.degrade(cause)
		return
	}

	log.Warn().Err(cause).Str("room_id", s.roomID.String()).Msg("room hint stream dropped, re-subscribing")

	// The stream can die before Start stores the handle.
	if old != nil {
		if err := old.Close(); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to close dropped subscription")
		}
	}
	sub, err := s.subs.Open(s.ctx, s.roomID, subs.TopicRoom, s.onHint, s.onDrop)
	if err != nil {
		s.degrade(fmt.Errorf("re-subscribe: %w", err))
		return
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.requestRefresh()
}

func (s *RoomSync) degrade(cause error) {
	log.Error().Err(cause).Str("room_id", s.roomID.String()).Msg("room sync disconnected")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.status = StatusDisconnected
	s.publishLocked()
}

func (s *RoomSync) publishLocked() {
	s.revision++
	if s.onUpdate != nil {
		s.onUpdate(s.viewLocked())
	}
}

func (s *RoomSync) viewLocked() RoomView {
	view := RoomView{
		Status:   s.status,
		Revision: s.revision,
	}
	if s.room != nil {
		view.Room = *s.room
	} else {
		view.Room = models.Room{ID: s.roomID}
	}
	return view
}
