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

// RosterSource defines what the synchronizer needs from the authority: a
// full point-in-time roster read, ordered by join time.
type RosterSource interface {
	FetchRoster(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
}

// RosterSync keeps one consistent membership view of a room by combining a
// snapshot fetch with a stream of change hints. A hint carries no
// trustworthy payload, so every delivery triggers a full authoritative
// re-fetch; the merge step is the serialization point for the room.
type RosterSync struct {
	roomID   uuid.UUID
	source   RosterSource
	subs     *subs.Manager
	onUpdate func(RosterView)

	ctx    context.Context
	cancel context.CancelFunc
	sub    *subs.Subscription

	// kick coalesces bursts of hints into pending refresh work; the
	// refresher goroutine drains it one fetch at a time.
	kick chan struct{}

	mu         sync.Mutex
	players    map[uuid.UUID]models.Player
	status     Status
	revision   uint64
	appliedSeq uint64
	nextSeq    uint64
	resubbed   bool
}

// NewRosterSync creates a synchronizer for one room. onUpdate is invoked
// with every freshly merged view; merge-and-publish is atomic, so onUpdate
// must not block.
func NewRosterSync(roomID uuid.UUID, source RosterSource, manager *subs.Manager, onUpdate func(RosterView)) *RosterSync {
	return &RosterSync{
		roomID:   roomID,
		source:   source,
		subs:     manager,
		onUpdate: onUpdate,
		kick:     make(chan struct{}, 1),
		players:  make(map[uuid.UUID]models.Player),
		status:   StatusSyncing,
	}
}

// Start opens the hint subscription and requests the initial snapshot. The
// two race; the merge protocol makes the arrival order irrelevant.
func (s *RosterSync) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	sub, err := s.subs.Open(s.ctx, s.roomID, subs.TopicPlayers, s.onHint, s.onDrop)
	if err != nil {
		s.cancel()
		return fmt.Errorf("open players subscription: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go s.run()
	s.requestRefresh()
	return nil
}

// Stop tears the synchronizer down. Any in-flight fetch result arriving
// afterwards is discarded, never applied.
func (s *RosterSync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to close players subscription")
		}
	}
}

// View returns the current reconciled roster.
func (s *RosterSync) View() RosterView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *RosterSync) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			// A failed re-fetch degrades the view: the roster may already be
			// stale and claiming LIVE would hide that. The next successful
			// merge restores LIVE.
			if err := s.refresh(); err != nil && s.ctx.Err() == nil {
				s.degrade(err)
			}
		}
	}
}

// onHint is invoked per change hint. The payload is ignored: hints may be
// coalesced or dropped, so the only correct reaction is to re-derive state
// from the authority.
func (s *RosterSync) onHint(_ []byte) {
	s.requestRefresh()
}

func (s *RosterSync) requestRefresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// refresh fetches the authoritative roster and merges it in. Fetches are
// sequence-stamped at initiation so a slow response cannot roll the view
// back behind a fresher one that finished first.
func (s *RosterSync) refresh() error {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	players, err := s.source.FetchRoster(s.ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}

	s.apply(seq, players)
	return nil
}

// apply merges one fetched snapshot. An in-order snapshot replaces the
// mapping wholesale (this is how departures are observed); a snapshot that
// lost the race to a fresher one only adds players it alone knows about, so
// the published view never flickers back to an older, smaller set.
func (s *RosterSync) apply(seq uint64, fetched []models.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	if seq > s.appliedSeq {
		s.appliedSeq = seq
		merged := make(map[uuid.UUID]models.Player, len(fetched))
		for _, p := range fetched {
			merged[p.ID] = p
		}
		s.players = merged
	} else {
		for _, p := range fetched {
			if _, ok := s.players[p.ID]; !ok {
				s.players[p.ID] = p
			}
		}
	}

	// A successful merge proves the authority is reachable again, so any
	// prior degradation is over.
	s.status = StatusLive
	s.publishLocked()
}

// onDrop handles a dead hint stream: one re-subscribe attempt with a fresh
// snapshot; if that also fails, the view degrades visibly instead of
// freezing silently.
func (s *RosterSync) onDrop(cause error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	retried := s.resubbed
	s.resubbed = true
	s.mu.Unlock()

	if retried {
		s.degrade(cause)
		return
	}

	log.Warn().Err(cause).Str("room_id", s.roomID.String()).Msg("players hint stream dropped, re-subscribing")

	s.mu.Lock()
	old := s.sub
	s.mu.Unlock()
	// The stream can die before Start stores the handle.
	if old != nil {
		if err := old.Close(); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to close dropped subscription")
		}
	}
	sub, err := s.subs.Open(s.ctx, s.roomID, subs.TopicPlayers, s.onHint, s.onDrop)
	if err != nil {
		s.degrade(fmt.Errorf("re-subscribe: %w", err))
		return
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.requestRefresh()
}

func (s *RosterSync) degrade(cause error) {
	log.Error().Err(cause).Str("room_id", s.roomID.String()).Msg("roster sync disconnected")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.status = StatusDisconnected
	s.publishLocked()
}

// publishLocked builds the ordered view and hands it to the observer while
// still holding the merge lock, so no two observers ever see a
// partially-merged intermediate differently.
func (s *RosterSync) publishLocked() {
	s.revision++
	if s.onUpdate != nil {
		s.onUpdate(s.viewLocked())
	}
}

func (s *RosterSync) viewLocked() RosterView {
	players := make([]models.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	models.SortRoster(players)
	return RosterView{
		RoomID:   s.roomID,
		Players:  players,
		Status:   s.status,
		Revision: s.revision,
	}
}
