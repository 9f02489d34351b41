package roomsession

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/directory"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/mcdev12/partyroom/internal/roomsync"
	"github.com/mcdev12/partyroom/internal/subs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTransport routes hints from authority mutations straight to the
// in-process subscribers, standing in for the NOTIFY→NATS pipeline.
type loopbackTransport struct {
	mu   sync.Mutex
	subs map[string][]*loopSub
}

type loopSub struct {
	transport *loopbackTransport
	key       string
	deliver   func([]byte)
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{subs: make(map[string][]*loopSub)}
}

func key(roomID uuid.UUID, topic string) string {
	return fmt.Sprintf("%s/%s", roomID, topic)
}

func (t *loopbackTransport) Subscribe(ctx context.Context, roomID uuid.UUID, topic string, deliver func([]byte), dropped func(error)) (subs.TransportSub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &loopSub{transport: t, key: key(roomID, topic), deliver: deliver}
	t.subs[sub.key] = append(t.subs[sub.key], sub)
	return sub, nil
}

func (s *loopSub) Unsubscribe() error {
	t := s.transport
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.subs[s.key][:0]
	for _, sub := range t.subs[s.key] {
		if sub != s {
			live = append(live, sub)
		}
	}
	t.subs[s.key] = live
	return nil
}

func (t *loopbackTransport) emit(roomID uuid.UUID, topic string) {
	t.mu.Lock()
	targets := append([]*loopSub(nil), t.subs[key(roomID, topic)]...)
	t.mu.Unlock()
	for _, sub := range targets {
		sub.deliver(nil)
	}
}

// memAuthority is an in-memory room authority with the same contract as
// the Postgres one: atomic mutations, monotonic joined_at, hints after
// every change.
type memAuthority struct {
	mu        sync.Mutex
	transport *loopbackTransport
	rooms     map[uuid.UUID]*models.Room
	byCode    map[string]uuid.UUID
	players   map[uuid.UUID][]models.Player
	clock     time.Time
}

func newMemAuthority(transport *loopbackTransport) *memAuthority {
	return &memAuthority{
		transport: transport,
		rooms:     make(map[uuid.UUID]*models.Room),
		byCode:    make(map[string]uuid.UUID),
		players:   make(map[uuid.UUID][]models.Player),
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memAuthority) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memAuthority) CreateRoom(ctx context.Context, hostDisplayName string) (*models.RoomHandle, error) {
	m.mu.Lock()
	roomID := uuid.New()
	code := "WXYZ"
	now := m.tick()
	m.rooms[roomID] = &models.Room{
		ID: roomID, Code: code, Phase: "LOBBY",
		Status: models.RoomStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	m.byCode[code] = roomID
	host := models.Player{ID: uuid.New(), RoomID: roomID, DisplayName: hostDisplayName, JoinedAt: now}
	m.players[roomID] = []models.Player{host}
	m.mu.Unlock()

	m.transport.emit(roomID, subs.TopicPlayers)
	m.transport.emit(roomID, subs.TopicRoom)
	return &models.RoomHandle{RoomID: roomID, Code: code, PlayerID: host.ID}, nil
}

func (m *memAuthority) JoinRoom(ctx context.Context, code, displayName string) (*models.RoomHandle, error) {
	m.mu.Lock()
	roomID, ok := m.byCode[code]
	if !ok {
		m.mu.Unlock()
		return nil, directory.ErrRoomNotFound
	}
	p := models.Player{ID: uuid.New(), RoomID: roomID, DisplayName: displayName, JoinedAt: m.tick()}
	m.players[roomID] = append(m.players[roomID], p)
	m.mu.Unlock()

	m.transport.emit(roomID, subs.TopicPlayers)
	return &models.RoomHandle{RoomID: roomID, Code: code, PlayerID: p.ID}, nil
}

func (m *memAuthority) LeaveRoom(ctx context.Context, roomID, playerID uuid.UUID) error {
	m.mu.Lock()
	remaining := m.players[roomID][:0]
	for _, p := range m.players[roomID] {
		if p.ID != playerID {
			remaining = append(remaining, p)
		}
	}
	m.players[roomID] = remaining
	m.mu.Unlock()

	m.transport.emit(roomID, subs.TopicPlayers)
	return nil
}

func (m *memAuthority) FetchRoster(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Player(nil), m.players[roomID]...)
	models.SortRoster(out)
	return out, nil
}

func (m *memAuthority) FetchRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := *m.rooms[roomID]
	return &room, nil
}

func (m *memAuthority) setPhase(roomID uuid.UUID, phase string) {
	m.mu.Lock()
	m.rooms[roomID].Phase = phase
	m.rooms[roomID].UpdatedAt = m.tick()
	m.mu.Unlock()
	m.transport.emit(roomID, subs.TopicRoom)
}

type readySessions struct{}

func (readySessions) EnsureSession(ctx context.Context) (*models.Session, error) {
	return &models.Session{IdentityID: uuid.New(), Status: models.SessionStatusReady}, nil
}

func newTestApp(t *testing.T) (*App, *memAuthority) {
	t.Helper()
	transport := newLoopbackTransport()
	authority := newMemAuthority(transport)
	dir := directory.NewApp(authority, readySessions{})
	return NewApp(dir, authority, authority, transport), authority
}

func TestHostThenJoinConverges(t *testing.T) {
	app, _ := newTestApp(t)

	hostSession, err := app.Host(context.Background(), "Hana")
	require.NoError(t, err)
	defer hostSession.Dispose()
	assert.Equal(t, "WXYZ", hostSession.Handle.Code)

	// Second client joins with the lowercase code.
	joinSession, err := app.Join(context.Background(), "wxyz", "Jo")
	require.NoError(t, err)
	defer joinSession.Dispose()
	assert.Equal(t, hostSession.Handle.RoomID, joinSession.Handle.RoomID)

	for _, session := range []*RoomSession{hostSession, joinSession} {
		require.Eventually(t, func() bool {
			return len(session.Roster().Players) == 2
		}, time.Second, 5*time.Millisecond)

		roster := session.Roster()
		assert.Equal(t, "Hana", roster.Players[0].DisplayName, "host joined first")
		assert.Equal(t, "Jo", roster.Players[1].DisplayName)
		assert.Equal(t, roomsync.StatusLive, roster.Status)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	app, _ := newTestApp(t)
	_, err := app.Join(context.Background(), "QQQQ", "Jo")
	assert.ErrorIs(t, err, directory.ErrRoomNotFound)
}

func TestStateChannelMirrorsPhase(t *testing.T) {
	app, authority := newTestApp(t)

	session, err := app.Host(context.Background(), "Hana")
	require.NoError(t, err)
	defer session.Dispose()

	require.Eventually(t, func() bool {
		return session.State().Status == roomsync.StatusLive
	}, time.Second, 5*time.Millisecond)

	authority.setPhase(session.Handle.RoomID, "PLAYING")
	require.Eventually(t, func() bool {
		return session.State().Room.Phase == "PLAYING"
	}, time.Second, 5*time.Millisecond)
}

func TestWatchDeliversUpdatesUntilDispose(t *testing.T) {
	app, authority := newTestApp(t)

	session, err := app.Host(context.Background(), "Hana")
	require.NoError(t, err)

	updates, unwatch := session.Watch()
	defer unwatch()

	authority.setPhase(session.Handle.RoomID, "PLAYING")

	require.Eventually(t, func() bool {
		select {
		case u, ok := <-updates:
			return ok && (u.Roster != nil || u.State != nil)
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	session.Dispose()

	// The watcher channel closes on dispose; no further updates arrive.
	require.Eventually(t, func() bool {
		_, ok := <-updates
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLeaveRemovesPlayerFromPeers(t *testing.T) {
	app, _ := newTestApp(t)

	hostSession, err := app.Host(context.Background(), "Hana")
	require.NoError(t, err)
	defer hostSession.Dispose()

	joinSession, err := app.Join(context.Background(), "WXYZ", "Jo")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(hostSession.Roster().Players) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, joinSession.Leave(context.Background()))

	require.Eventually(t, func() bool {
		return len(hostSession.Roster().Players) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Hana", hostSession.Roster().Players[0].DisplayName)
}

func TestDisposeIsIdempotent(t *testing.T) {
	app, _ := newTestApp(t)

	session, err := app.Host(context.Background(), "Hana")
	require.NoError(t, err)

	session.Dispose()
	session.Dispose()
	assert.NotPanics(t, func() { session.Dispose() })
}
