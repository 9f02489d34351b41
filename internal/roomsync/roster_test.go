package roomsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/mcdev12/partyroom/internal/subs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hintTransport is an in-process transport whose hints and drops the test
// fires by hand.
type hintTransport struct {
	mu   sync.Mutex
	subs []*hintSub
}

type hintSub struct {
	roomID  uuid.UUID
	topic   string
	deliver func([]byte)
	dropped func(error)

	mu           sync.Mutex
	unsubscribed bool
}

func (t *hintTransport) Subscribe(ctx context.Context, roomID uuid.UUID, topic string, deliver func([]byte), dropped func(error)) (subs.TransportSub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &hintSub{roomID: roomID, topic: topic, deliver: deliver, dropped: dropped}
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (s *hintSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (t *hintTransport) latest(topic string) *hintSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.subs) - 1; i >= 0; i-- {
		if t.subs[i].topic == topic {
			return t.subs[i]
		}
	}
	return nil
}

func (t *hintTransport) count(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// memRoster serves whatever roster the test last installed.
type memRoster struct {
	mu      sync.Mutex
	players []models.Player
	err     error
}

func (m *memRoster) set(players ...models.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players = players
}

func (m *memRoster) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memRoster) FetchRoster(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.Player, len(m.players))
	copy(out, m.players)
	return out, nil
}

type viewRecorder struct {
	mu    sync.Mutex
	views []RosterView
}

func (r *viewRecorder) record(v RosterView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder) all() []RosterView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RosterView, len(r.views))
	copy(out, r.views)
	return out
}

func player(name string, joined time.Time) models.Player {
	return models.Player{ID: uuid.New(), DisplayName: name, JoinedAt: joined}
}

func TestRosterSyncInitialSnapshot(t *testing.T) {
	base := time.Now()
	host := player("host", base)
	source := &memRoster{}
	source.set(host)

	transport := &hintTransport{}
	recorder := &viewRecorder{}
	s := NewRosterSync(uuid.New(), source, subs.NewManager(transport), recorder.record)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		v := s.View()
		return v.Status == StatusLive && len(v.Players) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, host.ID, s.View().Players[0].ID)
}

func TestRosterSyncEmptyRoomIsValid(t *testing.T) {
	source := &memRoster{}
	transport := &hintTransport{}
	s := NewRosterSync(uuid.New(), source, subs.NewManager(transport), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.View().Status == StatusLive
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.View().Players)
}

func TestRosterSyncHintTriggersRefetch(t *testing.T) {
	base := time.Now()
	host := player("host", base)
	source := &memRoster{}
	source.set(host)

	transport := &hintTransport{}
	s := NewRosterSync(uuid.New(), source, subs.NewManager(transport), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(s.View().Players) == 1
	}, time.Second, 5*time.Millisecond)

	joiner := player("joiner", base.Add(time.Second))
	source.set(host, joiner)
	transport.latest(subs.TopicPlayers).deliver(nil) // payload-free hint

	require.Eventually(t, func() bool {
		return len(s.View().Players) == 2
	}, time.Second, 5*time.Millisecond)

	v := s.View()
	assert.Equal(t, host.ID, v.Players[0].ID, "joined_at ordering host-then-joiner")
	assert.Equal(t, joiner.ID, v.Players[1].ID)
}

func TestApplyInOrderReplacesWholesale(t *testing.T) {
	base := time.Now()
	a := player("a", base)
	b := player("b", base.Add(time.Second))

	s := NewRosterSync(uuid.New(), &memRoster{}, subs.NewManager(&hintTransport{}), nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.apply(1, []models.Player{a})
	s.apply(2, []models.Player{a, b})
	s.apply(3, []models.Player{b})

	v := s.View()
	require.Len(t, v.Players, 1, "departures observed via the latest snapshot")
	assert.Equal(t, b.ID, v.Players[0].ID)
}

func TestApplyOutOfOrderKeepsUnion(t *testing.T) {
	base := time.Now()
	a := player("a", base)
	b := player("b", base.Add(time.Second))
	c := player("c", base.Add(2*time.Second))

	s := NewRosterSync(uuid.New(), &memRoster{}, subs.NewManager(&hintTransport{}), nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	// The fresher fetch (seq 2) finishes first; the stale one (seq 1)
	// arrives late and may only add, never shrink the view.
	s.apply(2, []models.Player{a, b})
	before := s.View()
	s.apply(1, []models.Player{a, c})
	after := s.View()

	require.Len(t, after.Players, 3, "union of both snapshots, no duplicates")
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids(after.Players))
	assert.GreaterOrEqual(t, len(after.Players), len(before.Players), "no flicker back to a smaller set")
	assert.Greater(t, after.Revision, before.Revision)
}

func TestApplyIsIdempotent(t *testing.T) {
	base := time.Now()
	a := player("a", base)
	b := player("b", base.Add(time.Second))

	s := NewRosterSync(uuid.New(), &memRoster{}, subs.NewManager(&hintTransport{}), nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.apply(1, []models.Player{a, b})
	first := s.View()
	s.apply(2, []models.Player{a, b})
	second := s.View()

	assert.Equal(t, first.Players, second.Players, "equal input sets publish identical sequences")
}

func TestStopDiscardsLateResponses(t *testing.T) {
	base := time.Now()
	recorder := &viewRecorder{}

	s := NewRosterSync(uuid.New(), &memRoster{}, subs.NewManager(&hintTransport{}), recorder.record)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return s.View().Status == StatusLive
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	published := len(recorder.all())

	// A fetch that was in flight during teardown lands now; it must produce
	// no observable update.
	s.apply(99, []models.Player{player("late", base)})

	assert.Len(t, recorder.all(), published)
	assert.Empty(t, s.View().Players)
}

func TestRefreshFailureDegradesThenRecovers(t *testing.T) {
	base := time.Now()
	host := player("host", base)
	source := &memRoster{}
	source.set(host)

	transport := &hintTransport{}
	s := NewRosterSync(uuid.New(), source, subs.NewManager(transport), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.View().Status == StatusLive
	}, time.Second, 5*time.Millisecond)

	// The authority goes away; the next hint-triggered re-fetch must not
	// leave the view claiming LIVE with a stale roster.
	source.failWith(errors.New("authority unreachable"))
	transport.latest(subs.TopicPlayers).deliver(nil)

	require.Eventually(t, func() bool {
		return s.View().Status == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{host.ID}, ids(s.View().Players), "last consistent roster survives")

	// The authority comes back; the next hint restores LIVE.
	source.failWith(nil)
	joiner := player("joiner", base.Add(time.Second))
	source.set(host, joiner)
	transport.latest(subs.TopicPlayers).deliver(nil)

	require.Eventually(t, func() bool {
		v := s.View()
		return v.Status == StatusLive && len(v.Players) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDropBeforeHandleStoredDoesNotPanic(t *testing.T) {
	transport := &hintTransport{}
	s := NewRosterSync(uuid.New(), &memRoster{}, subs.NewManager(transport), nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	// The stream dies between the transport subscribe and Start storing the
	// handle; the re-subscribe path has no handle to close yet.
	assert.NotPanics(t, func() { s.onDrop(errors.New("early drop")) })
	assert.Equal(t, 1, transport.count(subs.TopicPlayers), "re-subscribed")
}

func TestDropResubscribesOnceThenDegrades(t *testing.T) {
	source := &memRoster{}
	transport := &hintTransport{}
	recorder := &viewRecorder{}

	s := NewRosterSync(uuid.New(), source, subs.NewManager(transport), recorder.record)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.View().Status == StatusLive
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, transport.count(subs.TopicPlayers))

	// First drop: one re-subscribe attempt plus a fresh snapshot.
	transport.latest(subs.TopicPlayers).dropped(errors.New("stream lost"))
	require.Eventually(t, func() bool {
		return transport.count(subs.TopicPlayers) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusLive, s.View().Status)

	// Second drop: no more retries, the view degrades visibly.
	transport.latest(subs.TopicPlayers).dropped(errors.New("stream lost again"))
	require.Eventually(t, func() bool {
		return s.View().Status == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
}

func ids(players []models.Player) []uuid.UUID {
	out := make([]uuid.UUID, len(players))
	for i, p := range players {
		out[i] = p.ID
	}
	return out
}
