package roomsession

import (
	"context"
	"fmt"

	"github.com/mcdev12/partyroom/internal/models"
	"github.com/mcdev12/partyroom/internal/roomsync"
	"github.com/mcdev12/partyroom/internal/subs"
)

// Directory defines what the app layer needs from the room directory.
type Directory interface {
	HostRoom(ctx context.Context, displayName string) (*models.RoomHandle, error)
	JoinRoom(ctx context.Context, code, displayName string) (*models.RoomHandle, error)
}

// Source is the authority read surface the synchronizers run against.
type Source interface {
	roomsync.RosterSource
	roomsync.RoomSource
}

// App activates synchronized room sessions from host/join intents. Each
// session gets its own subscription manager: the per-(room, topic) dedupe
// guarantee is scoped to one view context, not the whole process.
type App struct {
	directory Directory
	source    Source
	leaver    Leaver
	transport subs.Transport
}

// NewApp creates a new room session App.
func NewApp(directory Directory, source Source, leaver Leaver, transport subs.Transport) *App {
	return &App{
		directory: directory,
		source:    source,
		leaver:    leaver,
		transport: transport,
	}
}

// Host creates a room and activates a session for the host.
func (a *App) Host(ctx context.Context, displayName string) (*RoomSession, error) {
	handle, err := a.directory.HostRoom(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return a.activate(handle)
}

// Join joins an existing room by code and activates a session.
func (a *App) Join(ctx context.Context, code, displayName string) (*RoomSession, error) {
	handle, err := a.directory.JoinRoom(ctx, code, displayName)
	if err != nil {
		return nil, err
	}
	return a.activate(handle)
}

// activate wires a session's synchronizers. The session lifetime is owned
// by Dispose, not by the activating request's context: the view outlives
// the HTTP/WebSocket request that created it.
func (a *App) activate(handle *models.RoomHandle) (*RoomSession, error) {
	ctx, cancel := context.WithCancel(context.Background())
	manager := subs.NewManager(a.transport)

	session := &RoomSession{
		Handle:    *handle,
		leaver:    a.leaver,
		cancel:    cancel,
		closeSubs: manager.CloseAll,
		watchers:  make(map[int]chan Update),
	}
	session.roster = roomsync.NewRosterSync(handle.RoomID, a.source, manager, session.fanoutRoster)
	session.state = roomsync.NewRoomSync(handle.RoomID, a.source, manager, session.fanoutState)

	if err := session.roster.Start(ctx); err != nil {
		cancel()
		manager.CloseAll()
		return nil, fmt.Errorf("activate roster sync: %w", err)
	}
	if err := session.state.Start(ctx); err != nil {
		session.roster.Stop()
		cancel()
		manager.CloseAll()
		return nil, fmt.Errorf("activate room sync: %w", err)
	}

	return session, nil
}
