package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/partyroom/internal/models"
	"github.com/rs/zerolog/log"
)

// Authority defines what the app layer needs from the room authority.
// Both calls are atomic on the authority side; room code uniqueness among
// live rooms is its guarantee, consumed here as a precondition.
type Authority interface {
	CreateRoom(ctx context.Context, hostDisplayName string) (*models.RoomHandle, error)
	JoinRoom(ctx context.Context, code, displayName string) (*models.RoomHandle, error)
}

// SessionSource gates every directory call on a Ready identity session.
type SessionSource interface {
	EnsureSession(ctx context.Context) (*models.Session, error)
}

const (
	defaultHostName   = "Host"
	defaultPlayerName = "Player"
)

// App handles host/join intents. No room codes are cached locally: code
// validity is authority-owned and racy to cache, so every call is a fresh
// round trip.
type App struct {
	authority Authority
	sessions  SessionSource
}

// NewApp creates a new directory App.
func NewApp(authority Authority, sessions SessionSource) *App {
	return &App{
		authority: authority,
		sessions:  sessions,
	}
}

// HostRoom sends a create intent and returns the new room's handle.
func (a *App) HostRoom(ctx context.Context, displayName string) (*models.RoomHandle, error) {
	session, err := a.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("host room: %w", err)
	}
	if !session.Ready() {
		return nil, ErrNotReady
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultHostName
	}

	handle, err := a.authority.CreateRoom(ctx, name)
	if err != nil {
		return nil, &DirectoryError{Op: "create", Err: err}
	}

	log.Info().
		Str("room_id", handle.RoomID.String()).
		Str("code", handle.Code).
		Msg("room created")
	return handle, nil
}

// JoinRoom normalizes the entered code and sends a join intent. An empty or
// malformed code fails locally before any network round trip.
func (a *App) JoinRoom(ctx context.Context, code, displayName string) (*models.RoomHandle, error) {
	normalized := models.NormalizeRoomCode(code)
	if !models.ValidRoomCode(normalized) {
		return nil, fmt.Errorf("invalid code %q: %w", code, ErrRoomNotFound)
	}

	session, err := a.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	if !session.Ready() {
		return nil, ErrNotReady
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultPlayerName
	}

	handle, err := a.authority.JoinRoom(ctx, normalized, name)
	if err != nil {
		// Terminal rejections pass through untouched so callers can match
		// on them; everything else is a directory failure.
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomFull) || errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
		return nil, &DirectoryError{Op: "join", Err: err}
	}

	log.Info().
		Str("room_id", handle.RoomID.String()).
		Str("code", normalized).
		Str("player_id", handle.PlayerID.String()).
		Msg("joined room")
	return handle, nil
}
