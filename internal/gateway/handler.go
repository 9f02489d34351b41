package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/partyroom/internal/directory"
	"github.com/mcdev12/partyroom/internal/identity"
	"github.com/mcdev12/partyroom/internal/roomsession"
	"github.com/rs/zerolog/log"
)

// Sessions defines what the gateway needs from the room session layer.
type Sessions interface {
	Host(ctx context.Context, displayName string) (*roomsession.RoomSession, error)
	Join(ctx context.Context, code, displayName string) (*roomsession.RoomSession, error)
}

// Handler upgrades client connections and streams reconciled room views to
// them. One WebSocket connection = one participant = one RoomSession.
type Handler struct {
	sessions Sessions
	registry *Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// NewHandler creates a gateway handler.
func NewHandler(sessions Sessions, registry *Registry, config ConnectionConfig) *Handler {
	return &Handler{
		sessions: sessions,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// RegisterRoutes registers the gateway HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	log.Info().Msg("gateway routes registered")
}

// HandleRoomConnection serves one participant. Query parameters:
// host=1&name=... creates a room; code=...&name=... joins one.
func (h *Handler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	hostIntent := r.URL.Query().Get("host") == "1"
	code := r.URL.Query().Get("code")
	name := r.URL.Query().Get("name")

	if !hostIntent && code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	var (
		session *roomsession.RoomSession
		err     error
	)
	if hostIntent {
		session, err = h.sessions.Host(r.Context(), name)
	} else {
		session, err = h.sessions.Join(r.Context(), code, name)
	}
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		// The join (or room creation) already committed; the participant
		// must be removed again or peers see a ghost until the sweeper.
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Leave(leaveCtx); err != nil {
			log.Error().Err(err).
				Str("room_id", session.Handle.RoomID.String()).
				Msg("failed to leave room after upgrade failure")
		}
		return
	}

	connection := &Connection{
		ID:       uuid.New().String(),
		RoomID:   session.Handle.RoomID,
		Conn:     conn,
		Send:     make(chan []byte, h.config.SendBuffer),
		registry: h.registry,
		config:   h.config,
		closed:   make(chan struct{}),
	}
	h.registry.add(connection)

	updates, unwatch := session.Watch()

	go connection.writePump()
	go connection.readPump(func() {
		unwatch()
		// Leaving uses a fresh context: the request context is long gone by
		// the time the socket closes.
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Leave(leaveCtx); err != nil {
			log.Error().Err(err).
				Str("room_id", session.Handle.RoomID.String()).
				Msg("failed to leave room on disconnect")
		}
	})
	go h.stream(connection, session, updates)

	log.Info().
		Str("connection_id", connection.ID).
		Str("room_id", session.Handle.RoomID.String()).
		Str("player_id", session.Handle.PlayerID.String()).
		Msg("websocket connection established")
}

// stream sends the current views immediately, then relays fanout updates.
// The immediate send means a client has data before the first live event.
func (h *Handler) stream(conn *Connection, session *roomsession.RoomSession, updates <-chan roomsession.Update) {
	roster := session.Roster()
	state := session.State()
	h.send(conn, roomsession.Update{Roster: &roster})
	h.send(conn, roomsession.Update{State: &state})

	for update := range updates {
		if !h.send(conn, update) {
			return
		}
	}
}

func (h *Handler) send(conn *Connection, update roomsession.Update) bool {
	event, err := encodeUpdate(update)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to encode update")
		return true
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to marshal event")
		return true
	}
	return conn.enqueue(data)
}

// HandleStats returns connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total_connections": total,
		"room_connections":  rooms,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, directory.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrRoomFull), errors.Is(err, directory.ErrRoomClosed):
		return http.StatusConflict
	case errors.Is(err, identity.ErrAuthUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
