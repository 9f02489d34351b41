package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds configuration for client WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
		SendBuffer:     32,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Connection is one client WebSocket. Each connection owns exactly one
// RoomSession; the session's view updates are the only traffic pushed down.
type Connection struct {
	ID     string
	RoomID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte

	registry *Registry
	config   ConnectionConfig

	closed    chan struct{}
	closeOnce sync.Once
}

// Registry tracks live gateway connections per room, for stats and for
// closing everything on shutdown.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Connection]bool
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
	}
}

func (r *Registry) add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[conn.RoomID] == nil {
		r.rooms[conn.RoomID] = make(map[*Connection]bool)
	}
	r.rooms[conn.RoomID][conn] = true
}

func (r *Registry) remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.rooms[conn.RoomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, conn.RoomID)
		}
	}
}

// Stats returns connection counts per room.
func (r *Registry) Stats() (total int, rooms map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms = make(map[string]int, len(r.rooms))
	for roomID, conns := range r.rooms {
		rooms[roomID.String()] = len(conns)
		total += len(conns)
	}
	return total, rooms
}

// CloseAll closes every live connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*Connection
	for _, conns := range r.rooms {
		for conn := range conns {
			all = append(all, conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range all {
		conn.close()
	}
}

// enqueue pushes a marshaled event to the client, dropping the connection
// if its buffer is full.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	case c.Send <- data:
		return true
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("room_id", c.RoomID.String()).
			Msg("connection send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.registry.remove(c)
		close(c.closed)
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames until the socket dies. Clients have
// nothing to say on this protocol; reading only services control frames.
func (c *Connection) readPump(onClose func()) {
	defer func() {
		c.close()
		c.Conn.Close()
		onClose()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
