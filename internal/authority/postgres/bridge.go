package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// BridgeConfig holds configuration for the hint bridge.
type BridgeConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // channel to LISTEN on
	PingInterval  time.Duration // keepalive for the LISTEN connection
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

// DefaultBridgeConfig returns default bridge configuration.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		NotifyChannel: NotifyChannel,
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// HintPublisher is where bridged hints go; the NATS transport side of the
// pipeline implements it.
type HintPublisher interface {
	PublishHint(roomID, topic string, payload []byte) error
}

// Bridge relays Postgres NOTIFY events onto the hint transport. Delivery is
// best-effort: a lost hint only delays the next re-fetch, it cannot corrupt
// a view.
type Bridge struct {
	listener  *pq.Listener
	publisher HintPublisher
	cfg       BridgeConfig
}

// NewBridge opens a LISTEN connection and returns the bridge.
func NewBridge(publisher HintPublisher, cfg BridgeConfig) (*Bridge, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for room notifications")

	return &Bridge{
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Start relays notifications until the context is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(b.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hint bridge shutting down")
			return b.Stop()
		case note := <-b.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established;
				// nothing to relay
				continue
			}
			if err := b.relay(note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to relay notification")
			}
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Stop closes the LISTEN connection.
func (b *Bridge) Stop() error {
	return b.listener.Close()
}

// relay parses one NOTIFY payload and republishes it as a hint.
func (b *Bridge) relay(extra string) error {
	var h hint
	if err := json.Unmarshal([]byte(extra), &h); err != nil {
		return fmt.Errorf("invalid hint payload %q: %w", extra, err)
	}

	if err := b.publisher.PublishHint(h.RoomID.String(), h.Topic, []byte(extra)); err != nil {
		return fmt.Errorf("publish hint: %w", err)
	}

	log.Debug().
		Str("room_id", h.RoomID.String()).
		Str("topic", h.Topic).
		Msg("hint relayed")
	return nil
}
