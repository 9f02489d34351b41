package subs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS hint transport.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	SubjectPrefix string
}

// DefaultNATSConfig returns default NATS transport configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		SubjectPrefix: "room",
	}
}

// NATSTransport delivers change hints over core NATS subjects of the form
// <prefix>.<roomID>.<topic>. Hints are re-derivation triggers, not a durable
// event log, so core at-most-once delivery is enough.
type NATSTransport struct {
	nc     *nats.Conn
	cfg    NATSConfig
	closed chan struct{}
}

// NewNATSTransport connects to NATS and returns a hint transport.
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			close(closed)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSTransport{nc: nc, cfg: cfg, closed: closed}, nil
}

// Subject returns the hint subject for a (room, topic) pair.
func (t *NATSTransport) Subject(roomID uuid.UUID, topic string) string {
	return fmt.Sprintf("%s.%s.%s", t.cfg.SubjectPrefix, roomID, topic)
}

// PublishHint publishes a change hint for a (room, topic) pair. Used by the
// authority-side bridge; fire-and-forget.
func (t *NATSTransport) PublishHint(roomID, topic string, payload []byte) error {
	return t.nc.Publish(fmt.Sprintf("%s.%s.%s", t.cfg.SubjectPrefix, roomID, topic), payload)
}

// Subscribe opens a core NATS subscription for the pair's hint subject.
func (t *NATSTransport) Subscribe(ctx context.Context, roomID uuid.UUID, topic string, deliver func(payload []byte), dropped func(error)) (TransportSub, error) {
	subject := t.Subject(roomID, topic)
	sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	// A closed connection is terminal; reconnects are handled inside the
	// client and do not drop subscriptions.
	if dropped != nil {
		go func() {
			select {
			case <-ctx.Done():
			case <-t.closed:
				dropped(fmt.Errorf("nats connection closed"))
			}
		}()
	}

	return &natsSub{sub: sub}, nil
}

// Close tears down the NATS connection.
func (t *NATSTransport) Close() {
	t.nc.Close()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
