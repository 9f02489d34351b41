package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SweeperConfig holds room expiry policy.
type SweeperConfig struct {
	Interval time.Duration // how often to sweep
	IdleTTL  time.Duration // rooms idle longer than this are closed
}

// DefaultSweeperConfig returns the default expiry policy.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Minute,
		IdleTTL:  2 * time.Hour,
	}
}

// Sweeper closes rooms that have gone idle past the TTL. Expiry is an
// authority-side concern; clients just observe the room flip to CLOSED
// through the state channel.
type Sweeper struct {
	repo  *Repository
	clock clockwork.Clock
	cfg   SweeperConfig
}

// NewSweeper creates a room expiry sweeper.
func NewSweeper(repo *Repository, clock clockwork.Clock, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		repo:  repo,
		clock: clock,
		cfg:   cfg,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("idle_ttl", s.cfg.IdleTTL).
		Msg("room sweeper started")

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room sweeper shutting down")
			return
		case <-ticker.Chan():
			if err := s.sweep(ctx); err != nil {
				log.Error().Err(err).Msg("room sweep failed")
			}
		}
	}
}

// sweep closes idle rooms and notifies their state channels.
func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.IdleTTL)

	rows, err := s.repo.db.QueryContext(ctx,
		`UPDATE rooms SET status = 'CLOSED', updated_at = now()
		 WHERE status = 'OPEN' AND updated_at < $1
		 RETURNING id`,
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("close idle rooms: %w", err)
	}
	defer rows.Close()

	var closed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan closed room: %w", err)
		}
		closed = append(closed, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("close idle rooms: %w", err)
	}

	for _, id := range closed {
		payload, err := json.Marshal(hint{RoomID: id, Topic: "room"})
		if err != nil {
			return fmt.Errorf("marshal hint: %w", err)
		}
		if _, err := s.repo.db.ExecContext(ctx,
			`SELECT pg_notify($1, $2)`, NotifyChannel, string(payload),
		); err != nil {
			return fmt.Errorf("notify closed room: %w", err)
		}
		log.Info().Str("room_id", id.String()).Msg("idle room closed")
	}
	return nil
}
