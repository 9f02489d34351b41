package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/directory"
	"github.com/mcdev12/partyroom/internal/identity"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// NotifyChannel is the Postgres channel mutations announce themselves on.
// The hint bridge LISTENs here and republishes to the hint transport.
const NotifyChannel = "room_events"

// Config holds authority-side policy knobs.
type Config struct {
	RoomCapacity   int
	AllowAnonymous bool
}

// DefaultConfig returns the default authority configuration.
func DefaultConfig() Config {
	return Config{
		RoomCapacity:   10,
		AllowAnonymous: true,
	}
}

// Repository is the Postgres-backed room authority. It owns room-code
// uniqueness and atomic membership inserts; everything above it only
// consumes those guarantees.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository creates a new authority repository.
func NewRepository(db *sql.DB, cfg Config) *Repository {
	return &Repository{
		db:  db,
		cfg: cfg,
	}
}

// hint is the payload carried through NOTIFY and onto the transport. The
// sync layer treats it as a low-information trigger either way.
type hint struct {
	RoomID uuid.UUID `json:"room_id"`
	Topic  string    `json:"topic"`
}

// EnsureIdentity issues a new anonymous identity. Identity reuse across
// calls is the caller's concern (the identity app caches per process).
func (r *Repository) EnsureIdentity(ctx context.Context) (uuid.UUID, error) {
	if !r.cfg.AllowAnonymous {
		return uuid.Nil, fmt.Errorf("anonymous sign-in disabled: %w", identity.ErrAuthUnavailable)
	}

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO identities DEFAULT VALUES RETURNING id`,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("issue identity: %w: %w", identity.ErrAuthUnavailable, err)
	}
	return id, nil
}

// CreateRoom atomically creates a room with a unique live code and inserts
// the host as its first player.
func (r *Repository) CreateRoom(ctx context.Context, hostDisplayName string) (*models.RoomHandle, error) {
	var handle models.RoomHandle
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		roomID, code, err := insertRoomWithFreshCode(ctx, tx)
		if err != nil {
			return err
		}

		var playerID uuid.UUID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO players (room_id, display_name) VALUES ($1, $2) RETURNING id`,
			roomID, hostDisplayName,
		).Scan(&playerID)
		if err != nil {
			return fmt.Errorf("insert host player: %w", err)
		}

		if err := notify(ctx, tx, roomID, "players"); err != nil {
			return err
		}
		if err := notify(ctx, tx, roomID, "room"); err != nil {
			return err
		}

		handle = models.RoomHandle{RoomID: roomID, Code: code, PlayerID: playerID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("room_id", handle.RoomID.String()).
		Str("code", handle.Code).
		Msg("room created")
	return &handle, nil
}

// JoinRoom atomically inserts a member into a live room. The room row is
// locked for the duration so two racing joins cannot both pass the
// capacity check.
func (r *Repository) JoinRoom(ctx context.Context, code, displayName string) (*models.RoomHandle, error) {
	var handle models.RoomHandle
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var (
			roomID uuid.UUID
			status models.RoomStatus
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, status FROM rooms WHERE code = $1 FOR UPDATE`,
			code,
		).Scan(&roomID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return directory.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup room: %w", err)
		}
		if status != models.RoomStatusOpen {
			return directory.ErrRoomClosed
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM players WHERE room_id = $1`, roomID,
		).Scan(&count); err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if count >= r.cfg.RoomCapacity {
			return directory.ErrRoomFull
		}

		var playerID uuid.UUID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO players (room_id, display_name) VALUES ($1, $2) RETURNING id`,
			roomID, displayName,
		).Scan(&playerID)
		if err != nil {
			return fmt.Errorf("insert player: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET updated_at = now() WHERE id = $1`, roomID,
		); err != nil {
			return fmt.Errorf("touch room: %w", err)
		}

		if err := notify(ctx, tx, roomID, "players"); err != nil {
			return err
		}

		handle = models.RoomHandle{RoomID: roomID, Code: code, PlayerID: playerID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

// LeaveRoom removes a player from a room.
func (r *Repository) LeaveRoom(ctx context.Context, roomID, playerID uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM players WHERE id = $1 AND room_id = $2`,
			playerID, roomID,
		)
		if err != nil {
			return fmt.Errorf("delete player: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete player: %w", err)
		}
		if affected == 0 {
			return nil
		}
		return notify(ctx, tx, roomID, "players")
	})
}

// FetchRoster returns the full roster ordered by (joined_at, id).
func (r *Repository) FetchRoster(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, room_id, display_name, joined_at
		 FROM players WHERE room_id = $1
		 ORDER BY joined_at, id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.RoomID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	return players, nil
}

// FetchRoom returns the room row.
func (r *Repository) FetchRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var (
		room     models.Room
		settings pqtype.NullRawMessage
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, phase, status, settings, created_at, updated_at
		 FROM rooms WHERE id = $1`,
		roomID,
	).Scan(&room.ID, &room.Code, &room.Phase, &room.Status, &settings, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch room: %w", err)
	}
	if settings.Valid {
		room.Settings = json.RawMessage(settings.RawMessage)
	}
	return &room, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notify announces a mutation on the notify channel, inside the same
// transaction so hints are only emitted for committed changes.
func notify(ctx context.Context, tx *sql.Tx, roomID uuid.UUID, topic string) error {
	payload, err := json.Marshal(hint{RoomID: roomID, Topic: topic})
	if err != nil {
		return fmt.Errorf("marshal hint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", topic, err)
	}
	return nil
}
