package postgres

import (
	"context"
	"fmt"
)

// Schema for the room authority. updated_at doubles as the room's revision
// indicator for the sync layer's freshest-wins reconciliation.
const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    code       TEXT NOT NULL UNIQUE,
    phase      TEXT NOT NULL DEFAULT 'LOBBY',
    status     TEXT NOT NULL DEFAULT 'OPEN',
    settings   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    room_id      UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
    identity_id  UUID REFERENCES identities(id),
    display_name TEXT NOT NULL,
    joined_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS players_room_joined_idx ON players (room_id, joined_at, id);
`

// EnsureSchema creates the authority tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
