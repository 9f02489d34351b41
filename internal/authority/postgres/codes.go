package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
)

const maxCodeAttempts = 5

// generateRoomCode returns a random code drawn from the room code alphabet.
func generateRoomCode() (string, error) {
	buf := make([]byte, models.RoomCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(models.RoomCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		buf[i] = models.RoomCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// insertRoomWithFreshCode inserts a new room row, regenerating the code on
// collision with a live room. ON CONFLICT DO NOTHING keeps a collision from
// aborting the surrounding transaction.
func insertRoomWithFreshCode(ctx context.Context, tx *sql.Tx) (uuid.UUID, string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateRoomCode()
		if err != nil {
			return uuid.Nil, "", err
		}

		var roomID uuid.UUID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO rooms (code) VALUES ($1)
			 ON CONFLICT (code) DO NOTHING
			 RETURNING id`,
			code,
		).Scan(&roomID)
		if err == sql.ErrNoRows {
			continue // code taken, try another
		}
		if err != nil {
			return uuid.Nil, "", fmt.Errorf("insert room: %w", err)
		}
		return roomID, code, nil
	}
	return uuid.Nil, "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}
