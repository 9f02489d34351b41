package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Player is one participant inside a room.
type Player struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// SortRoster orders players by (joined_at, id) ascending. The id tiebreak
// keeps the ordering total when two players share a join timestamp.
func SortRoster(players []Player) {
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID.String() < players[j].ID.String()
	})
}
