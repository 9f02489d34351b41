package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABCD", NormalizeRoomCode(" abcd "))
	assert.Equal(t, "ABCD", NormalizeRoomCode("ABCD"))
	assert.Equal(t, "WXYZ", NormalizeRoomCode("wxyz"))
	assert.Equal(t, "", NormalizeRoomCode("   "))
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("WXYZ"))
	assert.True(t, ValidRoomCode("A2B3"))

	assert.False(t, ValidRoomCode(""))
	assert.False(t, ValidRoomCode("ABC"))
	assert.False(t, ValidRoomCode("ABCDE"))
	assert.False(t, ValidRoomCode("abcd"), "validation runs on normalized codes only")
	assert.False(t, ValidRoomCode("AB0D"), "0 is not in the alphabet")
	assert.False(t, ValidRoomCode("AB1D"), "1 is not in the alphabet")
}

func TestSortRosterOrdersByJoinedAtThenID(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	idC := uuid.MustParse("00000000-0000-0000-0000-00000000000c")

	players := []Player{
		{ID: idC, DisplayName: "late", JoinedAt: base.Add(2 * time.Second)},
		{ID: idB, DisplayName: "tied-b", JoinedAt: base},
		{ID: idA, DisplayName: "tied-a", JoinedAt: base},
	}
	SortRoster(players)

	require.Len(t, players, 3)
	assert.Equal(t, idA, players[0].ID, "tie broken by id")
	assert.Equal(t, idB, players[1].ID)
	assert.Equal(t, idC, players[2].ID)
}

func TestSortRosterDeterministic(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := []Player{
		{ID: uuid.New(), JoinedAt: base.Add(time.Second)},
		{ID: uuid.New(), JoinedAt: base},
		{ID: uuid.New(), JoinedAt: base.Add(3 * time.Second)},
	}
	b := []Player{a[2], a[0], a[1]}

	SortRoster(a)
	SortRoster(b)
	assert.Equal(t, a, b, "equal input sets produce identical sequences")
}
