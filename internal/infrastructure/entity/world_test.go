package entity

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

func TestSpawnAndPosition(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	w.Spawn("agent-1", geo.Position{X: 1, Y: 64, Z: 2})

	pos, ok := w.Position("agent-1")
	require.True(t, ok)
	assert.Equal(t, geo.Position{X: 1, Y: 64, Z: 2}, pos)

	w.Despawn("agent-1")
	_, ok = w.Position("agent-1")
	assert.False(t, ok)
}

func TestStartPathRequiresSpawnedEntity(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	assert.False(t, w.StartPath("ghost", geo.Position{X: 10}))

	w.Spawn("agent-1", geo.Position{})
	assert.True(t, w.StartPath("agent-1", geo.Position{X: 10}))
}

func TestReachedDestinationAdvancesStepwise(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	w.Spawn("agent-1", geo.Position{})
	dest := geo.Position{X: 10}
	require.True(t, w.StartPath("agent-1", dest))

	// 10 units at 4 per check: two partial advances, arrival on the third.
	assert.False(t, w.ReachedDestination("agent-1", dest))
	assert.False(t, w.ReachedDestination("agent-1", dest))
	assert.True(t, w.ReachedDestination("agent-1", dest))

	pos, _ := w.Position("agent-1")
	assert.Equal(t, dest, pos)
}

func TestReachedDestinationWithoutPathOnlyChecksPosition(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	w.Spawn("agent-1", geo.Position{X: 5})

	assert.False(t, w.ReachedDestination("agent-1", geo.Position{X: 50}))
	assert.True(t, w.ReachedDestination("agent-1", geo.Position{X: 5.1}))
}

func TestPlaceAndRemoveBlock(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	w.Spawn("agent-1", geo.Position{})
	pos := geo.Position{X: 3, Y: 64, Z: 3}

	require.NoError(t, w.PlaceBlock("agent-1", pos, "stone"))
	material, ok := w.BlockAt(pos)
	require.True(t, ok)
	assert.Equal(t, "stone", material)

	err := w.PlaceBlock("agent-1", pos, "dirt")
	assert.ErrorIs(t, err, ErrBlockOccupied)

	require.NoError(t, w.RemoveBlock("agent-1", pos))
	assert.Equal(t, 0, w.BlockCount())
	assert.ErrorIs(t, w.RemoveBlock("agent-1", pos), ErrBlockAbsent)
}

func TestWorldActionsRequireSpawnedEntity(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	pos := geo.Position{X: 1}
	assert.ErrorIs(t, w.PlaceBlock("ghost", pos, "stone"), ErrNotSpawned)
	assert.ErrorIs(t, w.RemoveBlock("ghost", pos), ErrNotSpawned)
	assert.ErrorIs(t, w.Say("ghost", "hi"), ErrNotSpawned)
}

func TestSayRetainsBoundedHistory(t *testing.T) {
	w := NewWorld(zerolog.Nop())
	w.Spawn("agent-1", geo.Position{})

	for i := 0; i < chatHistory+10; i++ {
		require.NoError(t, w.Say("agent-1", "line"))
	}

	lines := w.RecentChat()
	assert.Len(t, lines, chatHistory)
	assert.Equal(t, "agent-1", lines[0].AgentKey)
}
