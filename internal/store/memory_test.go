package store

import (
	"context"
	"testing"

	"github.com/kiliankoe/casefile/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProfiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("admin", "")

	_, err := m.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	p := Profile{UserID: "u1", DisplayName: "Alice", DifficultyTier: game.TierB}
	require.NoError(t, m.SetProfile(ctx, p))
	got, err := m.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	ok, err := m.IsAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = m.IsAdmin(ctx, "u1")
	assert.False(t, ok)
	ok, _ = m.IsAdmin(ctx, "")
	assert.False(t, ok)
}

func TestMemoryRecordsThroughRecorder(t *testing.T) {
	m := NewMemory()
	r := Recorder{Archive: m, Stats: m}

	require.NoError(t, r.RecordGame(context.Background(), sampleRecord()))
	require.NoError(t, r.RecordGame(context.Background(), sampleRecord()))

	assert.Len(t, m.Documents(), 4)
	assert.Equal(t, 2, m.Plays("u2"))
	assert.Equal(t, 2, m.HardModeCompletions("u1"))
	assert.Zero(t, m.HardModeCompletions("u3"))
}
