package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msx-grid-bot-go/internal/models"
)

func newTestRepository(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoadState(t *testing.T) {
	repo := newTestRepository(t)

	state := &models.RuntimeState{
		Symbol:         "ETHUSDT",
		Status:         models.StatusRunning,
		StartPrice:     3350,
		StartedAt:      time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
		LastFilledTime: 1756100060000,
		PositionID:     42,
	}
	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.Symbol, loaded.Symbol)
	assert.Equal(t, state.Status, loaded.Status)
	assert.Equal(t, state.StartPrice, loaded.StartPrice)
	assert.Equal(t, state.LastFilledTime, loaded.LastFilledTime)
	assert.Equal(t, state.PositionID, loaded.PositionID)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadStateNotFound(t *testing.T) {
	repo := newTestRepository(t)

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveStateOverwrites(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveState(&models.RuntimeState{Symbol: "ETHUSDT", Status: models.StatusRunning, LastFilledTime: 100}))
	require.NoError(t, repo.SaveState(&models.RuntimeState{Symbol: "ETHUSDT", Status: models.StatusStopped, LastFilledTime: 200}))

	loaded, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.StatusStopped, loaded.Status)
	assert.Equal(t, int64(200), loaded.LastFilledTime)
}

func TestDeleteState(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveState(&models.RuntimeState{Symbol: "ETHUSDT", Status: models.StatusRunning}))
	require.NoError(t, repo.DeleteState("ETHUSDT"))

	loaded, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting a missing key is not an error.
	require.NoError(t, repo.DeleteState("ETHUSDT"))
}

func TestStatesAreIsolatedPerSymbol(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveState(&models.RuntimeState{Symbol: "ETHUSDT", StartPrice: 3350}))
	require.NoError(t, repo.SaveState(&models.RuntimeState{Symbol: "BTCUSDT", StartPrice: 60000}))

	eth, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	btc, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3350.0, eth.StartPrice)
	assert.Equal(t, 60000.0, btc.StartPrice)
}
