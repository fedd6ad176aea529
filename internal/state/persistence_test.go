package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

func sampleSnapshot() Snapshot {
	opened := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return Snapshot{
		Risk: risk.State{
			DailyPnL:          -120,
			DailyLossBreached: true,
			DayStart:          time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			DayStartEquity:    10000,
			OpenPositions: map[string]risk.Position{
				"ETHUSDT": {Symbol: "ETHUSDT", Side: types.SideLong, Size: 1, EntryPrice: 3000, StopPrice: 2900, OpenedAt: opened},
				"BTCUSDT": {Symbol: "BTCUSDT", Side: types.SideLong, Size: 0.1, EntryPrice: 60000, StopPrice: 58000, OpenedAt: opened},
			},
		},
		History: []execution.ClosedTrade{
			{ID: "t1", Symbol: "SOLUSDT", Side: types.SideLong, Size: 10, EntryPrice: 150, ExitPrice: 138, PnL: -120, ExitReason: strategy.ExitReasonATRStop, OpenedAt: opened, ClosedAt: opened.Add(time.Hour)},
		},
	}
}

// TestStore_SaveLoadRoundTrip restores positions and the daily ledger
func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(Config{Path: filepath.Join(t.TempDir(), "state", "bot.json")}, nil)

	require.NoError(t, store.Save(sampleSnapshot()))

	snap, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.False(t, snap.SavedAt.IsZero())
	assert.True(t, snap.Risk.DailyLossBreached)
	assert.Equal(t, -120.0, snap.Risk.DailyPnL)

	positions := snap.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, 58000.0, positions[0].StopPrice)

	require.Len(t, snap.History, 1)
	assert.Equal(t, strategy.ExitReasonATRStop, snap.History[0].ExitReason)
}

// TestStore_LoadMissing starts clean
func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(Config{Path: filepath.Join(t.TempDir(), "none.json")}, nil)

	snap, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

// TestStore_BackupUsedWhenMainCorrupt falls back to the previous snapshot
func TestStore_BackupUsedWhenMainCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json")
	store := NewStore(Config{Path: path}, nil)

	first := sampleSnapshot()
	require.NoError(t, store.Save(first))
	second := sampleSnapshot()
	second.Risk.DailyPnL = 55
	require.NoError(t, store.Save(second))

	_, err := os.Stat(store.BackupPath())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, -120.0, snap.Risk.DailyPnL)
}

// TestStore_VersionMismatch refuses snapshots from another format
func TestStore_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"0"}`), 0644))

	_, err := NewStore(Config{Path: path}, nil).Load()
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

// TestStore_TrimsHistory keeps the most recent trades
func TestStore_TrimsHistory(t *testing.T) {
	store := NewStore(Config{Path: filepath.Join(t.TempDir(), "bot.json"), MaxHistory: 2}, nil)

	snap := sampleSnapshot()
	snap.History = []execution.ClosedTrade{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "b", loaded.History[0].ID)
	assert.Equal(t, "c", loaded.History[1].ID)
}

// TestBackupPath inserts the suffix before the extension
func TestBackupPath(t *testing.T) {
	store := NewStore(Config{Path: "data/state.json"}, nil)
	assert.Equal(t, "data/state_backup.json", store.BackupPath())
}
