package usecase

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTracker_AddGetRemove(t *testing.T) {
	dir := t.TempDir()
	tr := NewPositionTracker(dir, "main", zap.NewNop())

	tr.Add("BTC", 0.5, 50000000)
	require.True(t, tr.Has("BTC"))

	pos := tr.Get("BTC")
	require.NotNil(t, pos)
	assert.Equal(t, 0.5, pos.Quantity)
	assert.Equal(t, 50000000.0, pos.EntryPrice)
	assert.Equal(t, []string{"BTC"}, tr.Symbols())

	tr.Remove("BTC")
	assert.False(t, tr.Has("BTC"))
	assert.Nil(t, tr.Get("BTC"))
}

func TestTracker_UpdateQuantityPreservesEntry(t *testing.T) {
	tr := NewPositionTracker(t.TempDir(), "main", zap.NewNop())
	tr.timeNow = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, KST) }

	tr.Add("ETH", 0.5, 4000000)
	entry := tr.Get("ETH")

	tr.UpdateQuantity("ETH", 0.4)
	pos := tr.Get("ETH")
	require.NotNil(t, pos)
	assert.Equal(t, 0.4, pos.Quantity)
	assert.Equal(t, entry.EntryPrice, pos.EntryPrice)
	assert.True(t, entry.EntryTime.Equal(pos.EntryTime))
}

func TestTracker_UpdateQuantityAutoRemoves(t *testing.T) {
	tr := NewPositionTracker(t.TempDir(), "main", zap.NewNop())
	tr.Add("ETH", 0.5, 4000000)

	tr.UpdateQuantity("ETH", 0)
	assert.False(t, tr.Has("ETH"))
}

func TestTracker_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tr := NewPositionTracker(dir, "main", zap.NewNop())
	tr.timeNow = func() time.Time { return time.Date(2026, 8, 28, 10, 30, 0, 0, KST) }
	tr.Add("BTC", 0.12345678, 51234567)

	// A fresh instance reproduces identical field values from disk.
	reloaded := NewPositionTracker(dir, "main", zap.NewNop())
	pos := reloaded.Get("BTC")
	require.NotNil(t, pos)
	assert.Equal(t, 0.12345678, pos.Quantity)
	assert.Equal(t, 51234567.0, pos.EntryPrice)
	assert.True(t, pos.EntryTime.Equal(time.Date(2026, 8, 28, 10, 30, 0, 0, KST)))
}

func TestTracker_CorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main", "positions.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr := NewPositionTracker(dir, "main", zap.NewNop())
	assert.Empty(t, tr.Symbols())
}

func TestTracker_MalformedEntrySkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main", "positions.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	snapshot := `{
		"BTC": {"quantity": 0.5, "entry_price": 50000000, "entry_time": "2026-08-28T10:00:00+09:00"},
		"ETH": {"quantity": -1, "entry_price": 4000000, "entry_time": "2026-08-28T10:00:00+09:00"},
		"XRP": {"quantity": 100, "entry_price": 700, "entry_time": "not-a-time"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(snapshot), 0o644))

	tr := NewPositionTracker(dir, "main", zap.NewNop())
	assert.True(t, tr.Has("BTC"))
	assert.False(t, tr.Has("ETH"))
	assert.False(t, tr.Has("XRP"))
}
