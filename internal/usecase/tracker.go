package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/domain"
)

// PositionTracker is the durable record of one account's bot-owned
// holdings. Every mutation persists an atomic snapshot so a restart
// resumes with the exact same positions. Manually held balance in the
// same wallet is invisible to the tracker.
type PositionTracker struct {
	account string
	path    string
	logger  *zap.Logger

	mu        sync.Mutex
	positions map[string]domain.Position
	timeNow   func() time.Time
}

type persistedPosition struct {
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  string  `json:"entry_time"`
}

// NewPositionTracker loads the snapshot for an account. A missing or
// corrupt snapshot yields an empty tracker with a logged warning;
// individual malformed entries are skipped rather than failing the load.
func NewPositionTracker(dataDir, account string, logger *zap.Logger) *PositionTracker {
	t := &PositionTracker{
		account:   account,
		path:      filepath.Join(dataDir, account, "positions.json"),
		logger:    logger.With(zap.String("account", account)),
		positions: make(map[string]domain.Position),
		timeNow:   time.Now,
	}
	t.load()
	return t
}

func (t *PositionTracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("position snapshot unreadable, starting empty", zap.Error(err))
		}
		return
	}

	var raw map[string]persistedPosition
	if err := json.Unmarshal(data, &raw); err != nil {
		t.logger.Warn("position snapshot corrupt, starting empty", zap.Error(err))
		return
	}

	for symbol, p := range raw {
		entryTime, err := time.Parse(time.RFC3339, p.EntryTime)
		if err != nil || p.Quantity <= 0 || p.EntryPrice <= 0 {
			t.logger.Warn("skipping malformed position entry", zap.String("symbol", symbol))
			continue
		}
		t.positions[symbol] = domain.Position{
			Symbol:     symbol,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			EntryTime:  entryTime,
		}
	}
}

// save writes the snapshot via temp file + rename so a crash mid-write
// never leaves a truncated snapshot.
func (t *PositionTracker) save() {
	raw := make(map[string]persistedPosition, len(t.positions))
	for symbol, p := range t.positions {
		raw[symbol] = persistedPosition{
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime.Format(time.RFC3339),
		}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		t.logger.Error("position snapshot encode failed", zap.Error(err))
		return
	}
	if err := writeFileAtomic(t.path, data); err != nil {
		t.logger.Error("position snapshot save failed", zap.Error(err))
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Add records a position at the fill price, overwriting any existing
// entry for the symbol.
func (t *PositionTracker) Add(symbol string, qty, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions[symbol] = domain.Position{
		Symbol:     symbol,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  t.timeNow().In(KST),
	}
	t.save()
	t.logger.Info("position added", zap.String("symbol", symbol), zap.Float64("qty", qty), zap.Float64("price", price))
}

func (t *PositionTracker) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(symbol)
}

func (t *PositionTracker) remove(symbol string) {
	if _, ok := t.positions[symbol]; !ok {
		return
	}
	delete(t.positions, symbol)
	t.save()
	t.logger.Info("position removed", zap.String("symbol", symbol))
}

// UpdateQuantity rewrites the quantity after a partial sell, preserving
// entry price and time. A non-positive quantity removes the position.
func (t *PositionTracker) UpdateQuantity(symbol string, qty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return
	}
	if qty <= 0 {
		t.remove(symbol)
		return
	}
	pos.Quantity = qty
	t.positions[symbol] = pos
	t.save()
}

func (t *PositionTracker) Get(symbol string) *domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pos, ok := t.positions[symbol]; ok {
		return &pos
	}
	return nil
}

func (t *PositionTracker) Has(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.positions[symbol]
	return ok
}

func (t *PositionTracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	symbols := make([]string, 0, len(t.positions))
	for s := range t.positions {
		symbols = append(symbols, s)
	}
	return symbols
}
