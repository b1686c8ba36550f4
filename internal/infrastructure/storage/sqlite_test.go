package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_vbo_bot/internal/domain"
)

func TestSQLiteLedger_AppendAndList(t *testing.T) {
	ledger, err := NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	pct := 3.5
	krw := 1750.0

	require.NoError(t, ledger.Append(ctx, &domain.TradeRecord{
		Timestamp: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		Account:   "main",
		Action:    "BUY",
		Symbol:    "BTC",
		Price:     50000,
		Quantity:  0.001,
		Amount:    50,
	}))
	require.NoError(t, ledger.Append(ctx, &domain.TradeRecord{
		Timestamp: time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC),
		Account:   "main",
		Action:    "SELL",
		Symbol:    "BTC",
		Price:     51750,
		Quantity:  0.001,
		Amount:    51.75,
		ProfitPct: &pct,
		ProfitKRW: &krw,
	}))

	records, err := ledger.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	sell := records[0]
	assert.Equal(t, "SELL", sell.Action)
	require.NotNil(t, sell.ProfitPct)
	assert.InDelta(t, 3.5, *sell.ProfitPct, 1e-9)

	buy := records[1]
	assert.Equal(t, "BUY", buy.Action)
	assert.Nil(t, buy.ProfitPct)
}
