package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/config"
)

type botFixture struct {
	bot      *Bot
	acct     *Account
	exchange *mockExchange
	ledger   *mockLedger
	notifier *mockNotifier
	cfg      *config.Config
}

func newBotFixture(t *testing.T, symbols ...string) *botFixture {
	f := &botFixture{
		exchange: newMockExchange(),
		ledger:   &mockLedger{},
		notifier: newMockNotifier(),
		cfg:      testConfig(t, symbols...),
	}
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, KST)

	signals := NewSignalService(f.exchange, f.cfg, zap.NewNop())
	signals.timeNow = func() time.Time { return now }

	f.acct = NewAccount("main", f.exchange, f.ledger, f.notifier, f.cfg, zap.NewNop())
	f.acct.sleep = func(time.Duration) {}
	f.acct.timeNow = func() time.Time { return now }

	f.bot = NewBot([]*Account{f.acct}, signals, f.notifier, f.cfg, zap.NewNop())
	return f
}

// risingCandles(7) puts today's open at 160 with yesterday ranging
// 145-155: breakout target 160 + 10*0.5 = 165.
const risingTarget = 165.0

func TestTick_BreakoutBuysWithEqualWeightAllocation(t *testing.T) {
	f := newBotFixture(t, "ETH")
	f.exchange.candles[referenceTicker] = risingCandles(7)
	f.exchange.candles["KRW-ETH"] = risingCandles(7)
	f.exchange.prices["KRW-ETH"] = risingTarget
	f.exchange.setBalance("KRW", 100000)
	f.exchange.setBalance("ETH", 0)
	f.exchange.orders["order-1"] = filledOrder("order-1", risingTarget, 600)

	require.NoError(t, f.bot.tick(context.Background(), f.acct))

	require.Len(t, f.exchange.buys, 1)
	assert.Equal(t, "KRW-ETH", f.exchange.buys[0].ticker)
	// One symbol: allocation is full equity, capped at 99% of cash.
	assert.InDelta(t, 99000, f.exchange.buys[0].value, 1e-9)
	assert.True(t, f.acct.Positions.Has("ETH"))
}

func TestTick_PriceBelowTargetPlacesNoOrder(t *testing.T) {
	f := newBotFixture(t, "ETH")
	f.exchange.candles[referenceTicker] = risingCandles(7)
	f.exchange.candles["KRW-ETH"] = risingCandles(7)
	f.exchange.prices["KRW-ETH"] = risingTarget - 0.1

	require.NoError(t, f.bot.tick(context.Background(), f.acct))
	assert.Empty(t, f.exchange.buys)
	assert.Empty(t, f.exchange.sells)
}

func TestTick_HeldPositionIsNotRebought(t *testing.T) {
	f := newBotFixture(t, "ETH")
	f.exchange.candles[referenceTicker] = risingCandles(7)
	f.exchange.candles["KRW-ETH"] = risingCandles(7)
	f.exchange.prices["KRW-ETH"] = risingTarget
	f.acct.Positions.Add("ETH", 1, 150)

	require.NoError(t, f.bot.tick(context.Background(), f.acct))
	assert.Empty(t, f.exchange.buys)
	assert.Empty(t, f.exchange.sells)
}

func TestTick_SellsBeforeBuying(t *testing.T) {
	f := newBotFixture(t, "ETH", "XRP")

	// ETH reads bearish while held; XRP breaks out the same tick.
	f.exchange.candles[referenceTicker] = risingCandles(7)
	f.exchange.candles["KRW-ETH"] = flatCandles(7)
	f.exchange.candles["KRW-XRP"] = risingCandles(7)
	f.acct.Positions.Add("ETH", 1, 100)
	f.exchange.prices["KRW-ETH"] = 100
	f.exchange.prices["KRW-XRP"] = risingTarget
	f.exchange.setBalance("KRW", 100000)
	f.exchange.setBalance("ETH", 1)
	f.exchange.setBalance("XRP", 0)
	f.exchange.orders["order-1"] = filledOrder("order-1", 100, 1)
	f.exchange.orders["order-2"] = filledOrder("order-2", risingTarget, 300)

	require.NoError(t, f.bot.tick(context.Background(), f.acct))

	require.Len(t, f.exchange.sells, 1)
	assert.Equal(t, "KRW-ETH", f.exchange.sells[0].ticker)
	require.Len(t, f.exchange.buys, 1)
	assert.Equal(t, "KRW-XRP", f.exchange.buys[0].ticker)
	// Two symbols: 100000 equity splits into a 50000 allocation.
	assert.InDelta(t, 50000, f.exchange.buys[0].value, 1e-9)

	// The exit ran before the entry.
	require.Len(t, f.ledger.records, 2)
	assert.Equal(t, "SELL", f.ledger.records[0].Action)
	assert.Equal(t, "BUY", f.ledger.records[1].Action)
	assert.False(t, f.acct.Positions.Has("ETH"))
	assert.True(t, f.acct.Positions.Has("XRP"))
}

func TestTick_UnavailableSignalsTradeNothing(t *testing.T) {
	f := newBotFixture(t, "ETH")
	// No candle data: signal recompute fails and the tick must sit out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // skip the fail-closed idle sleep

	require.NoError(t, f.bot.tick(ctx, f.acct))
	assert.Empty(t, f.exchange.buys)
	assert.Empty(t, f.exchange.sells)
	assert.Zero(t, f.exchange.priceCalls)
}
