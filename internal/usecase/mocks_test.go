package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/domain"
)

// mockExchange is a scriptable domain.Exchange. Balances are queues so a
// test can stage pre/post-order wallet readings.
type mockExchange struct {
	mu sync.Mutex

	prices   map[string]float64
	priceErr error

	candles    map[string][]domain.Candle
	candlesErr error

	balances   map[string][]float64
	balanceErr error

	orders   map[string]*domain.Order
	orderErr error

	buyErr  error
	sellErr error

	buys        []placedOrder
	sells       []placedOrder
	priceCalls  int
	candleCalls int
	orderCalls  int
	nextRef     int
}

type placedOrder struct {
	ticker string
	value  float64 // amount for buys, qty for sells
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		prices:   make(map[string]float64),
		candles:  make(map[string][]domain.Candle),
		balances: make(map[string][]float64),
		orders:   make(map[string]*domain.Order),
	}
}

func (m *mockExchange) setBalance(currency string, values ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[currency] = values
}

func (m *mockExchange) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls++
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	p, ok := m.prices[ticker]
	if !ok {
		return 0, fmt.Errorf("no price for %s", ticker)
	}
	return p, nil
}

func (m *mockExchange) GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleCalls++
	if m.candlesErr != nil {
		return nil, m.candlesErr
	}
	return m.candles[ticker], nil
}

func (m *mockExchange) GetBalance(ctx context.Context, currency string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	queue := m.balances[currency]
	if len(queue) == 0 {
		return 0, nil
	}
	value := queue[0]
	if len(queue) > 1 {
		m.balances[currency] = queue[1:]
	}
	return value, nil
}

func (m *mockExchange) BuyMarket(ctx context.Context, ticker string, amountKRW float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buyErr != nil {
		return "", m.buyErr
	}
	m.buys = append(m.buys, placedOrder{ticker: ticker, value: amountKRW})
	m.nextRef++
	return fmt.Sprintf("order-%d", m.nextRef), nil
}

func (m *mockExchange) SellMarket(ctx context.Context, ticker string, qty float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sellErr != nil {
		return "", m.sellErr
	}
	m.sells = append(m.sells, placedOrder{ticker: ticker, value: qty})
	m.nextRef++
	return fmt.Sprintf("order-%d", m.nextRef), nil
}

func (m *mockExchange) GetOrder(ctx context.Context, orderRef string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderCalls++
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	if order, ok := m.orders[orderRef]; ok {
		return order, nil
	}
	return &domain.Order{Ref: orderRef, State: domain.OrderStateWait}, nil
}

// mockLedger records appended trades.
type mockLedger struct {
	mu      sync.Mutex
	records []*domain.TradeRecord
}

func (m *mockLedger) Append(ctx context.Context, rec *domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockLedger) ListRecent(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

// mockNotifier records sends and alerts without throttling.
type mockNotifier struct {
	mu     sync.Mutex
	sends  []string
	alerts map[string][]string
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{alerts: make(map[string][]string)}
}

func (m *mockNotifier) Send(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, msg)
	return true
}

func (m *mockNotifier) Alert(key, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[key] = append(m.alerts[key], msg)
	return true
}

func testConfig(t *testing.T, symbols ...string) *config.Config {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTC"}
	}
	cfg := &config.Config{Symbols: symbols}
	cfg.Strategy.ShortWindow = 2
	cfg.Strategy.FilterWindow = 2
	cfg.Strategy.NoiseRatio = 0.5
	cfg.Strategy.EntryPolicy = config.EntryPolicyMarketAndSymbol
	cfg.Strategy.ResetHour = 9
	cfg.Trading.MinOrderKRW = 5000
	cfg.Trading.LateEntryPct = 1.0
	cfg.Trading.CheckInterval = time.Millisecond
	cfg.Trading.OrderDelay = 0
	cfg.Trading.ZeroBalanceRetryLimit = 3
	cfg.Trading.BuyBlockCooldown = 5 * time.Minute
	cfg.Trading.PendingBuyTimeout = 30 * time.Minute
	cfg.DataDir = t.TempDir()
	return cfg
}

// risingCandles builds a chronological daily series with steadily rising
// closes so both trend filters read bullish.
func risingCandles(n int) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		base := 100 + 10*float64(i)
		candles[i] = domain.Candle{
			Open:  base,
			High:  base + 5,
			Low:   base - 5,
			Close: base + 2,
		}
	}
	return candles
}
