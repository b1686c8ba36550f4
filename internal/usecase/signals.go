package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/domain"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/metrics"
)

// KST is the exchange-local timezone; daily candles reset at the
// configured hour in this zone.
var KST = time.FixedZone("KST", 9*60*60)

const (
	referenceTicker = "KRW-BTC"
	candleMargin    = 5
	recomputeRetry  = time.Minute
)

// Ticker maps a bare symbol to its KRW market code.
func Ticker(symbol string) string {
	return "KRW-" + symbol
}

// SignalService computes daily breakout signals once per trading day and
// caches them. Recomputation is lazy on day rollover and mutually
// exclusive; account loops share one instance. On failure the cache is
// emptied so a stale day's signals are never served, and recomputation
// backs off before the next attempt.
type SignalService struct {
	exchange domain.Exchange
	cfg      *config.Config
	logger   *zap.Logger

	mu      sync.Mutex
	signals map[string]domain.Signal
	day     string
	retryAt time.Time

	timeNow func() time.Time
}

func NewSignalService(exchange domain.Exchange, cfg *config.Config, logger *zap.Logger) *SignalService {
	return &SignalService{
		exchange: exchange,
		cfg:      cfg,
		logger:   logger,
		signals:  make(map[string]domain.Signal),
		timeNow:  time.Now,
	}
}

// tradingDay returns the current trading date. Timestamps before the
// reset hour belong to the previous day.
func (s *SignalService) tradingDay() string {
	now := s.timeNow().In(KST)
	if now.Hour() < s.cfg.Strategy.ResetHour {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format("2006-01-02")
}

// All returns the signals for the current trading day, recomputing first
// when the day has rolled over. An empty map means signals are
// unavailable; callers must not trade on it.
func (s *SignalService) All(ctx context.Context) map[string]domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.tradingDay()
	if s.day != day && s.timeNow().After(s.retryAt) {
		if err := s.recompute(ctx, day); err != nil {
			s.logger.Error("signal recompute failed", zap.Error(err))
			metrics.SignalRecomputes.WithLabelValues("failed").Inc()
			s.signals = make(map[string]domain.Signal)
			s.day = ""
			s.retryAt = s.timeNow().Add(recomputeRetry)
			return nil
		}
		metrics.SignalRecomputes.WithLabelValues("ok").Inc()
	}
	if s.day != day {
		// Still in failure backoff; fail closed.
		return nil
	}
	return s.signals
}

// Get returns the signal for one symbol, or nil when unavailable.
func (s *SignalService) Get(ctx context.Context, symbol string) *domain.Signal {
	sigs := s.All(ctx)
	if sig, ok := sigs[symbol]; ok {
		return &sig
	}
	return nil
}

func (s *SignalService) recompute(ctx context.Context, day string) error {
	strat := s.cfg.Strategy
	bars := strat.ShortWindow
	if strat.FilterWindow > bars {
		bars = strat.FilterWindow
	}
	bars += candleMargin

	marketBull, err := s.marketFilter(ctx, bars)
	if err != nil {
		return fmt.Errorf("market filter: %w", err)
	}

	signals := make(map[string]domain.Signal)
	for _, symbol := range s.cfg.Symbols {
		sig, err := s.symbolSignal(ctx, symbol, bars, marketBull)
		if err != nil {
			s.logger.Error("signal calc failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		signals[symbol] = *sig
	}
	if len(signals) == 0 {
		return fmt.Errorf("no signals computed for %d symbols", len(s.cfg.Symbols))
	}

	s.signals = signals
	s.day = day
	s.retryAt = time.Time{}
	s.logger.Info("signals recomputed",
		zap.String("trading_day", day),
		zap.Int("symbols", len(signals)),
		zap.Bool("market_bull", marketBull))
	return nil
}

// marketFilter reports whether the reference asset closed yesterday above
// its rolling mean, gating entries across the whole market.
func (s *SignalService) marketFilter(ctx context.Context, bars int) (bool, error) {
	candles, err := s.exchange.GetDailyCandles(ctx, referenceTicker, bars)
	if err != nil {
		return false, err
	}
	window := s.cfg.Strategy.FilterWindow
	if len(candles) < window+1 {
		return false, fmt.Errorf("insufficient candles: have %d, need %d", len(candles), window+1)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	sma := talib.Sma(closes, window)
	n := len(closes)
	return closes[n-2] > sma[n-2], nil
}

func (s *SignalService) symbolSignal(ctx context.Context, symbol string, bars int, marketBull bool) (*domain.Signal, error) {
	candles, err := s.exchange.GetDailyCandles(ctx, Ticker(symbol), bars)
	if err != nil {
		return nil, err
	}
	window := s.cfg.Strategy.ShortWindow
	if len(candles) < window+1 {
		return nil, fmt.Errorf("insufficient candles: have %d, need %d", len(candles), window+1)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	ema := talib.Ema(closes, window)
	n := len(candles)

	prev, today := candles[n-2], candles[n-1]
	symbolBull := prev.Close > ema[n-2]

	canBuy := marketBull
	if s.cfg.Strategy.EntryPolicy == config.EntryPolicyMarketAndSymbol {
		canBuy = marketBull && symbolBull
	}

	return &domain.Signal{
		Symbol:      symbol,
		TargetPrice: today.Open + (prev.High-prev.Low)*s.cfg.Strategy.NoiseRatio,
		CanBuy:      canBuy,
		ShouldSell:  !symbolBull,
	}, nil
}

// Price fetches the live price for a symbol with a short retry.
func (s *SignalService) Price(ctx context.Context, symbol string) (float64, error) {
	var price float64
	policy := NewRetryPolicy(3, 500*time.Millisecond, 2)
	err := policy.Do(func() error {
		p, err := s.exchange.GetCurrentPrice(ctx, Ticker(symbol))
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	return price, err
}
