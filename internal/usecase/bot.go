package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/domain"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	recoverySleep     = 5 * time.Second
	noSignalSleep     = 10 * time.Second
)

// Bot runs one trading loop per account plus housekeeping tasks, all
// under a shared cancellation context. A failing tick never terminates an
// account loop; cancellation is observed at tick and sleep boundaries so
// an in-flight order always completes.
type Bot struct {
	accounts []*Account
	signals  *SignalService
	notifier domain.Notifier
	cfg      *config.Config
	logger   *zap.Logger
}

func NewBot(accounts []*Account, signals *SignalService, notifier domain.Notifier,
	cfg *config.Config, logger *zap.Logger) *Bot {
	return &Bot{
		accounts: accounts,
		signals:  signals,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled and every loop has drained.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("bot starting",
		zap.Strings("symbols", b.cfg.Symbols),
		zap.Int("accounts", len(b.accounts)),
		zap.String("entry_policy", b.cfg.Strategy.EntryPolicy))
	b.notifier.Send(fmt.Sprintf("🤖 <b>VBO Bot Started</b>\nSymbols: %s\nAccounts: %d",
		strings.Join(b.cfg.Symbols, ", "), len(b.accounts)))

	var wg sync.WaitGroup
	for _, acct := range b.accounts {
		wg.Add(1)
		go func(acct *Account) {
			defer wg.Done()
			b.runAccount(ctx, acct)
		}(acct)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		b.heartbeat(ctx)
	}()
	go func() {
		defer wg.Done()
		b.dailyReportLoop(ctx)
	}()

	wg.Wait()
	b.logger.Info("bot stopped")
	b.notifier.Send("🛑 <b>VBO Bot Stopped</b>")
}

func (b *Bot) runAccount(ctx context.Context, acct *Account) {
	for ctx.Err() == nil {
		if err := b.tick(ctx, acct); err != nil {
			acct.logger.Error("tick failed", zap.Error(err))
			b.notifier.Alert(acct.Name+":loop", fmt.Sprintf("[%s] Loop error: %v", acct.Name, err))
			metrics.TickErrors.WithLabelValues(acct.Name).Inc()
			sleepCtx(ctx, recoverySleep)
			continue
		}
		sleepCtx(ctx, b.cfg.Trading.CheckInterval)
	}
}

// tick is one pass of the account loop: reconcile, sell, then buy with
// portfolio allocation. Panics are converted to errors so a single bad
// tick cannot take the loop down.
func (b *Bot) tick(ctx context.Context, acct *Account) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	acct.ReconcilePendingBuys(ctx)

	sigs := b.signals.All(ctx)
	if len(sigs) == 0 {
		sleepCtx(ctx, noSignalSleep)
		return nil
	}

	// Sell first: exits free cash for same-tick entries.
	for _, symbol := range b.cfg.Symbols {
		sig, ok := sigs[symbol]
		if ok && acct.Positions.Has(symbol) && sig.ShouldSell {
			acct.Sell(ctx, symbol)
		}
	}

	// Collect breakout candidates.
	type candidate struct {
		symbol string
		target float64
	}
	var buys []candidate
	for _, symbol := range b.cfg.Symbols {
		sig, ok := sigs[symbol]
		if !ok || !sig.CanBuy || acct.Positions.Has(symbol) {
			continue
		}
		price, err := b.signals.Price(ctx, symbol)
		if err != nil {
			b.logger.Error("price fetch failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if price >= sig.TargetPrice {
			buys = append(buys, candidate{symbol: symbol, target: sig.TargetPrice})
		}
	}
	if len(buys) == 0 {
		return nil
	}

	// Equal-weight allocation over all configured symbols, capped by the
	// cash actually on hand.
	cash := acct.Balance(ctx, "KRW")
	equity := cash
	for _, symbol := range b.cfg.Symbols {
		if !acct.Positions.Has(symbol) {
			continue
		}
		price, err := b.signals.Price(ctx, symbol)
		if err != nil {
			continue
		}
		equity += acct.Balance(ctx, symbol) * price
	}
	alloc := equity / float64(len(b.cfg.Symbols))

	for _, c := range buys {
		amount := min(alloc, cash*0.99)
		if amount <= 0 {
			continue
		}
		if acct.Buy(ctx, c.symbol, c.target, amount) {
			cash = acct.Balance(ctx, "KRW")
		}
		sleepCtx(ctx, b.cfg.Trading.OrderDelay)
	}
	return nil
}

// heartbeat writes a timestamp file for the container healthcheck.
func (b *Bot) heartbeat(ctx context.Context) {
	path := filepath.Join(b.cfg.DataDir, ".heartbeat")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.logger.Warn("heartbeat dir create failed", zap.Error(err))
	}
	for ctx.Err() == nil {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		if err := os.WriteFile(path, []byte(ts), 0o644); err != nil {
			b.logger.Warn("heartbeat write failed", zap.Error(err))
		}
		sleepCtx(ctx, heartbeatInterval)
	}
}

// dailyReportLoop sends one status report shortly after the reset hour.
func (b *Bot) dailyReportLoop(ctx context.Context) {
	reported := false
	for ctx.Err() == nil {
		now := time.Now().In(KST)
		inWindow := now.Hour() == b.cfg.Strategy.ResetHour && now.Minute() == 0
		if inWindow && !reported {
			b.sendDailyReport(ctx)
			reported = true
		} else if !inWindow {
			reported = false
		}
		sleepCtx(ctx, heartbeatInterval)
	}
}

func (b *Bot) sendDailyReport(ctx context.Context) {
	sigs := b.signals.All(ctx)

	var sb strings.Builder
	sb.WriteString("📊 <b>Daily Report</b>\n\n<b>Signals:</b>\n")
	for _, symbol := range b.cfg.Symbols {
		sig, ok := sigs[symbol]
		if !ok {
			continue
		}
		price, err := b.signals.Price(ctx, symbol)
		if err != nil {
			price = 0
		}
		fmt.Fprintf(&sb, "  %s: target %.0f / now %.0f\n", symbol, sig.TargetPrice, price)
	}

	for _, acct := range b.accounts {
		cash := acct.Balance(ctx, "KRW")
		total := cash

		fmt.Fprintf(&sb, "\n<b>[%s]</b>\n", acct.Name)
		var lines []string
		for _, symbol := range b.cfg.Symbols {
			pos := acct.Positions.Get(symbol)
			if pos == nil {
				continue
			}
			price, err := b.signals.Price(ctx, symbol)
			if err != nil {
				continue
			}
			qty := acct.Balance(ctx, symbol)
			total += qty * price
			var pnl float64
			if pos.EntryPrice > 0 {
				pnl = (price/pos.EntryPrice - 1) * 100
			}
			lines = append(lines, fmt.Sprintf("  %s: %.4f (%+.2f%%)", symbol, qty, pnl))
		}
		if len(lines) > 0 {
			sb.WriteString("  Positions:\n")
			sb.WriteString(strings.Join(lines, "\n"))
			sb.WriteString("\n")
		} else {
			sb.WriteString("  Positions: None\n")
		}
		fmt.Fprintf(&sb, "  KRW: %.0f\n  Total: %.0f\n", cash, total)
	}

	b.notifier.Send(sb.String())
	b.logger.Info("daily report sent")
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
