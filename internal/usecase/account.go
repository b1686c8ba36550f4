package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/domain"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/metrics"
)

// settleDelay is the pause before each order-status query; market orders
// on Upbit usually report fills within a second of acceptance.
const settleDelay = 500 * time.Millisecond

// fillAttempts bounds the order-status queries per resolution pass.
const fillAttempts = 3

// pendingBuy is a buy whose executed quantity is still unknown. It is
// persisted so a restart does not forget an unresolved order.
type pendingBuy struct {
	OrderRef      string   `json:"order_ref"`
	Amount        float64  `json:"amount"`
	FallbackPrice float64  `json:"fallback_price"`
	PreQuantity   *float64 `json:"pre_quantity"`
	CreatedAt     float64  `json:"created_at"` // unix seconds
}

type runtimeState struct {
	BuyBlockUntil map[string]float64    `json:"buy_block_until"` // unix seconds
	PendingBuys   map[string]pendingBuy `json:"pending_buys"`
}

// Account is the execution engine for one exchange account: it places and
// reconciles orders, tracks bot-owned positions, and never lets an
// exchange error escape to the scheduler. All exchange calls go through
// the adapter's order-channel rate limiter.
type Account struct {
	Name      string
	Positions *PositionTracker

	exchange domain.Exchange
	ledger   domain.TradeLedger
	notifier domain.Notifier
	cfg      *config.Config
	logger   *zap.Logger

	zeroBalanceCounts map[string]int
	buyBlockUntil     map[string]time.Time
	pendingBuys       map[string]pendingBuy
	statePath         string

	timeNow func() time.Time
	sleep   func(time.Duration)
}

func NewAccount(name string, exchange domain.Exchange, ledger domain.TradeLedger,
	notifier domain.Notifier, cfg *config.Config, logger *zap.Logger) *Account {

	a := &Account{
		Name:              name,
		Positions:         NewPositionTracker(cfg.DataDir, name, logger),
		exchange:          exchange,
		ledger:            ledger,
		notifier:          notifier,
		cfg:               cfg,
		logger:            logger.With(zap.String("account", name)),
		zeroBalanceCounts: make(map[string]int),
		buyBlockUntil:     make(map[string]time.Time),
		pendingBuys:       make(map[string]pendingBuy),
		statePath:         filepath.Join(cfg.DataDir, name, "runtime_state.json"),
		timeNow:           time.Now,
		sleep:             time.Sleep,
	}
	a.loadRuntimeState()
	a.logger.Info("account initialized",
		zap.Int("positions", len(a.Positions.Symbols())),
		zap.Int("pending_buys", len(a.pendingBuys)))
	return a
}

// --- runtime state persistence ---

func (a *Account) loadRuntimeState() {
	data, err := os.ReadFile(a.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("runtime state unreadable, starting empty", zap.Error(err))
		}
		return
	}

	var state runtimeState
	if err := json.Unmarshal(data, &state); err != nil {
		a.logger.Warn("runtime state corrupt, starting empty", zap.Error(err))
		return
	}

	for symbol, until := range state.BuyBlockUntil {
		if until > 0 {
			a.buyBlockUntil[symbol] = time.Unix(int64(until), 0)
		}
	}
	for symbol, p := range state.PendingBuys {
		// Reject malformed entries individually; the rest of the state
		// still loads.
		if p.OrderRef == "" || p.Amount <= 0 || p.FallbackPrice <= 0 || p.CreatedAt <= 0 {
			a.logger.Warn("skipping malformed pending buy", zap.String("symbol", symbol))
			continue
		}
		a.pendingBuys[symbol] = p
	}
	metrics.PendingBuys.WithLabelValues(a.Name).Set(float64(len(a.pendingBuys)))
}

func (a *Account) saveRuntimeState() {
	state := runtimeState{
		BuyBlockUntil: make(map[string]float64, len(a.buyBlockUntil)),
		PendingBuys:   a.pendingBuys,
	}
	for symbol, until := range a.buyBlockUntil {
		state.BuyBlockUntil[symbol] = float64(until.Unix())
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		a.logger.Warn("runtime state encode failed", zap.Error(err))
		return
	}
	if err := writeFileAtomic(a.statePath, data); err != nil {
		a.logger.Warn("runtime state save failed", zap.Error(err))
	}
	metrics.PendingBuys.WithLabelValues(a.Name).Set(float64(len(a.pendingBuys)))
}

// CanAttemptBuy reports whether the symbol is free of pending-buy and
// buy-block state.
func (a *Account) CanAttemptBuy(symbol string) bool {
	if _, ok := a.pendingBuys[symbol]; ok {
		return false
	}
	return !a.timeNow().Before(a.buyBlockUntil[symbol])
}

func (a *Account) setBuyBlock(symbol string) {
	a.buyBlockUntil[symbol] = a.timeNow().Add(a.cfg.Trading.BuyBlockCooldown)
	a.saveRuntimeState()
}

func (a *Account) clearBuyBlock(symbol string) {
	delete(a.buyBlockUntil, symbol)
	a.saveRuntimeState()
}

// --- balances and fills ---

// Balance returns the wallet balance, zero on failure.
func (a *Account) Balance(ctx context.Context, currency string) float64 {
	bal, err := a.exchange.GetBalance(ctx, currency)
	if err != nil {
		a.logger.Error("balance query failed", zap.String("currency", currency), zap.Error(err))
		return 0
	}
	return bal
}

// balanceValue distinguishes a zero balance from a failed query.
func (a *Account) balanceValue(ctx context.Context, currency string) *float64 {
	bal, err := a.exchange.GetBalance(ctx, currency)
	if err != nil {
		return nil
	}
	return &bal
}

// getFill reads executed quantity and volume-weighted price from an
// order. Unresolvable state comes back as qty 0 with the fallback price.
func (a *Account) getFill(ctx context.Context, orderRef string, fallback float64) (price, qty float64) {
	order, err := a.exchange.GetOrder(ctx, orderRef)
	if err != nil {
		return fallback, 0
	}

	if order.State.Terminal() && len(order.Trades) > 0 {
		var funds, volume float64
		for _, t := range order.Trades {
			funds += t.Funds
			volume += t.Volume
		}
		if volume > 0 {
			return funds / volume, volume
		}
		return fallback, 0
	}

	price = order.Price
	if price <= 0 {
		price = fallback
	}
	return price, order.ExecutedVolume
}

// resolveFill runs the settle-delay-plus-retry sequence, then falls back
// to the wallet-balance delta against the pre-order quantity. The delta
// heuristic assumes no concurrent manual trading on the wallet between
// the two balance reads; it is best-effort, not a guarantee.
func (a *Account) resolveFill(ctx context.Context, symbol, orderRef string, fallback, amount float64, preQty *float64) (price, qty float64) {
	for attempt := 0; attempt < fillAttempts; attempt++ {
		a.sleep(settleDelay)
		price, qty = a.getFill(ctx, orderRef, fallback)
		if qty > 0 {
			return price, qty
		}
	}

	if preQty != nil {
		if postQty := a.balanceValue(ctx, symbol); postQty != nil {
			delta := *postQty - *preQty
			if delta > 0 {
				return amount / delta, delta
			}
		}
	}
	return fallback, 0
}

// --- buy ---

// Buy places a market buy with late-entry protection. An unresolved fill
// is deferred into a pending buy, not lost; the return value reports only
// whether a position was materialized now.
func (a *Account) Buy(ctx context.Context, symbol string, target, amount float64) bool {
	if amount < a.cfg.Trading.MinOrderKRW {
		return false
	}
	if !a.CanAttemptBuy(symbol) {
		return false
	}

	price, err := a.exchange.GetCurrentPrice(ctx, Ticker(symbol))
	if err != nil {
		a.logger.Error("buy price fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	preQty := a.balanceValue(ctx, symbol)

	// Late-entry protection: do not chase a price that ran past the
	// breakout trigger.
	diff := (price/target - 1) * 100
	if abs(diff) > a.cfg.Trading.LateEntryPct {
		a.logger.Info("late entry skipped",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("target", target),
			zap.Float64("diff_pct", diff))
		return false
	}

	orderRef, err := a.exchange.BuyMarket(ctx, Ticker(symbol), amount)
	if err != nil {
		a.logger.Error("buy order failed", zap.String("symbol", symbol), zap.Error(err))
		a.notifier.Alert(a.Name+":buy:"+symbol, fmt.Sprintf("[%s] Buy failed %s: %v", a.Name, symbol, err))
		metrics.Orders.WithLabelValues(a.Name, "buy", "failed").Inc()
		return false
	}

	fillPrice, fillQty := a.resolveFill(ctx, symbol, orderRef, price, amount, preQty)
	if fillQty <= 0 {
		a.pendingBuys[symbol] = pendingBuy{
			OrderRef:      orderRef,
			Amount:        amount,
			FallbackPrice: price,
			PreQuantity:   preQty,
			CreatedAt:     float64(a.timeNow().Unix()),
		}
		a.setBuyBlock(symbol)
		a.notifier.Alert(a.Name+":buy-fill:"+symbol,
			fmt.Sprintf("[%s] Buy accepted but quantity unresolved %s", a.Name, symbol))
		a.logger.Warn("buy deferred to pending", zap.String("symbol", symbol), zap.String("order_ref", orderRef))
		metrics.Orders.WithLabelValues(a.Name, "buy", "pending").Inc()
		return false
	}

	a.materializeBuy(ctx, symbol, fillPrice, fillQty, amount)
	a.logger.Info("buy filled",
		zap.String("symbol", symbol),
		zap.Float64("qty", fillQty),
		zap.Float64("price", fillPrice))
	a.notifier.Send(fmt.Sprintf("🟢 <b>BUY</b> [%s] %s\n%.8f @ %s KRW", a.Name, symbol, fillQty, formatKRW(fillPrice)))
	metrics.Orders.WithLabelValues(a.Name, "buy", "filled").Inc()
	return true
}

// materializeBuy merges a resolved fill into tracked state and appends
// exactly one ledger record.
func (a *Account) materializeBuy(ctx context.Context, symbol string, fillPrice, fillQty, amount float64) {
	a.Positions.Add(symbol, fillQty, fillPrice)
	delete(a.zeroBalanceCounts, symbol)
	delete(a.pendingBuys, symbol)
	delete(a.buyBlockUntil, symbol)
	a.saveRuntimeState()

	if err := a.ledger.Append(ctx, &domain.TradeRecord{
		Timestamp: a.timeNow().In(KST),
		Account:   a.Name,
		Action:    "BUY",
		Symbol:    symbol,
		Price:     fillPrice,
		Quantity:  fillQty,
		Amount:    amount,
	}); err != nil {
		a.logger.Error("ledger append failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// --- pending-buy reconciliation ---

// ReconcilePendingBuys retries fill resolution for every pending buy.
// Idempotent: with no new information from the exchange it neither
// double-materializes a position nor double-appends a ledger record.
func (a *Account) ReconcilePendingBuys(ctx context.Context) {
	if len(a.pendingBuys) == 0 {
		return
	}

	for symbol, pending := range a.pendingBuys {
		fillPrice, fillQty := a.resolveFill(ctx, symbol, pending.OrderRef,
			pending.FallbackPrice, pending.Amount, pending.PreQuantity)

		if fillQty <= 0 {
			age := a.timeNow().Sub(time.Unix(int64(pending.CreatedAt), 0))
			if age >= a.cfg.Trading.PendingBuyTimeout || a.orderClosedWithoutFill(ctx, pending.OrderRef) {
				delete(a.pendingBuys, symbol)
				delete(a.buyBlockUntil, symbol)
				a.saveRuntimeState()
				a.notifier.Alert(a.Name+":pending-expire:"+symbol,
					fmt.Sprintf("[%s] Pending buy expired/closed without fill %s (audit recommended)", a.Name, symbol))
				a.logger.Warn("pending buy dropped",
					zap.String("symbol", symbol),
					zap.String("order_ref", pending.OrderRef),
					zap.Duration("age", age))
			}
			continue
		}

		a.materializeBuy(ctx, symbol, fillPrice, fillQty, pending.Amount)
		a.logger.Info("pending buy recovered",
			zap.String("symbol", symbol),
			zap.Float64("qty", fillQty),
			zap.Float64("price", fillPrice))
		a.notifier.Send(fmt.Sprintf("🟢 <b>BUY RECOVERED</b> [%s] %s\n%.8f @ %s KRW",
			a.Name, symbol, fillQty, formatKRW(fillPrice)))
		metrics.Orders.WithLabelValues(a.Name, "buy", "filled").Inc()
	}
}

// orderClosedWithoutFill reports whether the order reached a terminal
// state with zero executed volume across all reported trades.
func (a *Account) orderClosedWithoutFill(ctx context.Context, orderRef string) bool {
	order, err := a.exchange.GetOrder(ctx, orderRef)
	if err != nil {
		return false
	}
	if !order.State.Terminal() {
		return false
	}
	if len(order.Trades) > 0 {
		var volume float64
		for _, t := range order.Trades {
			volume += t.Volume
		}
		return volume <= 0
	}
	return order.ExecutedVolume <= 0
}

// --- sell ---

// Sell liquidates the bot's tracked quantity for a symbol, never touching
// manually held surplus in the same wallet.
func (a *Account) Sell(ctx context.Context, symbol string) bool {
	pos := a.Positions.Get(symbol)
	if pos == nil {
		return false
	}

	balanceQty := a.balanceValue(ctx, symbol)
	if balanceQty == nil {
		a.notifier.Alert(a.Name+":balance:"+symbol,
			fmt.Sprintf("[%s] Balance query failed %s", a.Name, symbol))
		return false
	}

	if *balanceQty <= 0 {
		// Tracked position but empty wallet: transient exchange lag until
		// the streak hits the limit, then assume external liquidation.
		a.zeroBalanceCounts[symbol]++
		count := a.zeroBalanceCounts[symbol]
		if count >= a.cfg.Trading.ZeroBalanceRetryLimit {
			a.logger.Warn("balance stayed zero, dropping tracked position",
				zap.String("symbol", symbol), zap.Int("streak", count))
			a.Positions.Remove(symbol)
			delete(a.zeroBalanceCounts, symbol)
			return false
		}
		a.logger.Warn("balance zero while position tracked",
			zap.String("symbol", symbol),
			zap.Int("streak", count),
			zap.Int("limit", a.cfg.Trading.ZeroBalanceRetryLimit))
		a.notifier.Alert(a.Name+":balance-zero:"+symbol,
			fmt.Sprintf("[%s] %s balance is zero while position exists", a.Name, symbol))
		return false
	}
	delete(a.zeroBalanceCounts, symbol)

	price, err := a.exchange.GetCurrentPrice(ctx, Ticker(symbol))
	if err != nil {
		price = pos.EntryPrice
	}

	// Liquidate only what the bot owns.
	qty := min(*balanceQty, pos.Quantity)
	if qty <= 0 {
		return false
	}

	orderRef, err := a.exchange.SellMarket(ctx, Ticker(symbol), qty)
	if err != nil {
		a.logger.Error("sell order failed", zap.String("symbol", symbol), zap.Error(err))
		a.notifier.Alert(a.Name+":sell:"+symbol, fmt.Sprintf("[%s] Sell failed %s: %v", a.Name, symbol, err))
		metrics.Orders.WithLabelValues(a.Name, "sell", "failed").Inc()
		return false
	}

	fillPrice, filledQty := a.resolveSellFill(ctx, symbol, orderRef, price, qty, *balanceQty)
	if filledQty <= 0 {
		a.notifier.Alert(a.Name+":sell-fill:"+symbol,
			fmt.Sprintf("[%s] Sell fill unresolved %s", a.Name, symbol))
		metrics.Orders.WithLabelValues(a.Name, "sell", "pending").Inc()
		return false
	}

	var pnlPct, pnlKRW float64
	if pos.EntryPrice > 0 {
		pnlPct = (fillPrice/pos.EntryPrice - 1) * 100
		pnlKRW = (fillPrice - pos.EntryPrice) * filledQty
	}

	if remaining := pos.Quantity - filledQty; remaining > 0 {
		a.Positions.UpdateQuantity(symbol, remaining)
	} else {
		a.Positions.Remove(symbol)
	}
	delete(a.zeroBalanceCounts, symbol)

	if err := a.ledger.Append(ctx, &domain.TradeRecord{
		Timestamp: a.timeNow().In(KST),
		Account:   a.Name,
		Action:    "SELL",
		Symbol:    symbol,
		Price:     fillPrice,
		Quantity:  filledQty,
		Amount:    fillPrice * filledQty,
		ProfitPct: &pnlPct,
		ProfitKRW: &pnlKRW,
	}); err != nil {
		a.logger.Error("ledger append failed", zap.String("symbol", symbol), zap.Error(err))
	}

	a.logger.Info("sell filled",
		zap.String("symbol", symbol),
		zap.Float64("qty", filledQty),
		zap.Float64("price", fillPrice),
		zap.Float64("pnl_pct", pnlPct))
	a.notifier.Send(fmt.Sprintf("🔴 <b>SELL</b> [%s] %s\n%+.2f%% (%s KRW)", a.Name, symbol, pnlPct, formatKRW(pnlKRW)))
	metrics.Orders.WithLabelValues(a.Name, "sell", "filled").Inc()
	return true
}

// resolveSellFill mirrors resolveFill with the pre-liquidation wallet
// balance as the delta baseline and the order quantity as a cap.
func (a *Account) resolveSellFill(ctx context.Context, symbol, orderRef string, fallback, orderQty, preBalance float64) (price, qty float64) {
	for attempt := 0; attempt < fillAttempts; attempt++ {
		a.sleep(settleDelay)
		price, qty = a.getFill(ctx, orderRef, fallback)
		if qty > 0 {
			return price, min(orderQty, qty)
		}
	}

	if postQty := a.balanceValue(ctx, symbol); postQty != nil {
		if delta := preBalance - *postQty; delta > 0 {
			return fallback, delta
		}
	}
	return fallback, 0
}

// PendingBuyCount is used by the scheduler for reporting.
func (a *Account) PendingBuyCount() int {
	return len(a.pendingBuys)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func formatKRW(v float64) string {
	return fmt.Sprintf("%.0f", v)
}
