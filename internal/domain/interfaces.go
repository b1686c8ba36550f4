package domain

import "context"

// Exchange defines the interface for interacting with the Upbit spot market.
// Tickers are full market codes ("KRW-BTC"); currencies are bare symbols
// ("BTC", "KRW"). A nil-error return from BuyMarket/SellMarket means the
// order was accepted, not that it filled.
type Exchange interface {
	GetCurrentPrice(ctx context.Context, ticker string) (float64, error)
	GetDailyCandles(ctx context.Context, ticker string, count int) ([]Candle, error)
	GetBalance(ctx context.Context, currency string) (float64, error)
	BuyMarket(ctx context.Context, ticker string, amountKRW float64) (string, error)
	SellMarket(ctx context.Context, ticker string, qty float64) (string, error)
	GetOrder(ctx context.Context, orderRef string) (*Order, error)
}

// Notifier delivers best-effort operator messages. Alert throttles per
// situation key so a repeating failure does not storm the channel.
type Notifier interface {
	Send(msg string) bool
	Alert(key, msg string) bool
}

// TradeLedger receives finalized trade records for append-only storage.
type TradeLedger interface {
	Append(ctx context.Context, rec *TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]*TradeRecord, error)
}
