package domain

import "time"

// Position is a bot-owned holding. Manually traded balance in the same
// wallet is never represented here.
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

// Terminal reports whether the order can no longer fill.
func (s OrderState) Terminal() bool {
	return s == OrderStateDone || s == OrderStateCancel
}

// OrderFill is a single execution reported for an order.
type OrderFill struct {
	Price  float64
	Volume float64
	Funds  float64
}

// Order is the exchange's view of a placed order.
type Order struct {
	Ref            string
	State          OrderState
	Price          float64
	ExecutedVolume float64
	Trades         []OrderFill
}

// TradeRecord is the finalized record of one resolved buy or sell,
// appended exactly once to the trade ledger.
type TradeRecord struct {
	Timestamp time.Time
	Account   string
	Action    string // BUY or SELL
	Symbol    string
	Price     float64
	Quantity  float64
	Amount    float64
	ProfitPct *float64
	ProfitKRW *float64
}
