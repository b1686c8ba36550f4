package domain

// Signal is the volatility-breakout signal for a single symbol, valid for
// one trading day. Values are replaced wholesale on recomputation.
type Signal struct {
	Symbol      string
	TargetPrice float64
	CanBuy      bool
	ShouldSell  bool
}

type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}
