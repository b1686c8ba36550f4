package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceStream keeps a live ticker cache fed by the Upbit public websocket.
// Ticks older than maxTickAge are ignored so a stalled connection falls
// back to REST instead of serving stale prices.
type PriceStream struct {
	wsURL   string
	tickers []string
	logger  *zap.Logger

	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price float64
	at    time.Time
}

const maxTickAge = 3 * time.Second

func NewPriceStream(wsURL string, tickers []string, logger *zap.Logger) *PriceStream {
	return &PriceStream{
		wsURL:   wsURL,
		tickers: tickers,
		logger:  logger,
		prices:  make(map[string]pricePoint),
	}
}

// Price returns the cached price for a ticker when fresh enough.
func (s *PriceStream) Price(ticker string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[ticker]
	if !ok || time.Since(p.at) > maxTickAge {
		return 0, false
	}
	return p.price, true
}

// Run maintains the websocket connection until ctx is cancelled,
// reconnecting with a flat backoff after any failure.
func (s *PriceStream) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("price stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *PriceStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": s.tickers},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event struct {
			Type       string  `json:"type"`
			Code       string  `json:"code"`
			TradePrice float64 `json:"trade_price"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.Type != "ticker" || event.TradePrice <= 0 {
			continue
		}

		s.mu.Lock()
		s.prices[event.Code] = pricePoint{price: event.TradePrice, at: time.Now()}
		s.mu.Unlock()
	}
}
