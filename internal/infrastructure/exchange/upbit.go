package exchange

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/vitos/crypto_vbo_bot/internal/domain"
)

const (
	UpbitBaseURL = "https://api.upbit.com"
	UpbitWSURL   = "wss://api.upbit.com/websocket/v1"
)

// UpbitAdapter implements domain.Exchange against the Upbit REST API.
// Private endpoints are signed with the account's keys, so each trading
// account owns its own adapter. The two rate limiters are shared across
// every adapter in the process: one channel for order/account calls, one
// for public quotation calls.
type UpbitAdapter struct {
	accessKey string
	secretKey string
	baseURL   string
	client    *http.Client

	orderLimiter *Limiter
	quoteLimiter *Limiter

	prices *PriceStream
}

func NewUpbitAdapter(accessKey, secretKey, baseURL string, orderLimiter, quoteLimiter *Limiter) *UpbitAdapter {
	return &UpbitAdapter{
		accessKey:    accessKey,
		secretKey:    secretKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		client:       &http.Client{Timeout: 10 * time.Second},
		orderLimiter: orderLimiter,
		quoteLimiter: quoteLimiter,
	}
}

// AttachPriceStream wires a websocket ticker cache. GetCurrentPrice serves
// fresh cached ticks without spending quotation-channel rate limit.
func (u *UpbitAdapter) AttachPriceStream(s *PriceStream) {
	u.prices = s
}

// --- auth ---

// signToken builds the per-request JWT Upbit expects: access key, a uuid
// nonce, and a SHA-512 hash of the url-encoded parameters when present.
func (u *UpbitAdapter) signToken(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": u.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		h := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(h[:])
		claims["query_hash_alg"] = "SHA512"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(u.secretKey))
}

func encodeParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (u *UpbitAdapter) sendRequest(ctx context.Context, method, path string, params map[string]string, private bool) ([]byte, error) {
	query := encodeParams(params)

	var body io.Reader
	reqURL := u.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if query != "" {
			reqURL += "?" + query
		}
	} else {
		jsonBody, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if private {
		token, err := u.signToken(query)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upbit %s %s: status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// --- public quotation ---

type tickerResponse struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

func (u *UpbitAdapter) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	if u.prices != nil {
		if p, ok := u.prices.Price(ticker); ok {
			return p, nil
		}
	}

	u.quoteLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodGet, "/v1/ticker", map[string]string{"markets": ticker}, false)
	if err != nil {
		return 0, err
	}
	var resp []tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse ticker: %w", err)
	}
	if len(resp) == 0 || resp[0].TradePrice <= 0 {
		return 0, fmt.Errorf("no price for %s", ticker)
	}
	return resp[0].TradePrice, nil
}

type dayCandleResponse struct {
	Timestamp    int64   `json:"timestamp"`
	OpeningPrice float64 `json:"opening_price"`
	HighPrice    float64 `json:"high_price"`
	LowPrice     float64 `json:"low_price"`
	TradePrice   float64 `json:"trade_price"`
}

// GetDailyCandles returns up to count daily candles in chronological order,
// the last entry being the current (incomplete) day.
func (u *UpbitAdapter) GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	u.quoteLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodGet, "/v1/candles/days", map[string]string{
		"market": ticker,
		"count":  strconv.Itoa(count),
	}, false)
	if err != nil {
		return nil, err
	}
	var resp []dayCandleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}

	// Upbit returns newest first.
	candles := make([]domain.Candle, 0, len(resp))
	for i := len(resp) - 1; i >= 0; i-- {
		c := resp[i]
		candles = append(candles, domain.Candle{
			Time:  c.Timestamp,
			Open:  c.OpeningPrice,
			High:  c.HighPrice,
			Low:   c.LowPrice,
			Close: c.TradePrice,
		})
	}
	return candles, nil
}

// --- private ---

type accountResponse struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

func (u *UpbitAdapter) GetBalance(ctx context.Context, currency string) (float64, error) {
	u.orderLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return 0, err
	}
	var resp []accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse accounts: %w", err)
	}
	for _, a := range resp {
		if a.Currency == currency {
			bal, err := strconv.ParseFloat(a.Balance, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance %q: %w", a.Balance, err)
			}
			return bal, nil
		}
	}
	return 0, nil
}

type orderResponse struct {
	UUID           string `json:"uuid"`
	State          string `json:"state"`
	Price          string `json:"price"`
	ExecutedVolume string `json:"executed_volume"`
	Trades         []struct {
		Price  string `json:"price"`
		Volume string `json:"volume"`
		Funds  string `json:"funds"`
	} `json:"trades"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (r *orderResponse) toDomain() *domain.Order {
	order := &domain.Order{
		Ref:            r.UUID,
		State:          domain.OrderState(r.State),
		Price:          parseFloat(r.Price),
		ExecutedVolume: parseFloat(r.ExecutedVolume),
	}
	for _, t := range r.Trades {
		order.Trades = append(order.Trades, domain.OrderFill{
			Price:  parseFloat(t.Price),
			Volume: parseFloat(t.Volume),
			Funds:  parseFloat(t.Funds),
		})
	}
	return order
}

// BuyMarket places a market buy spending amountKRW and returns the order
// reference. Acceptance does not imply a visible fill.
func (u *UpbitAdapter) BuyMarket(ctx context.Context, ticker string, amountKRW float64) (string, error) {
	u.orderLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodPost, "/v1/orders", map[string]string{
		"market":   ticker,
		"side":     "bid",
		"ord_type": "price",
		"price":    strconv.FormatFloat(amountKRW, 'f', -1, 64),
	}, true)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse order: %w", err)
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("order accepted without uuid")
	}
	return resp.UUID, nil
}

func (u *UpbitAdapter) SellMarket(ctx context.Context, ticker string, qty float64) (string, error) {
	u.orderLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodPost, "/v1/orders", map[string]string{
		"market":   ticker,
		"side":     "ask",
		"ord_type": "market",
		"volume":   strconv.FormatFloat(qty, 'f', -1, 64),
	}, true)
	if err != nil {
		return "", err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse order: %w", err)
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("order accepted without uuid")
	}
	return resp.UUID, nil
}

func (u *UpbitAdapter) GetOrder(ctx context.Context, orderRef string) (*domain.Order, error) {
	u.orderLimiter.Wait()
	body, err := u.sendRequest(ctx, http.MethodGet, "/v1/order", map[string]string{"uuid": orderRef}, true)
	if err != nil {
		return nil, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return resp.toDomain(), nil
}
