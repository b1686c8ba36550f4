// Diagnostic tool: dumps live price, recent daily candles, and (with
// credentials in the environment) wallet balances for the first account.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_vbo_bot/internal/usecase"
)

func main() {
	symbol := flag.String("symbol", "BTC", "symbol to check")
	flag.Parse()

	orderLimiter := exchange.NewLimiter(8)
	quoteLimiter := exchange.NewLimiter(25)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	public := exchange.NewUpbitAdapter("", "", exchange.UpbitBaseURL, orderLimiter, quoteLimiter)
	ticker := usecase.Ticker(*symbol)

	price, err := public.GetCurrentPrice(ctx, ticker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "price check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s price: %.0f KRW\n", ticker, price)

	candles, err := public.GetDailyCandles(ctx, ticker, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candle check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("last daily candles (oldest first):")
	for _, c := range candles {
		fmt.Printf("  O %.0f H %.0f L %.0f C %.0f\n", c.Open, c.High, c.Low, c.Close)
	}

	_, creds, err := config.LoadEnv()
	if err != nil {
		fmt.Println("no account credentials in environment, skipping balance check")
		return
	}
	private := exchange.NewUpbitAdapter(creds[0].AccessKey, creds[0].SecretKey, exchange.UpbitBaseURL, orderLimiter, quoteLimiter)
	krw, err := private.GetBalance(ctx, "KRW")
	if err != nil {
		fmt.Fprintf(os.Stderr, "balance check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[%s] KRW balance: %.0f\n", creds[0].Name, krw)
}
