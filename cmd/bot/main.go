package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/vitos/crypto_vbo_bot/internal/config"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/metrics"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/notify"
	"github.com/vitos/crypto_vbo_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_vbo_bot/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	secrets, accountCreds, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ledger, err := storage.NewSQLiteLedger(filepath.Join(cfg.DataDir, "trades.db"))
	if err != nil {
		log.Fatal("Failed to init trade ledger", zap.Error(err))
	}
	defer ledger.Close()

	// Rate limiters are shared across every adapter: one channel for
	// orders/accounts, one for public quotations (Upbit caps 10/30 req/s).
	orderLimiter := exchange.NewLimiter(8)
	quoteLimiter := exchange.NewLimiter(25)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Public adapter for signals and live prices, fed by the websocket
	// ticker stream when it is up.
	tickers := make([]string, 0, len(cfg.Symbols)+1)
	tickers = append(tickers, "KRW-BTC")
	for _, s := range cfg.Symbols {
		tickers = append(tickers, usecase.Ticker(s))
	}
	stream := exchange.NewPriceStream(cfg.Exchange.WSEndpoint, tickers, log)
	go stream.Run(ctx)

	public := exchange.NewUpbitAdapter("", "", cfg.Exchange.RESTEndpoint, orderLimiter, quoteLimiter)
	public.AttachPriceStream(stream)

	notifier := notify.NewTelegramNotifier(secrets.TelegramToken, secrets.TelegramChatID, log)
	signals := usecase.NewSignalService(public, cfg, log)

	accounts := make([]*usecase.Account, 0, len(accountCreds))
	for _, cred := range accountCreds {
		adapter := exchange.NewUpbitAdapter(cred.AccessKey, cred.SecretKey, cfg.Exchange.RESTEndpoint, orderLimiter, quoteLimiter)
		adapter.AttachPriceStream(stream)
		accounts = append(accounts, usecase.NewAccount(cred.Name, adapter, ledger, notifier, cfg, log))
	}

	metrics.Serve(cfg.Metrics.Port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	bot := usecase.NewBot(accounts, signals, notifier, cfg, log)
	bot.Run(ctx)
}
