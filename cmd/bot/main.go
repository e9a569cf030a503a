package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"flipbot/internal/config"
	"flipbot/internal/game"
	"flipbot/internal/handler"
	"flipbot/internal/logging"
	"flipbot/internal/notify"
	"flipbot/internal/payments"
	"flipbot/internal/pipeline"
	"flipbot/internal/price"
	"flipbot/internal/store"
	"flipbot/internal/withdraw"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel, "flipbot")

	if cfg.Telegram.Token == "" {
		logger.Error("TELEGRAM_TOKEN is required")
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.Data.Dir, "error", err)
		os.Exit(1)
	}

	processor := payments.NewClient(cfg.Processor.BaseURL, cfg.Processor.Account, cfg.Processor.TransferKey, logger)
	oracle := price.New(cfg.Price.BaseURL, logger)

	ledger := store.NewLedger(cfg.Data.Dir, logger)
	wallets := store.NewAddressBook(filepath.Join(cfg.Data.Dir, "wallets.json"), processor, logger)
	counters := store.NewCounters(filepath.Join(cfg.Data.Dir, "counters.json"))

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("authorized on telegram", "account", bot.Self.UserName)

	dispatcher := notify.NewDispatcher(bot, cfg.Telegram.OperationsChatID, logger)
	pipe := pipeline.New(ledger, wallets, oracle, dispatcher, logger)
	withdraws := withdraw.NewManager(ledger, oracle, processor, dispatcher, cfg.Telegram.Operators, logger)
	coinflip := game.NewEngine(ledger, counters, game.DefaultPolicy(), 0, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx, withdraws)

	h := handler.New(pipe, ledger, wallets, withdraws, coinflip, cfg.AdminKey, logger)
	router := handler.Router(h, cfg.RateLimit)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
}
