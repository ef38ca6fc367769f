// Package main is the entry point for the open finance sync service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/yelinaung/finsync/internal/config"
	"gitlab.com/yelinaung/finsync/internal/cron"
	"gitlab.com/yelinaung/finsync/internal/database"
	"gitlab.com/yelinaung/finsync/internal/dedup"
	"gitlab.com/yelinaung/finsync/internal/gemini"
	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/provider"
	"gitlab.com/yelinaung/finsync/internal/provider/belvo"
	"gitlab.com/yelinaung/finsync/internal/provider/pluggy"
	"gitlab.com/yelinaung/finsync/internal/repository"
	"gitlab.com/yelinaung/finsync/internal/sync"
	"gitlab.com/yelinaung/finsync/internal/telemetry"
	"gitlab.com/yelinaung/finsync/internal/webhook"

	"gitlab.com/yelinaung/finsync/internal/category"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("finsync %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.SetLevel(cfg.LogLevel)
	logger.InitHashSalt()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	logger.Log.Info().Msg("Database initialized successfully")

	var adapters []provider.Adapter
	if cfg.PluggyEnabled() {
		adapters = append(adapters, pluggy.New(cfg.PluggyClientID, cfg.PluggyClientSecret, cfg.PluggyBaseURL, cfg.ProviderHTTPTimeout))
	}
	if cfg.BelvoEnabled() {
		adapters = append(adapters, belvo.New(cfg.BelvoSecretID, cfg.BelvoSecretPassword, cfg.BelvoBaseURL, cfg.ProviderHTTPTimeout))
	}
	facade := provider.NewFacade(adapters...)

	connRepo := repository.NewConnectionRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	txRepo := repository.NewTransactionRepository(pool)
	expenseRepo := repository.NewExpenseRepository(pool)
	aliasRepo := repository.NewMerchantAliasRepository(pool)

	var classifier category.Classifier
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		classifier = client
	} else {
		logger.Log.Warn().Msg("GEMINI_API_KEY not set, categorization will rely on aliases and rules only")
	}
	engine := category.NewEngine(aliasRepo, classifier)

	svc := sync.NewService(facade, connRepo, accountRepo, txRepo, expenseRepo, engine, sync.Options{
		LookbackDays: cfg.SyncLookbackDays,
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
		Dedup:        dedup.DefaultOptions(),
	})

	poller := cron.New(svc, connRepo, cfg.SyncInterval)
	go poller.Start(ctx)

	server := webhook.NewServer(svc, facade, connRepo, accountRepo, expenseRepo, cfg.WebhookSecret, cfg.SyncLookbackDays)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Log.Info().Msg("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		cancel()
	}()

	logger.Log.Info().Str("addr", cfg.HTTPAddr).Msg("Webhook server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatal().Err(err).Msg("HTTP server failed")
	}
}
