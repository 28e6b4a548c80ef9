package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/config"
	"github.com/mkovacic/lingo/internal/httpapi"
	"github.com/mkovacic/lingo/internal/observability"
	"github.com/mkovacic/lingo/internal/prompt"
	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/rollup"
	"github.com/mkovacic/lingo/internal/store"
	"github.com/mkovacic/lingo/internal/translate"
	"github.com/mkovacic/lingo/internal/websearch"
)

func main() {
	// Local dev convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	gateway := provider.NewClient(provider.Config{
		URL:       cfg.ProviderURL,
		StreamURL: cfg.ProviderStreamURL,
		Token:     cfg.ProviderToken,
		Model:     cfg.ProviderModel,
		Timeout:   cfg.ProviderTimeout,
		BodyShape: cfg.ProviderBodyShape,
	}, logger)

	search := websearch.NewClient(cfg.SearchURL, cfg.SearchTimeout, logger)
	if !search.Configured() {
		logger.Info("SEARCH_URL not set, web augmentation disabled")
	}

	assembler := prompt.NewAssembler(search, logger)
	engine := rollup.NewEngine(st, gateway, logger)
	translator := translate.NewService(st, gateway, logger)

	api := httpapi.New(cfg, st, gateway, assembler, engine, translator, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
