package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nrsilver/venue/internal/api"
	"github.com/nrsilver/venue/internal/auth"
	"github.com/nrsilver/venue/internal/broadcast"
	"github.com/nrsilver/venue/internal/bus"
	"github.com/nrsilver/venue/internal/config"
	"github.com/nrsilver/venue/internal/engine"
	"github.com/nrsilver/venue/internal/market"
	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

// Main entry point: wires config, ledger, price engine, bus, hub and HTTP server
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger, err := openLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open ledger", zap.Error(err))
	}
	defer closeLedger()

	b := bus.New()
	eng := engine.New(cfg, logger)
	hub := broadcast.NewHub(ledger, eng, cfg.Broadcast.ClientQueueSize, logger)
	authService := auth.NewService(ledger, cfg.JWTSecret)
	svc := market.NewService(ledger, b, eng, logger)

	// wiring: order flow -> price impact -> broadcast
	eng.SetOnMutate(hub.Broadcast)
	b.SetStateHandler(hub.Broadcast)
	b.SetTradeHandler(func(direction models.OrderType, units float64) {
		count, err := ledger.CountUsers(context.Background())
		if err != nil {
			// engine state is unaffected by a store failure
			logger.Warn("failed to count users for trade impact", zap.Error(err))
			return
		}
		eng.ApplyTradeImpact(direction, units, count)
	})

	go eng.Run(ctx)

	handler := api.NewHandler(ledger, svc, eng, authService, hub, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("venue listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// openLedger selects the ledger backend from the URL scheme.
// "memory://" runs everything in process for local development.
func openLedger(ctx context.Context, url string) (store.Ledger, func(), error) {
	if strings.HasPrefix(url, "memory://") {
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
