package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ripple-trading/internal/auth"
	"ripple-trading/internal/config"
	"ripple-trading/internal/docstore"
	"ripple-trading/internal/httpserver"
	"ripple-trading/internal/ledger"
	"ripple-trading/internal/logging"
	"ripple-trading/internal/oracle"
	"ripple-trading/internal/orders"
	"ripple-trading/internal/positions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store docstore.Store
	if cfg.DBDSN != "" {
		pg, err := docstore.NewPostgres(ctx, cfg.DBDSN)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("DB_DSN not set, using in-memory store")
		store = docstore.NewMemory()
	}

	ledgerSvc := ledger.NewService(store, logger)
	positionSvc := positions.NewService(store, ledgerSvc, logger, positions.Config{
		PreventAutoClose: cfg.PreventAutoClose,
		QuoteAsset:       cfg.QuoteAsset,
	})
	engine := orders.NewEngine(store, ledgerSvc, positionSvc, logger, cfg.QuoteAsset)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	bus := oracle.NewBus()
	prices := oracle.NewPrices(bus)
	defer prices.Close()
	worker := oracle.NewWorker(bus, engine, logger)
	go worker.Run(ctx)
	if cfg.OracleWSURL != "" {
		feed := oracle.NewFeed(cfg.OracleWSURL, bus, logger)
		go feed.Run(ctx)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthService:     authSvc,
		LedgerHandler:   ledger.NewHandler(ledgerSvc),
		PositionHandler: positions.NewHandler(positionSvc, prices),
		OrderHandler:    orders.NewHandler(engine, positionSvc, prices),
		OracleHandler:   oracle.NewHandler(bus),
		InternalToken:   cfg.InternalToken,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
