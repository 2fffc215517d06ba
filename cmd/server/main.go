package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jihoon/wonfolio/internal/clients/exchangerate"
	"github.com/jihoon/wonfolio/internal/clients/krx"
	"github.com/jihoon/wonfolio/internal/clients/yahoo"
	"github.com/jihoon/wonfolio/internal/config"
	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/marketdata"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
	"github.com/jihoon/wonfolio/internal/modules/risk"
	"github.com/jihoon/wonfolio/internal/modules/savings"
	"github.com/jihoon/wonfolio/internal/modules/snapshots"
	"github.com/jihoon/wonfolio/internal/modules/valuation"
	"github.com/jihoon/wonfolio/internal/scheduler"
	"github.com/jihoon/wonfolio/internal/server"
	"github.com/jihoon/wonfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting wonfolio")

	portfolioDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := portfolioDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate portfolio database")
	}
	if err := cacheDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate cache database")
	}

	clock := domain.SystemClock{}

	// Quote providers in fallback order: KRX first for the domestic
	// market, Yahoo for everything.
	var quoteProviders []domain.QuoteProvider
	if cfg.KRXEnabled {
		quoteProviders = append(quoteProviders, krx.NewClient(clock, log))
	}
	if cfg.YahooEnabled {
		quoteProviders = append(quoteProviders, yahoo.NewClient(log))
	}

	var fxProviders []domain.FXProvider
	if cfg.ExchangeRateEnabled {
		fxProviders = append(fxProviders, exchangerate.NewClient(log))
	}

	cacheRepo := marketdata.NewRepository(cacheDB.Conn(), clock)
	quotes := marketdata.NewQuoteService(cacheRepo, quoteProviders, clock, log)
	fx := marketdata.NewFXService(cacheRepo, fxProviders, clock, log)
	cleanupJob := marketdata.NewCleanupJob(cacheRepo, log)
	checkpointJob := database.NewCheckpointJob(log, portfolioDB, cacheDB)

	conn := portfolioDB.Conn()
	positions := ledger.NewPositionRepository(conn, log)
	txns := ledger.NewTransactionRepository(conn, log)
	ledgerSvc := ledger.NewService(conn, positions, txns, fx, clock, log)

	valuationSvc := valuation.NewService(positions, txns, quotes, fx, clock, cfg.ValuationWorkers, log)
	ledgerSvc.SetRevaluer(valuationSvc)

	riskAnalyzer := risk.NewAnalyzer(positions, log)
	savingsSvc := savings.NewService(conn, savings.NewRepository(conn, log), clock, log)
	recorder := snapshots.NewRecorder(snapshots.NewRepository(conn, log), valuationSvc, positions, clock, log)

	coordinator := scheduler.NewCoordinator(positions, quotes, fx, valuationSvc, savingsSvc, recorder, log)

	sched := scheduler.New(log)
	if err := coordinator.Register(sched, cfg, cleanupJob, checkpointJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.RefreshOnStartup {
		go coordinator.RunStartupRefresh(sched)
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		PortfolioDB: portfolioDB,
		CacheDB:     cacheDB,
		Ledger:      ledgerSvc,
		Valuation:   valuationSvc,
		Risk:        riskAnalyzer,
		Savings:     savingsSvc,
		Recorder:    recorder,
		Coordinator: coordinator,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
