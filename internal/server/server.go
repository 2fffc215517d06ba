// Package server provides the HTTP server and routing for wonfolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
	"github.com/jihoon/wonfolio/internal/modules/risk"
	"github.com/jihoon/wonfolio/internal/modules/savings"
	"github.com/jihoon/wonfolio/internal/modules/snapshots"
	"github.com/jihoon/wonfolio/internal/modules/valuation"
	"github.com/jihoon/wonfolio/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	PortfolioDB *database.DB
	CacheDB     *database.DB
	Ledger      *ledger.Service
	Valuation   *valuation.Service
	Risk        *risk.Analyzer
	Savings     *savings.Service
	Recorder    *snapshots.Recorder
	Coordinator *scheduler.Coordinator
}

// Server is the HTTP server.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	portfolioDB *database.DB
	cacheDB     *database.DB
	ledger      *ledger.Service
	valuation   *valuation.Service
	risk        *risk.Analyzer
	savings     *savings.Service
	recorder    *snapshots.Recorder
	coordinator *scheduler.Coordinator
	system      *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		portfolioDB: cfg.PortfolioDB,
		cacheDB:     cfg.CacheDB,
		ledger:      cfg.Ledger,
		valuation:   cfg.Valuation,
		risk:        cfg.Risk,
		savings:     cfg.Savings,
		recorder:    cfg.Recorder,
		coordinator: cfg.Coordinator,
	}
	s.system = NewSystemHandlers(cfg.PortfolioDB, cfg.CacheDB, cfg.Coordinator, s.log)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := []string{"http://localhost:*", "http://127.0.0.1:*"}
	if devMode {
		allowedOrigins = []string{"*"}
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/portfolio", func(r chi.Router) {
			r.Post("/buy", s.handleBuy)
			r.Post("/sell", s.handleSell)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/valuation", s.handleValuation)
				r.Get("/risk", s.handleRisk)
				r.Get("/transactions", s.handleTransactions)
				r.Get("/history", s.handleHistory)
				r.Get("/analytics", s.handleAnalytics)
				r.Patch("/positions/{account}/{symbol}", s.handlePatchPosition)
			})
		})

		r.Route("/savings", func(r chi.Router) {
			r.Post("/", s.handleCreateSavings)
			r.Get("/user/{userID}", s.handleListSavings)
			r.Route("/{userID}/{accountID}", func(r chi.Router) {
				r.Get("/", s.handleGetSavings)
				r.Patch("/", s.handlePatchSavings)
				r.Delete("/", s.handleDeleteSavings)
				r.Post("/deposit", s.handleSavingsDeposit)
				r.Post("/withdraw", s.handleSavingsWithdrawal)
				r.Get("/transactions", s.handleSavingsTransactions)
				r.Get("/projection", s.handleSavingsProjection)
			})
		})

		r.Post("/refresh", s.handleRefresh)
		r.Get("/system/status", s.system.handleStatus)
	})
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
