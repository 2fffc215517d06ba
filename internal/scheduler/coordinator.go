package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/config"
	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/marketdata"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
	"github.com/jihoon/wonfolio/internal/modules/savings"
	"github.com/jihoon/wonfolio/internal/modules/snapshots"
	"github.com/jihoon/wonfolio/internal/modules/valuation"
)

// Coordinator states.
const (
	StateIdle       = "idle"
	StateRefreshing = "refreshing"
)

// Coordinator drives the refresh cycle: FX sync, quote refresh,
// revaluation, savings recalculation, snapshot recording. Only one
// cycle runs at a time;
// concurrent triggers are rejected so scheduled and on-demand refreshes
// coalesce instead of stacking.
type Coordinator struct {
	positions *ledger.PositionRepository
	quotes    *marketdata.QuoteService
	fx        *marketdata.FXService
	valuation *valuation.Service
	savings   *savings.Service
	recorder  *snapshots.Recorder

	refreshing atomic.Bool
	lastRun    atomic.Int64
	log        zerolog.Logger
}

// NewCoordinator creates a refresh coordinator.
func NewCoordinator(
	positions *ledger.PositionRepository,
	quotes *marketdata.QuoteService,
	fx *marketdata.FXService,
	val *valuation.Service,
	sav *savings.Service,
	recorder *snapshots.Recorder,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		positions: positions,
		quotes:    quotes,
		fx:        fx,
		valuation: val,
		savings:   sav,
		recorder:  recorder,
		log:       log.With().Str("component", "coordinator").Logger(),
	}
}

// State reports the coordinator state for the status endpoint.
func (c *Coordinator) State() string {
	if c.refreshing.Load() {
		return StateRefreshing
	}
	return StateIdle
}

// LastRun returns when the last refresh cycle finished, zero if never.
func (c *Coordinator) LastRun() time.Time {
	unix := c.lastRun.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// RefreshAll runs one full refresh cycle. An empty userID refreshes
// every user. Returns ErrRefreshInProgress when a cycle is already
// running; the caller decides whether that is an error or a skip.
func (c *Coordinator) RefreshAll(ctx context.Context, userID string) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return domain.ErrRefreshInProgress
	}
	defer func() {
		c.refreshing.Store(false)
		c.lastRun.Store(time.Now().Unix())
	}()

	started := time.Now()
	c.log.Info().Str("user", userID).Msg("refresh cycle starting")

	if err := c.syncFX(ctx, userID); err != nil {
		// FX failures degrade to cached or fallback rates downstream.
		c.log.Warn().Err(err).Msg("FX sync incomplete, continuing with cached rates")
	}

	c.refreshQuotes(ctx, userID)

	if userID != "" {
		if err := c.valuation.RevalueUser(ctx, userID); err != nil {
			return fmt.Errorf("revaluation failed: %w", err)
		}
	} else {
		if err := c.valuation.RevalueAll(ctx); err != nil {
			return fmt.Errorf("revaluation failed: %w", err)
		}
	}

	if err := c.savings.RecalculateAll(ctx); err != nil {
		c.log.Error().Err(err).Msg("savings recalculation failed, continuing")
	}

	// Snapshot the freshly revalued book. Upsert-per-date, so running
	// alongside the scheduled snapshot job just replaces today's row.
	if userID != "" {
		if err := c.recorder.RecordUser(userID); err != nil {
			c.log.Error().Err(err).Str("user", userID).Msg("snapshot recording failed, continuing")
		}
	} else {
		if err := c.recorder.RecordAll(ctx); err != nil {
			c.log.Error().Err(err).Msg("snapshot recording failed, continuing")
		}
	}

	c.log.Info().
		Str("user", userID).
		Dur("elapsed", time.Since(started)).
		Msg("refresh cycle complete")

	return nil
}

// syncFX refreshes the FX pairs the held positions need. Only foreign
// holdings pull a rate; an all-domestic book skips the call entirely.
func (c *Coordinator) syncFX(ctx context.Context, userID string) error {
	positions, err := c.heldPositions(userID)
	if err != nil {
		return err
	}

	needUSD := false
	for i := range positions {
		if positions[i].Market != domain.MarketKR {
			needUSD = true
			break
		}
	}
	if !needUSD {
		return nil
	}

	_, err = c.fx.SyncRates(ctx, [][2]string{{"USD", "KRW"}})
	return err
}

// refreshQuotes warms the cache for every held instrument so the
// valuation pass that follows reads fresh quotes. Keys still inside
// their TTL are served from cache untouched; only due keys hit the
// providers. Per-symbol failures are logged; the stale fallback covers
// them during valuation.
func (c *Coordinator) refreshQuotes(ctx context.Context, userID string) {
	positions, err := c.heldPositions(userID)
	if err != nil {
		c.log.Error().Err(err).Msg("could not list held instruments for quote refresh")
		return
	}

	seen := make(map[string]bool, len(positions))
	refreshed := 0
	for i := range positions {
		if ctx.Err() != nil {
			return
		}

		key := positions[i].Market + ":" + positions[i].Symbol
		if seen[key] {
			continue
		}
		seen[key] = true

		_, err := c.quotes.GetQuote(ctx, positions[i].Symbol, positions[i].Market, marketdata.QuoteOptions{})
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", positions[i].Symbol).Msg("quote refresh failed")
			continue
		}
		refreshed++
	}

	c.log.Debug().Int("refreshed", refreshed).Int("held", len(seen)).Msg("quote refresh pass done")
}

func (c *Coordinator) heldPositions(userID string) ([]domain.Position, error) {
	if userID != "" {
		return c.positions.GetAllForUser(userID)
	}

	users, err := c.positions.GetAllUsers()
	if err != nil {
		return nil, err
	}

	var all []domain.Position
	for _, id := range users {
		positions, err := c.positions.GetAllForUser(id)
		if err != nil {
			return nil, err
		}
		all = append(all, positions...)
	}
	return all, nil
}

// refreshJob adapts the coordinator to the scheduler's Job interface.
// A cycle already in flight turns the scheduled trigger into a no-op.
type refreshJob struct {
	c *Coordinator
}

func (j refreshJob) Name() string { return "price-refresh" }

func (j refreshJob) Run() error {
	err := j.c.RefreshAll(context.Background(), "")
	if err == domain.ErrRefreshInProgress {
		j.c.log.Info().Msg("refresh already running, skipping scheduled trigger")
		return nil
	}
	return err
}

// snapshotJob records the end-of-day snapshot for every user.
type snapshotJob struct {
	c *Coordinator
}

func (j snapshotJob) Name() string { return "daily-snapshot" }

func (j snapshotJob) Run() error {
	return j.c.recorder.RecordAll(context.Background())
}

// Register wires the coordinator's cycles and the maintenance jobs onto
// the scheduler per the configured cron expressions.
func (c *Coordinator) Register(s *Scheduler, cfg *config.Config, cleanup *marketdata.CleanupJob, checkpoint *database.CheckpointJob) error {
	for _, schedule := range cfg.PriceRefreshSchedules {
		if err := s.AddJob(schedule, refreshJob{c}); err != nil {
			return fmt.Errorf("bad price refresh schedule %q: %w", schedule, err)
		}
	}

	if err := s.AddJob(cfg.SnapshotSchedule, snapshotJob{c}); err != nil {
		return fmt.Errorf("bad snapshot schedule %q: %w", cfg.SnapshotSchedule, err)
	}

	if err := s.AddJob(cfg.CacheCleanupSchedule, cleanup); err != nil {
		return fmt.Errorf("bad cleanup schedule %q: %w", cfg.CacheCleanupSchedule, err)
	}

	if err := s.AddJob(cfg.WALCheckpointSchedule, checkpoint); err != nil {
		return fmt.Errorf("bad checkpoint schedule %q: %w", cfg.WALCheckpointSchedule, err)
	}

	return nil
}

// RunStartupRefresh performs the run-once refresh at boot so the first
// request never sees a cold cache. It goes through the scheduler's
// immediate path so the run is logged like any scheduled cycle.
// Failures are logged, not fatal.
func (c *Coordinator) RunStartupRefresh(s *Scheduler) {
	if err := s.RunNow(refreshJob{c}); err != nil {
		c.log.Error().Err(err).Msg("startup refresh failed")
	}
}
