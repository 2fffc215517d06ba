package marketdata

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CleanupJob purges expired cache entries past the grace window. Runs
// nightly so the cache files don't grow without bound.
type CleanupJob struct {
	repo   *Repository
	logger zerolog.Logger
}

// NewCleanupJob creates a cache cleanup job.
func NewCleanupJob(repo *Repository, logger zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:   repo,
		logger: logger.With().Str("job", "cache-cleanup").Logger(),
	}
}

// Name returns the job identifier for scheduler logs.
func (j *CleanupJob) Name() string {
	return "cache-cleanup"
}

// Run deletes expired entries from all cache tables.
func (j *CleanupJob) Run() error {
	results, err := j.repo.DeleteAllExpired(CleanupGrace)
	if err != nil {
		return fmt.Errorf("cache cleanup: %w", err)
	}

	var total int64
	for _, n := range results {
		total += n
	}

	if total > 0 {
		j.logger.Info().
			Int64("deleted", total).
			Interface("tables", results).
			Msg("purged expired cache entries")
	} else {
		j.logger.Debug().Msg("no expired cache entries to purge")
	}

	return nil
}
