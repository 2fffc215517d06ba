package database

import (
	"github.com/rs/zerolog"
)

// CheckpointJob truncates the WAL files nightly. Without it the WAL can
// grow unbounded on a long-running daemon, since readers keep the
// autocheckpoint from ever reclaiming it.
type CheckpointJob struct {
	dbs []*DB
	log zerolog.Logger
}

// NewCheckpointJob creates a WAL checkpoint job over the given databases.
func NewCheckpointJob(log zerolog.Logger, dbs ...*DB) *CheckpointJob {
	return &CheckpointJob{
		dbs: dbs,
		log: log.With().Str("job", "wal-checkpoint").Logger(),
	}
}

// Name returns the job identifier for scheduler logs.
func (j *CheckpointJob) Name() string {
	return "wal-checkpoint"
}

// Run checkpoints every database. A failure on one database does not
// skip the others; the first error is returned.
func (j *CheckpointJob) Run() error {
	var firstErr error
	for _, db := range j.dbs {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint done")
	}
	return firstErr
}
