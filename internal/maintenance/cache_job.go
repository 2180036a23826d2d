package maintenance

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gaomindu/prscreen/internal/history"
)

// CacheMaintenanceJob purges unreadable cache rows, checkpoints the WAL and
// vacuums the history database. Meant for a quiet overnight slot; VACUUM
// rewrites the whole file.
type CacheMaintenanceJob struct {
	store *history.Store
	log   zerolog.Logger
}

// NewCacheMaintenanceJob creates the job.
func NewCacheMaintenanceJob(store *history.Store, log zerolog.Logger) *CacheMaintenanceJob {
	return &CacheMaintenanceJob{
		store: store,
		log:   log.With().Str("job", "cache-maintenance").Logger(),
	}
}

// Name implements Job.
func (j *CacheMaintenanceJob) Name() string { return "cache-maintenance" }

// Run implements Job.
func (j *CacheMaintenanceJob) Run() error {
	purged, err := j.store.PurgeUnreadable()
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	if purged > 0 {
		j.log.Warn().Int64("purged", purged).Msg("Removed unreadable cache rows")
	}

	if err := j.store.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	if err := j.store.Vacuum(); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}

	j.log.Info().Int64("purged", purged).Msg("Cache maintenance finished")
	return nil
}
