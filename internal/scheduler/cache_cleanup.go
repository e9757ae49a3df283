package scheduler

import (
	"github.com/rs/zerolog"
)

// ClientDataCleaner purges expired client data cache rows.
// Satisfied by clientdata.Repository.
type ClientDataCleaner interface {
	DeleteAllExpired() (map[string]int64, error)
}

// SnapshotPruner purges expired matrix snapshots.
// Satisfied by snapshots.Service.
type SnapshotPruner interface {
	DeleteExpired() (int64, error)
}

// CacheCleanupJob removes expired rows from every cache.db table.
type CacheCleanupJob struct {
	clientData ClientDataCleaner
	snapshots  SnapshotPruner
	log        zerolog.Logger
}

// NewCacheCleanupJob creates the cache cleanup job. Either store may be
// nil when it is not wired.
func NewCacheCleanupJob(clientData ClientDataCleaner, snapshots SnapshotPruner, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		clientData: clientData,
		snapshots:  snapshots,
		log:        log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Run removes all expired entries
func (j *CacheCleanupJob) Run() error {
	var total int64

	if j.clientData != nil {
		results, err := j.clientData.DeleteAllExpired()
		if err != nil {
			j.log.Error().Err(err).Msg("Failed to delete expired client data")
			return err
		}
		for table, count := range results {
			if count > 0 {
				j.log.Info().
					Str("table", table).
					Int64("deleted", count).
					Msg("Cleaned up expired cache entries")
				total += count
			}
		}
	}

	if j.snapshots != nil {
		deleted, err := j.snapshots.DeleteExpired()
		if err != nil {
			j.log.Error().Err(err).Msg("Failed to delete expired snapshots")
			return err
		}
		if deleted > 0 {
			j.log.Info().Int64("deleted", deleted).Msg("Cleaned up expired snapshots")
			total += deleted
		}
	}

	if total > 0 {
		j.log.Info().Int64("total_deleted", total).Msg("Cache cleanup completed")
	}
	return nil
}
