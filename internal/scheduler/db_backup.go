package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const backupTimeout = 10 * time.Minute

// BackupRunner runs one backup round trip.
// Satisfied by reliability.BackupService.
type BackupRunner interface {
	Enabled() bool
	RunBackup(ctx context.Context) error
}

// DBBackupJob stages and uploads the SQLite databases to remote
// storage. A no-op when backups are not configured.
type DBBackupJob struct {
	backups BackupRunner
	log     zerolog.Logger
}

// NewDBBackupJob creates the backup job
func NewDBBackupJob(backups BackupRunner, log zerolog.Logger) *DBBackupJob {
	return &DBBackupJob{
		backups: backups,
		log:     log.With().Str("job", "db_backup").Logger(),
	}
}

// Name returns the job name
func (j *DBBackupJob) Name() string {
	return "db_backup"
}

// Run performs one backup
func (j *DBBackupJob) Run() error {
	if j.backups == nil || !j.backups.Enabled() {
		j.log.Debug().Msg("Backups not configured, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	return j.backups.RunBackup(ctx)
}
