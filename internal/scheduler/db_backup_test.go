package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackupRunner struct {
	enabled bool
	err     error
	calls   int
}

func (f *fakeBackupRunner) Enabled() bool { return f.enabled }

func (f *fakeBackupRunner) RunBackup(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestDBBackupJob_Name(t *testing.T) {
	job := NewDBBackupJob(nil, testLog())
	assert.Equal(t, "db_backup", job.Name())
}

func TestBackupSkipsWhenDisabled(t *testing.T) {
	runner := &fakeBackupRunner{enabled: false}
	job := NewDBBackupJob(runner, testLog())

	require.NoError(t, job.Run())
	assert.Equal(t, 0, runner.calls)
}

func TestBackupSkipsWhenUnwired(t *testing.T) {
	job := NewDBBackupJob(nil, testLog())
	assert.NoError(t, job.Run())
}

func TestBackupRunsWhenEnabled(t *testing.T) {
	runner := &fakeBackupRunner{enabled: true}
	job := NewDBBackupJob(runner, testLog())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, runner.calls)
}

func TestBackupPropagatesFailure(t *testing.T) {
	runner := &fakeBackupRunner{enabled: true, err: errors.New("upload failed")}
	job := NewDBBackupJob(runner, testLog())

	assert.Error(t, job.Run())
}
