package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/database"
)

type fakeStore struct {
	uploads map[string][]byte
	objects []StoredObject
	deleted []string
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	f.objects = append(f.objects, StoredObject{Key: key, SizeBytes: int64(len(data))})
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []StoredObject
	for _, obj := range f.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			matched = append(matched, obj)
		}
	}
	return matched, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	kept := f.objects[:0]
	for _, obj := range f.objects {
		if obj.Key != key {
			kept = append(kept, obj)
		}
	}
	f.objects = kept
	return nil
}

// newTestService wires a backup service around real databases and a
// fake object store.
func newTestService(t *testing.T, store ObjectStore, retentionDays int) (*BackupService, string) {
	t.Helper()

	dataDir := t.TempDir()

	engineDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "engine.db"),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	require.NoError(t, err)
	t.Cleanup(func() { engineDB.Close() })

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })

	// Give VACUUM INTO some pages to copy
	for _, db := range []*database.DB{engineDB, cacheDB} {
		_, err := db.Exec("CREATE TABLE IF NOT EXISTS probe (id INTEGER PRIMARY KEY, note TEXT)")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO probe (note) VALUES ('backup me')")
		require.NoError(t, err)
	}

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	svc := NewBackupService(BackupConfig{
		Store:         store,
		Databases:     []*database.DB{engineDB, cacheDB},
		DataDir:       dataDir,
		Prefix:        "tiller-backups",
		RetentionDays: retentionDays,
	}, logger)

	return svc, dataDir
}

// readArchive unpacks a tar.gz payload into a name -> contents map.
func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gzipReader.Close()

	files := make(map[string][]byte)
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		contents, err := io.ReadAll(tarReader)
		require.NoError(t, err)
		files[header.Name] = contents
	}
	return files
}

func TestRunBackupUploadsArchive(t *testing.T) {
	store := newFakeStore()
	svc, dataDir := newTestService(t, store, 0)

	require.NoError(t, svc.RunBackup(context.Background()))

	require.Len(t, store.uploads, 1)
	var key string
	for k := range store.uploads {
		key = k
	}
	assert.True(t, strings.HasPrefix(key, "tiller-backups/tiller-backup-"), "unexpected key %q", key)
	assert.True(t, strings.HasSuffix(key, ".tar.gz"), "unexpected key %q", key)

	files := readArchive(t, store.uploads[key])
	require.Contains(t, files, "engine.db")
	require.Contains(t, files, "cache.db")
	require.Contains(t, files, "backup-metadata.json")
	assert.NotEmpty(t, files["engine.db"])
	assert.NotEmpty(t, files["cache.db"])

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "engine", metadata.Databases[0].Name)
	assert.Equal(t, "cache", metadata.Databases[1].Name)
	for _, db := range metadata.Databases {
		assert.True(t, strings.HasPrefix(db.Checksum, "sha256:"), "checksum %q", db.Checksum)
		assert.Greater(t, db.SizeBytes, int64(0))
	}
	assert.False(t, metadata.Timestamp.IsZero())

	// Staging space is cleaned up after the run
	leftovers, err := filepath.Glob(filepath.Join(dataDir, "backup-staging-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunBackupWithoutStore(t *testing.T) {
	svc, _ := newTestService(t, nil, 0)

	assert.False(t, svc.Enabled())
	assert.Error(t, svc.RunBackup(context.Background()))
}

func TestListBackupsSortsAndSkipsStrays(t *testing.T) {
	store := newFakeStore()
	store.objects = []StoredObject{
		{Key: "tiller-backups/tiller-backup-2024-01-05-120000.tar.gz", SizeBytes: 10},
		{Key: "tiller-backups/tiller-backup-2024-03-01-090000.tar.gz", SizeBytes: 30},
		{Key: "tiller-backups/tiller-backup-not-a-timestamp.tar.gz", SizeBytes: 5},
		{Key: "tiller-backups/tiller-backup-2024-02-10-180000.tar.gz", SizeBytes: 20},
	}
	svc, _ := newTestService(t, store, 0)

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "tiller-backups/tiller-backup-2024-03-01-090000.tar.gz", backups[0].Key)
	assert.Equal(t, "tiller-backups/tiller-backup-2024-01-05-120000.tar.gz", backups[2].Key)
	assert.Equal(t, int64(30), backups[0].SizeBytes)
}

func TestRotateOldBackupsKeepsNewest(t *testing.T) {
	now := time.Now()
	oldStamp := func(daysAgo int) string {
		return now.AddDate(0, 0, -daysAgo).Format("2006-01-02-150405")
	}

	store := newFakeStore()
	for _, daysAgo := range []int{100, 90, 80, 70, 2} {
		store.objects = append(store.objects, StoredObject{
			Key:       fmt.Sprintf("tiller-backups/tiller-backup-%s.tar.gz", oldStamp(daysAgo)),
			SizeBytes: 1,
		})
	}
	svc, _ := newTestService(t, store, 30)

	require.NoError(t, svc.RotateOldBackups(context.Background()))

	// Newest three survive even though two of them are past retention
	assert.Len(t, store.deleted, 2)
	assert.Contains(t, store.deleted[0], oldStamp(90))
	assert.Contains(t, store.deleted[1], oldStamp(100))
	assert.Len(t, store.objects, 3)
}

func TestRotateOldBackupsRetentionDisabled(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	for _, daysAgo := range []int{400, 300, 200, 100} {
		stamp := now.AddDate(0, 0, -daysAgo).Format("2006-01-02-150405")
		store.objects = append(store.objects, StoredObject{
			Key:       "tiller-backups/tiller-backup-" + stamp + ".tar.gz",
			SizeBytes: 1,
		})
	}
	svc, _ := newTestService(t, store, 0)

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Empty(t, store.deleted)
}

func TestRotateOldBackupsTooFew(t *testing.T) {
	store := newFakeStore()
	stamp := time.Now().AddDate(0, 0, -500).Format("2006-01-02-150405")
	store.objects = []StoredObject{
		{Key: "tiller-backups/tiller-backup-" + stamp + ".tar.gz", SizeBytes: 1},
	}
	svc, _ := newTestService(t, store, 30)

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Empty(t, store.deleted)
}
