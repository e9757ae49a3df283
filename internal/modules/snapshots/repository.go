package snapshots

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository stores snapshot blobs in cache.db. Same shape as the
// client data cache tables, but the value column is a binary blob.
type Repository struct {
	db *sql.DB
}

// NewRepository creates the snapshot repository and ensures its table
// exists.
func NewRepository(db *sql.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	r := &Repository{db: db}
	ddl := `
		CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_key TEXT PRIMARY KEY,
			data         BLOB NOT NULL,
			created_at   INTEGER NOT NULL,
			expires_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_expires ON snapshots(expires_at);
	`
	if _, err := r.db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return r, nil
}

// Info describes one stored snapshot without its blob.
type Info struct {
	Key       string    `json:"key"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store upserts a blob with expiration = now + ttl.
func (r *Repository) Store(key string, blob []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("snapshot key is required")
	}
	if len(blob) == 0 {
		return fmt.Errorf("snapshot blob is empty")
	}

	now := time.Now().UTC()
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO snapshots (snapshot_key, data, created_at, expires_at) VALUES (?, ?, ?, ?)",
		key, blob, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", key, err)
	}
	return nil
}

// GetIfFresh returns the blob only while expires_at is in the future.
// Returns nil, nil when the key is absent or expired.
func (r *Repository) GetIfFresh(key string) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRow(
		"SELECT data FROM snapshots WHERE snapshot_key = ? AND expires_at > ?",
		key, time.Now().UTC().Unix(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}
	return blob, nil
}

// Delete removes one snapshot.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM snapshots WHERE snapshot_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes all rows past their expiry and returns the
// number deleted.
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec("DELETE FROM snapshots WHERE expires_at < ?", time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired snapshots: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// List returns metadata for every stored snapshot, newest first.
func (r *Repository) List() ([]Info, error) {
	rows, err := r.db.Query(
		"SELECT snapshot_key, length(data), created_at, expires_at FROM snapshots ORDER BY created_at DESC, snapshot_key",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var created, expires int64
		if err := rows.Scan(&info.Key, &info.SizeBytes, &created, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		info.CreatedAt = time.Unix(created, 0).UTC()
		info.ExpiresAt = time.Unix(expires, 0).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return infos, nil
}
