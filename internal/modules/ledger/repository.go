package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists run records in engine.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// runsColumns is the list of columns for the runs table.
// Used to avoid SELECT * which can break when schema changes.
const runsColumns = `id, started_at, run_date, trigger_count, cursor_state, weights, intents, outcome, error`

// defaultListLimit caps GET /api/runs responses when no limit is given
const defaultListLimit = 50

// NewRepository creates a new run repository and ensures its table
// exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			started_at    INTEGER NOT NULL,
			run_date      INTEGER NOT NULL DEFAULT 0,
			trigger_count INTEGER NOT NULL,
			cursor_state  TEXT NOT NULL,
			weights       TEXT NOT NULL DEFAULT '{}',
			intents       TEXT NOT NULL DEFAULT '[]',
			outcome       TEXT NOT NULL,
			error         TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return r, nil
}

// Record appends a run and returns its ID. A missing ID or start time
// is filled in here so callers can hand over partially built records.
func (r *Repository) Record(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Outcome == "" {
		return "", fmt.Errorf("run outcome must not be empty")
	}

	weightsJSON, err := json.Marshal(run.Weights)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run weights: %w", err)
	}
	intentsJSON, err := json.Marshal(run.Intents)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run intents: %w", err)
	}

	var runDate int64
	if !run.Date.IsZero() {
		runDate = run.Date.Unix()
	}

	query := `
		INSERT INTO runs (` + runsColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		run.ID, run.StartedAt.Unix(), runDate, run.TriggerCount,
		run.CursorState, string(weightsJSON), string(intentsJSON),
		run.Outcome, run.Error)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	r.log.Debug().
		Str("run_id", run.ID).
		Str("outcome", run.Outcome).
		Int("trigger_count", run.TriggerCount).
		Msg("Run recorded")

	return run.ID, nil
}

// GetByID returns a run by ID, or nil if not found
func (r *Repository) GetByID(id string) (*Run, error) {
	query := "SELECT " + runsColumns + " FROM runs WHERE id = ?"

	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run by id: %w", err)
	}

	return run, nil
}

// ListRecent returns the most recent runs, newest first. A limit of
// zero or less falls back to the default page size.
func (r *Repository) ListRecent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := "SELECT " + runsColumns + " FROM runs ORDER BY started_at DESC, id LIMIT ?"
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Count returns the total number of recorded runs
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row *sql.Row) (*Run, error) {
	return scanRunRow(row)
}

func scanRunRow(row rowScanner) (*Run, error) {
	var run Run
	var startedUnix, runDateUnix int64
	var weightsJSON, intentsJSON string

	err := row.Scan(&run.ID, &startedUnix, &runDateUnix, &run.TriggerCount,
		&run.CursorState, &weightsJSON, &intentsJSON, &run.Outcome, &run.Error)
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(startedUnix, 0).UTC()
	if runDateUnix != 0 {
		run.Date = time.Unix(runDateUnix, 0).UTC()
	}

	if err := json.Unmarshal([]byte(weightsJSON), &run.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run weights: %w", err)
	}
	if err := json.Unmarshal([]byte(intentsJSON), &run.Intents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run intents: %w", err)
	}

	return &run, nil
}
