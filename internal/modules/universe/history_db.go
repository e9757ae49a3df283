package universe

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for history files
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
)

// HistoryDB stores long-term daily bars in one SQLite file per symbol
// under the history directory. Keeping each symbol in its own file
// keeps the engine database small and makes per-symbol resyncs cheap.
type HistoryDB struct {
	historyDir string
	log        zerolog.Logger
}

// NewHistoryDB creates a history accessor rooted at historyDir,
// creating the directory if needed.
func NewHistoryDB(historyDir string, log zerolog.Logger) (*HistoryDB, error) {
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &HistoryDB{
		historyDir: historyDir,
		log:        log.With().Str("component", "history_db").Logger(),
	}, nil
}

// UpsertDailyBars stores a batch of bars for one symbol inside a single
// transaction. Existing rows for the same date are replaced, which
// makes re-syncing an overlapping range safe.
func (h *HistoryDB) UpsertDailyBars(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	db, err := h.openSymbolDB(symbol, true)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices
			(date, open, high, low, close, adj_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(dateKey(b.Date), b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar %s %s: %w", symbol, b.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}

	h.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Stored daily bars")
	return nil
}

// GetBarsBetween returns the bars for a symbol in [start, end], ordered
// by date ascending. The range is inclusive on both ends. A symbol with
// no history file yields an empty slice, not an error.
func (h *HistoryDB) GetBarsBetween(symbol string, start, end time.Time) ([]domain.Bar, error) {
	if !h.hasHistoryFile(symbol) {
		return nil, nil
	}

	db, err := h.openSymbolDB(symbol, false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := `
		SELECT date, open, high, low, close, adj_close, volume
		FROM daily_prices
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := db.Query(query, dateKey(start), dateKey(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var day int64
		var open, high, low, closePx, adjClose sql.NullFloat64
		var volume sql.NullInt64

		if err := rows.Scan(&day, &open, &high, &low, &closePx, &adjClose, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}

		b.Date = time.Unix(day, 0).UTC()
		b.Open = open.Float64
		b.High = high.Float64
		b.Low = low.Float64
		b.Close = closePx.Float64
		b.AdjClose = adjClose.Float64
		b.Volume = volume.Int64

		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// GetLatestDate returns the date of the newest stored bar for a symbol,
// or nil when the symbol has no history yet. Price sync uses this to
// fetch only the missing tail.
func (h *HistoryDB) GetLatestDate(symbol string) (*time.Time, error) {
	if !h.hasHistoryFile(symbol) {
		return nil, nil
	}

	db, err := h.openSymbolDB(symbol, false)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var day sql.NullInt64
	err = db.QueryRow("SELECT MAX(date) FROM daily_prices").Scan(&day)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest date for %s: %w", symbol, err)
	}
	if !day.Valid {
		return nil, nil // File exists but holds no bars
	}

	t := time.Unix(day.Int64, 0).UTC()
	return &t, nil
}

// CountBars returns the number of stored bars for a symbol.
func (h *HistoryDB) CountBars(symbol string) (int, error) {
	if !h.hasHistoryFile(symbol) {
		return 0, nil
	}

	db, err := h.openSymbolDB(symbol, false)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bars for %s: %w", symbol, err)
	}
	return count, nil
}

// symbolPath maps a symbol to its history file.
// Convert symbol format: AAPL.US -> AAPL_US
func (h *HistoryDB) symbolPath(symbol string) string {
	dbSymbol := strings.ReplaceAll(normalizeSymbol(symbol), ".", "_")
	return filepath.Join(h.historyDir, dbSymbol+".db")
}

func (h *HistoryDB) hasHistoryFile(symbol string) bool {
	_, err := os.Stat(h.symbolPath(symbol))
	return err == nil
}

// openSymbolDB opens the history database for a symbol. When create is
// set the file and schema are created if missing; reads go through
// hasHistoryFile first so they never leave empty files behind.
func (h *HistoryDB) openSymbolDB(symbol string, create bool) (*sql.DB, error) {
	dbPath := h.symbolPath(symbol)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database for %s: %w", symbol, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database for %s: %w", symbol, err)
	}

	if create {
		ddl := `
			CREATE TABLE IF NOT EXISTS daily_prices (
				date      INTEGER PRIMARY KEY,
				open      REAL,
				high      REAL,
				low       REAL,
				close     REAL,
				adj_close REAL,
				volume    INTEGER
			)
		`
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create daily_prices table for %s: %w", symbol, err)
		}
	}

	return db, nil
}

// dateKey normalizes a timestamp to midnight UTC so a calendar day maps
// to exactly one key regardless of the source feed's clock.
func dateKey(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}
