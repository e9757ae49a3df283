package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SecurityRepository handles security database operations on engine.db
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// securitiesColumns is the list of columns for the securities table.
// Used to avoid SELECT * which can break when schema changes.
const securitiesColumns = `symbol, name, currency, exchange, active, added_at`

// NewSecurityRepository creates a new security repository and ensures
// its table exists.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) (*SecurityRepository, error) {
	r := &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "security").Logger(),
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS securities (
			symbol   TEXT PRIMARY KEY,
			name     TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			exchange TEXT NOT NULL DEFAULT '',
			active   INTEGER NOT NULL DEFAULT 1,
			added_at INTEGER NOT NULL
		)
	`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to create securities table: %w", err)
	}

	return r, nil
}

// normalizeSymbol uppercases and trims a user-supplied symbol
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetBySymbol returns a security by symbol, or nil if not found
func (r *SecurityRepository) GetBySymbol(symbol string) (*Security, error) {
	query := "SELECT " + securitiesColumns + " FROM securities WHERE symbol = ?"

	row := r.db.QueryRow(query, normalizeSymbol(symbol))
	security, err := scanSecurity(row)
	if err == sql.ErrNoRows {
		return nil, nil // Security not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security by symbol: %w", err)
	}

	return security, nil
}

// List returns all securities ordered by symbol
func (r *SecurityRepository) List() ([]Security, error) {
	return r.list("SELECT " + securitiesColumns + " FROM securities ORDER BY symbol")
}

// ListActive returns only the securities the engine currently trades
func (r *SecurityRepository) ListActive() ([]Security, error) {
	return r.list("SELECT " + securitiesColumns + " FROM securities WHERE active = 1 ORDER BY symbol")
}

// ActiveSymbols returns the symbols of all active securities
func (r *SecurityRepository) ActiveSymbols() ([]string, error) {
	securities, err := r.ListActive()
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(securities))
	for _, s := range securities {
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func (r *SecurityRepository) list(query string) ([]Security, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		var s Security
		var active int
		var addedUnix int64

		if err := rows.Scan(&s.Symbol, &s.Name, &s.Currency, &s.Exchange, &active, &addedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		s.Active = active != 0
		s.AddedAt = time.Unix(addedUnix, 0).UTC()

		securities = append(securities, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

// Upsert inserts a security or updates its metadata in place
func (r *SecurityRepository) Upsert(s Security) error {
	if s.Symbol == "" {
		return fmt.Errorf("security symbol must not be empty")
	}
	if s.AddedAt.IsZero() {
		s.AddedAt = time.Now()
	}

	active := 0
	if s.Active {
		active = 1
	}

	query := `
		INSERT INTO securities (symbol, name, currency, exchange, active, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			exchange = excluded.exchange,
			active = excluded.active
	`

	_, err := r.db.Exec(query, normalizeSymbol(s.Symbol), s.Name, s.Currency, s.Exchange, active, s.AddedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", s.Symbol, err)
	}

	return nil
}

// SetActive flips the active flag for a symbol
func (r *SecurityRepository) SetActive(symbol string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}

	result, err := r.db.Exec("UPDATE securities SET active = ? WHERE symbol = ?", flag, normalizeSymbol(symbol))
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", symbol, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for %s: %w", symbol, err)
	}
	if affected == 0 {
		return fmt.Errorf("security %s not found", symbol)
	}

	return nil
}

// Count returns the total number of securities
func (r *SecurityRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM securities").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count securities: %w", err)
	}
	return count, nil
}

// scanSecurity reads one security from a row scanner
func scanSecurity(row *sql.Row) (*Security, error) {
	var s Security
	var active int
	var addedUnix int64

	if err := row.Scan(&s.Symbol, &s.Name, &s.Currency, &s.Exchange, &active, &addedUnix); err != nil {
		return nil, err
	}
	s.Active = active != 0
	s.AddedAt = time.Unix(addedUnix, 0).UTC()

	return &s, nil
}
