// Package historical loads and holds the dates-by-instruments price
// matrix the engine computes signals from. The matrix is built once at
// startup and never mutated afterwards; cycles read from it without
// locking.
package historical

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/tiller/internal/domain"
)

// Matrix is an immutable dates x symbols table of float64 values.
// Missing observations are NaN. The row axis is strictly increasing
// and unique. Rows before the visible offset exist only to warm up the
// trailing indicator; the execution cursor starts at the offset.
//
// The price matrix and the indicator matrix derived from it share this
// type; they differ only in what the cells mean.
type Matrix struct {
	dates         []time.Time
	symbols       []string // sorted
	columns       map[string][]float64
	visibleOffset int
}

// NewMatrix builds a matrix from a date axis and per-symbol columns.
// Every column must have exactly one value per date. Inputs are copied,
// so callers can keep and mutate their slices.
func NewMatrix(dates []time.Time, columns map[string][]float64, visibleOffset int) (*Matrix, error) {
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, domain.NewValidationError("dates",
				"axis not strictly increasing at index %d (%s then %s)",
				i, dates[i-1].Format("2006-01-02"), dates[i].Format("2006-01-02"))
		}
	}
	if visibleOffset < 0 || visibleOffset > len(dates) {
		return nil, domain.NewValidationError("visible offset",
			"%d out of range for %d dates", visibleOffset, len(dates))
	}

	symbols := make([]string, 0, len(columns))
	copied := make(map[string][]float64, len(columns))
	for symbol, values := range columns {
		if len(values) != len(dates) {
			return nil, domain.NewValidationError("columns",
				"column %s has %d values for %d dates", symbol, len(values), len(dates))
		}
		symbols = append(symbols, symbol)
		col := make([]float64, len(values))
		copy(col, values)
		copied[symbol] = col
	}
	sort.Strings(symbols)

	datesCopy := make([]time.Time, len(dates))
	copy(datesCopy, dates)

	return &Matrix{
		dates:         datesCopy,
		symbols:       symbols,
		columns:       copied,
		visibleOffset: visibleOffset,
	}, nil
}

// Len returns the number of rows, including warm-up rows
func (m *Matrix) Len() int {
	return len(m.dates)
}

// NumSymbols returns the number of columns
func (m *Matrix) NumSymbols() int {
	return len(m.symbols)
}

// VisibleOffset returns the index of the first cursor-visible row
func (m *Matrix) VisibleOffset() int {
	return m.visibleOffset
}

// VisibleLen returns the number of cursor-visible rows
func (m *Matrix) VisibleLen() int {
	return len(m.dates) - m.visibleOffset
}

// Dates returns a copy of the full date axis
func (m *Matrix) Dates() []time.Time {
	out := make([]time.Time, len(m.dates))
	copy(out, m.dates)
	return out
}

// DateAt returns the date of one row. Row must be in [0, Len());
// out-of-range rows return the zero time.
func (m *Matrix) DateAt(row int) time.Time {
	if row < 0 || row >= len(m.dates) {
		return time.Time{}
	}
	return m.dates[row]
}

// IndexOf returns the row index of a date, comparing by UTC day
func (m *Matrix) IndexOf(date time.Time) (int, bool) {
	key := dayUTC(date)
	i := sort.Search(len(m.dates), func(i int) bool {
		return !m.dates[i].Before(key)
	})
	if i < len(m.dates) && m.dates[i].Equal(key) {
		return i, true
	}
	return 0, false
}

// Symbols returns a copy of the sorted symbol list
func (m *Matrix) Symbols() []string {
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// HasSymbol reports whether the matrix has a column for the symbol
func (m *Matrix) HasSymbol(symbol string) bool {
	_, ok := m.columns[symbol]
	return ok
}

// At returns the cell value for one row and symbol. Unknown symbols and
// out-of-range rows read as NaN, the same as a missing observation.
func (m *Matrix) At(row int, symbol string) float64 {
	if row < 0 || row >= len(m.dates) {
		return math.NaN()
	}
	col, ok := m.columns[symbol]
	if !ok {
		return math.NaN()
	}
	return col[row]
}

// Column returns a copy of one symbol's full value series, or nil when
// the symbol is not in the matrix
func (m *Matrix) Column(symbol string) []float64 {
	col, ok := m.columns[symbol]
	if !ok {
		return nil
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out
}
