package historical

import (
	"errors"
	"math"
	"time"

	"testing"

	"github.com/aristath/tiller/internal/domain"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestNewMatrixValidation(t *testing.T) {
	d1 := day(2026, 1, 5)
	d2 := day(2026, 1, 6)
	d3 := day(2026, 1, 7)

	tests := []struct {
		name          string
		dates         []time.Time
		columns       map[string][]float64
		visibleOffset int
		wantErr       bool
	}{
		{
			name:          "valid",
			dates:         []time.Time{d1, d2, d3},
			columns:       map[string][]float64{"AAPL.US": {1, 2, 3}},
			visibleOffset: 1,
			wantErr:       false,
		},
		{
			name:          "empty matrix is valid",
			dates:         nil,
			columns:       nil,
			visibleOffset: 0,
			wantErr:       false,
		},
		{
			name:          "duplicate dates",
			dates:         []time.Time{d1, d2, d2},
			columns:       map[string][]float64{"AAPL.US": {1, 2, 3}},
			visibleOffset: 0,
			wantErr:       true,
		},
		{
			name:          "decreasing dates",
			dates:         []time.Time{d2, d1},
			columns:       map[string][]float64{"AAPL.US": {1, 2}},
			visibleOffset: 0,
			wantErr:       true,
		},
		{
			name:          "column length mismatch",
			dates:         []time.Time{d1, d2, d3},
			columns:       map[string][]float64{"AAPL.US": {1, 2}},
			visibleOffset: 0,
			wantErr:       true,
		},
		{
			name:          "negative visible offset",
			dates:         []time.Time{d1, d2},
			columns:       map[string][]float64{"AAPL.US": {1, 2}},
			visibleOffset: -1,
			wantErr:       true,
		},
		{
			name:          "visible offset past end",
			dates:         []time.Time{d1, d2},
			columns:       map[string][]float64{"AAPL.US": {1, 2}},
			visibleOffset: 3,
			wantErr:       true,
		},
		{
			name:          "visible offset at end is valid",
			dates:         []time.Time{d1, d2},
			columns:       map[string][]float64{"AAPL.US": {1, 2}},
			visibleOffset: 2,
			wantErr:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatrix(tt.dates, tt.columns, tt.visibleOffset)
			if tt.wantErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("Expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestMatrixAccessors(t *testing.T) {
	dates := []time.Time{day(2026, 1, 5), day(2026, 1, 6), day(2026, 1, 7)}
	columns := map[string][]float64{
		"MSFT.US": {400, 401, math.NaN()},
		"AAPL.US": {180, 181, 182},
	}

	m, err := NewMatrix(dates, columns, 1)
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}

	if m.Len() != 3 {
		t.Errorf("Expected 3 rows, got %d", m.Len())
	}
	if m.NumSymbols() != 2 {
		t.Errorf("Expected 2 symbols, got %d", m.NumSymbols())
	}
	if m.VisibleOffset() != 1 {
		t.Errorf("Expected visible offset 1, got %d", m.VisibleOffset())
	}
	if m.VisibleLen() != 2 {
		t.Errorf("Expected 2 visible rows, got %d", m.VisibleLen())
	}

	symbols := m.Symbols()
	if symbols[0] != "AAPL.US" || symbols[1] != "MSFT.US" {
		t.Errorf("Expected sorted symbols, got %v", symbols)
	}

	if got := m.At(0, "AAPL.US"); got != 180 {
		t.Errorf("Expected 180 at (0, AAPL.US), got %v", got)
	}
	if got := m.At(2, "MSFT.US"); !math.IsNaN(got) {
		t.Errorf("Expected NaN at (2, MSFT.US), got %v", got)
	}
	if got := m.At(0, "UNKNOWN"); !math.IsNaN(got) {
		t.Errorf("Expected NaN for unknown symbol, got %v", got)
	}
	if got := m.At(99, "AAPL.US"); !math.IsNaN(got) {
		t.Errorf("Expected NaN for out-of-range row, got %v", got)
	}

	if !m.DateAt(1).Equal(day(2026, 1, 6)) {
		t.Errorf("Expected 2026-01-06 at row 1, got %v", m.DateAt(1))
	}
	if !m.DateAt(99).IsZero() {
		t.Errorf("Expected zero time for out-of-range row, got %v", m.DateAt(99))
	}

	if !m.HasSymbol("AAPL.US") || m.HasSymbol("GONE") {
		t.Error("HasSymbol gave wrong answers")
	}
}

func TestMatrixIndexOf(t *testing.T) {
	dates := []time.Time{day(2026, 1, 5), day(2026, 1, 7)}
	m, err := NewMatrix(dates, map[string][]float64{"AAPL.US": {1, 2}}, 0)
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}

	if idx, ok := m.IndexOf(day(2026, 1, 7)); !ok || idx != 1 {
		t.Errorf("Expected (1, true), got (%d, %v)", idx, ok)
	}

	// Intraday timestamps resolve to their calendar day
	noon := time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC)
	if idx, ok := m.IndexOf(noon); !ok || idx != 0 {
		t.Errorf("Expected (0, true) for intraday time, got (%d, %v)", idx, ok)
	}

	if _, ok := m.IndexOf(day(2026, 1, 6)); ok {
		t.Error("Expected miss for date not on the axis")
	}
}

func TestMatrixImmutability(t *testing.T) {
	dates := []time.Time{day(2026, 1, 5), day(2026, 1, 6)}
	column := []float64{100, 101}
	m, err := NewMatrix(dates, map[string][]float64{"AAPL.US": column}, 0)
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}

	// Mutating the input slice after construction must not leak in
	column[0] = -1
	if got := m.At(0, "AAPL.US"); got != 100 {
		t.Errorf("Input mutation leaked into matrix: got %v", got)
	}

	// Mutating an accessor result must not leak in either
	col := m.Column("AAPL.US")
	col[1] = -1
	if got := m.At(1, "AAPL.US"); got != 101 {
		t.Errorf("Column copy mutation leaked into matrix: got %v", got)
	}

	if m.Column("UNKNOWN") != nil {
		t.Error("Expected nil column for unknown symbol")
	}
}
