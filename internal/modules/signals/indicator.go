// Package signals derives trade signals from the price matrix: the
// trailing-mean indicator matrix, the binary above-mean signal row,
// and the equal-weight target row the dispatcher sizes orders from.
package signals

import (
	"fmt"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/historical"
	"github.com/aristath/tiller/pkg/formulas"
)

// ComputeIndicatorMatrix computes the trailing arithmetic mean of each
// price column over the given window. The result shares the price
// matrix's date axis, symbols and visible offset. Cell (d, s) is the
// mean of the window observations ending at d inclusive and is NaN
// until a full window of consecutive observations has accumulated; a
// missing price resets the run. Each column is a single forward pass,
// so a cell can never depend on rows after it.
func ComputeIndicatorMatrix(prices *historical.Matrix, window int) (*historical.Matrix, error) {
	if prices == nil {
		return nil, fmt.Errorf("prices matrix is required")
	}
	if window < 1 {
		return nil, domain.NewValidationError("window", "must be at least 1, got %d", window)
	}

	columns := make(map[string][]float64, prices.NumSymbols())
	for _, symbol := range prices.Symbols() {
		columns[symbol] = formulas.RollingMean(prices.Column(symbol), window)
	}

	return historical.NewMatrix(prices.Dates(), columns, prices.VisibleOffset())
}
