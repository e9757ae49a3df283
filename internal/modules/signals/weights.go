package signals

import (
	"fmt"
	"math"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/historical"
)

// SignalRow computes the binary signal for every instrument at the
// given row: 1.0 when the price is strictly above its trailing mean,
// 0.0 otherwise. An undefined price or indicator compares as off; an
// instrument can only be on when both sides of the comparison exist.
func SignalRow(prices, indicators *historical.Matrix, row int) (map[string]float64, error) {
	if err := checkAxes(prices, indicators); err != nil {
		return nil, err
	}
	if row < 0 || row >= prices.Len() {
		return nil, domain.NewValidationError("row", "index %d outside matrix of %d rows", row, prices.Len())
	}

	signals := make(map[string]float64, prices.NumSymbols())
	for _, symbol := range prices.Symbols() {
		price := prices.At(row, symbol)
		mean := indicators.At(row, symbol)
		if !math.IsNaN(price) && !math.IsNaN(mean) && price > mean {
			signals[symbol] = 1.0
		} else {
			signals[symbol] = 0.0
		}
	}
	return signals, nil
}

// WeightRow turns a signal row into equal target weights. Instruments
// that are on split the book evenly and off instruments are absent
// from the map. When nothing is on, every instrument maps to 0.0: an
// explicit all-cash row, so downstream sizing liquidates the whole
// book rather than leaving it untouched.
func WeightRow(signals map[string]float64) map[string]float64 {
	var on []string
	for symbol, signal := range signals {
		if signal == 1.0 {
			on = append(on, symbol)
		}
	}

	weights := make(map[string]float64, len(signals))
	if len(on) == 0 {
		for symbol := range signals {
			weights[symbol] = 0.0
		}
		return weights
	}

	share := 1.0 / float64(len(on))
	for _, symbol := range on {
		weights[symbol] = share
	}
	return weights
}

// WeightsAt is the per-cycle composition the engine runs: signal row,
// then weight row, for a single date index.
func WeightsAt(prices, indicators *historical.Matrix, row int) (map[string]float64, error) {
	signals, err := SignalRow(prices, indicators, row)
	if err != nil {
		return nil, err
	}
	return WeightRow(signals), nil
}

func checkAxes(prices, indicators *historical.Matrix) error {
	if prices == nil || indicators == nil {
		return fmt.Errorf("prices and indicators matrices are required")
	}
	if prices.Len() != indicators.Len() {
		return domain.NewValidationError("indicators", "axis has %d rows, prices have %d", indicators.Len(), prices.Len())
	}
	return nil
}
