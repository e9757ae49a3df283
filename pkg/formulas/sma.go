package formulas

import "math"

// RollingMean computes a trailing arithmetic mean over a fixed window.
// The output has the same length as the input. Position i holds the
// mean of values[i-window+1 .. i] and is NaN unless every observation
// in that window is present. A missing observation (NaN) resets the
// accumulation, so the mean stays undefined until a full window of
// consecutive observations has built up again. Values are never
// back-filled or interpolated.
//
// Position i depends only on values[0..i], so appending rows to a
// series can never change earlier outputs.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 1 {
		return out
	}

	sum := 0.0
	validRun := 0

	for i, v := range values {
		if math.IsNaN(v) {
			sum = 0
			validRun = 0
			continue
		}

		validRun++
		sum += v
		if validRun > window {
			sum -= values[i-window]
		}
		if validRun >= window {
			out[i] = sum / float64(window)
		}
	}

	return out
}

// TrailingMeanAt returns the trailing mean ending at index idx, or NaN
// when the window is not fully populated there. Convenience wrapper
// used where a single point is needed without materializing the whole
// series.
func TrailingMeanAt(values []float64, window, idx int) float64 {
	if idx < 0 || idx >= len(values) || window < 1 || idx-window+1 < 0 {
		return math.NaN()
	}

	sum := 0.0
	for i := idx - window + 1; i <= idx; i++ {
		if math.IsNaN(values[i]) {
			return math.NaN()
		}
		sum += values[i]
	}
	return sum / float64(window)
}
