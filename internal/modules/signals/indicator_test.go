package signals

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/historical"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func days(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day(2026, 1, 1).AddDate(0, 0, i)
	}
	return out
}

func mustMatrix(t *testing.T, columns map[string][]float64, visibleOffset int) *historical.Matrix {
	t.Helper()
	n := 0
	for _, col := range columns {
		n = len(col)
		break
	}
	m, err := historical.NewMatrix(days(n), columns, visibleOffset)
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}
	return m
}

func TestComputeIndicatorMatrixValidation(t *testing.T) {
	if _, err := ComputeIndicatorMatrix(nil, 2); err == nil {
		t.Error("Expected error for nil prices")
	}

	prices := mustMatrix(t, map[string][]float64{"A.US": {1, 2, 3}}, 0)
	_, err := ComputeIndicatorMatrix(prices, 0)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for window 0, got %v", err)
	}
}

func TestComputeIndicatorMatrixTrailingMean(t *testing.T) {
	prices := mustMatrix(t, map[string][]float64{
		"A.US": {10, 20, math.NaN(), 30, 40, 50},
	}, 2)

	ind, err := ComputeIndicatorMatrix(prices, 2)
	if err != nil {
		t.Fatalf("ComputeIndicatorMatrix failed: %v", err)
	}

	if ind.Len() != prices.Len() {
		t.Fatalf("Expected %d rows, got %d", prices.Len(), ind.Len())
	}
	if ind.VisibleOffset() != prices.VisibleOffset() {
		t.Errorf("Expected visible offset %d, got %d", prices.VisibleOffset(), ind.VisibleOffset())
	}

	want := []float64{math.NaN(), 15, math.NaN(), math.NaN(), 35, 45}
	for i, w := range want {
		got := ind.At(i, "A.US")
		if math.IsNaN(w) {
			if !math.IsNaN(got) {
				t.Errorf("Row %d: expected NaN, got %v", i, got)
			}
			continue
		}
		if got != w {
			t.Errorf("Row %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestComputeIndicatorMatrixMultipleColumns(t *testing.T) {
	prices := mustMatrix(t, map[string][]float64{
		"A.US": {1, 2, 3, 4},
		"B.US": {10, 10, 10, 10},
	}, 0)

	ind, err := ComputeIndicatorMatrix(prices, 3)
	if err != nil {
		t.Fatalf("ComputeIndicatorMatrix failed: %v", err)
	}

	if got := ind.At(2, "A.US"); got != 2 {
		t.Errorf("Expected mean 2 for A.US at row 2, got %v", got)
	}
	if got := ind.At(3, "A.US"); got != 3 {
		t.Errorf("Expected mean 3 for A.US at row 3, got %v", got)
	}
	if got := ind.At(3, "B.US"); got != 10 {
		t.Errorf("Expected mean 10 for B.US at row 3, got %v", got)
	}
	if got := ind.At(1, "B.US"); !math.IsNaN(got) {
		t.Errorf("Expected NaN before a full window, got %v", got)
	}
}
