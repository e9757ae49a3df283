package snapshots

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/historical"
)

func testRequest() historical.LoadRequest {
	return historical.LoadRequest{
		Symbols: []string{"AAPL.US", "MSFT.US"},
		Field:   domain.PriceFieldClose,
		Start:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		Window:  200,
	}
}

func testMatrixPair(t *testing.T) (*historical.Matrix, *historical.Matrix) {
	t.Helper()

	dates := []time.Time{
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC),
	}
	prices, err := historical.NewMatrix(dates, map[string][]float64{
		"AAPL.US": {100, math.NaN(), 104},
		"MSFT.US": {310, 312, 308},
	}, 1)
	require.NoError(t, err)

	indicators, err := historical.NewMatrix(dates, map[string][]float64{
		"AAPL.US": {math.NaN(), math.NaN(), math.NaN()},
		"MSFT.US": {math.NaN(), 311, 310},
	}, 1)
	require.NoError(t, err)

	return prices, indicators
}

func TestKeyIgnoresSymbolOrderAndCase(t *testing.T) {
	base := testRequest()

	shuffled := base
	shuffled.Symbols = []string{"msft.us", " AAPL.US ", "MSFT.US"}

	assert.Equal(t, Key(base), Key(shuffled))
	assert.Contains(t, Key(base), "-w200")
}

func TestKeyChangesWithRequest(t *testing.T) {
	base := testRequest()

	window := base
	window.Window = 50
	assert.NotEqual(t, Key(base), Key(window))

	end := base
	end.End = base.End.AddDate(0, 1, 0)
	assert.NotEqual(t, Key(base), Key(end))

	universe := base
	universe.Symbols = []string{"AAPL.US"}
	assert.NotEqual(t, Key(base), Key(universe))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prices, indicators := testMatrixPair(t)

	blob, err := encode(prices, indicators, 200)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	gotPrices, gotIndicators, window, err := decode(blob)
	require.NoError(t, err)
	assert.Equal(t, 200, window)

	assert.Equal(t, prices.Dates(), gotPrices.Dates())
	assert.Equal(t, prices.Symbols(), gotPrices.Symbols())
	assert.Equal(t, prices.VisibleOffset(), gotPrices.VisibleOffset())

	assert.True(t, math.IsNaN(gotPrices.At(1, "AAPL.US")), "NaN cells survive the codec")
	assert.Equal(t, 104.0, gotPrices.At(2, "AAPL.US"))
	assert.Equal(t, 311.0, gotIndicators.At(1, "MSFT.US"))
	assert.True(t, math.IsNaN(gotIndicators.At(0, "AAPL.US")))
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	prices, indicators := testMatrixPair(t)

	blob, err := msgpack.Marshal(payload{
		Version:    codecVersion + 1,
		Window:     200,
		Prices:     encodeMatrix(prices),
		Indicators: encodeMatrix(indicators),
	})
	require.NoError(t, err)

	_, _, _, err = decode(blob)
	assert.ErrorContains(t, err, "codec version")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, _, err := decode([]byte("not msgpack"))
	assert.Error(t, err)
}
