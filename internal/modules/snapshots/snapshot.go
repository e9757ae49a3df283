// Package snapshots persists the loaded matrices into cache.db so a
// restart with unchanged inputs can skip the provider round-trip, and
// so the HTTP API can serve the exact matrices the engine trades on.
package snapshots

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tiller/internal/modules/historical"
)

// codecVersion is bumped whenever the payload layout changes. Stored
// blobs with a different version read as a cache miss.
const codecVersion = 1

// Key derives the storage key for one load request. The same universe,
// date range and window always map to the same key regardless of
// symbol order, casing or duplicates.
func Key(req historical.LoadRequest) string {
	seen := make(map[string]bool, len(req.Symbols))
	normalized := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		normalized = append(normalized, s)
	}
	sort.Strings(normalized)

	h := sha256.New()
	h.Write([]byte(strings.Join(normalized, ",")))
	h.Write([]byte(string(req.Field)))
	h.Write([]byte(req.Start.UTC().Format("2006-01-02")))
	h.Write([]byte(req.End.UTC().Format("2006-01-02")))
	h.Write([]byte(strconv.Itoa(req.Window)))

	return hex.EncodeToString(h.Sum(nil))[:16] + "-w" + strconv.Itoa(req.Window)
}

// matrixBlob is the wire form of one matrix. msgpack keeps NaN cells
// intact, which JSON cannot.
type matrixBlob struct {
	Dates         []int64              `msgpack:"dates"`
	Columns       map[string][]float64 `msgpack:"columns"`
	VisibleOffset int                  `msgpack:"visible_offset"`
}

// payload is the wire form of one snapshot: both matrices plus enough
// metadata to reject blobs that no longer match the request.
type payload struct {
	Version    int        `msgpack:"version"`
	SavedAt    int64      `msgpack:"saved_at"`
	Window     int        `msgpack:"window"`
	Prices     matrixBlob `msgpack:"prices"`
	Indicators matrixBlob `msgpack:"indicators"`
}

func encodeMatrix(m *historical.Matrix) matrixBlob {
	dates := m.Dates()
	unix := make([]int64, len(dates))
	for i, d := range dates {
		unix[i] = d.Unix()
	}

	columns := make(map[string][]float64, m.NumSymbols())
	for _, symbol := range m.Symbols() {
		columns[symbol] = m.Column(symbol)
	}

	return matrixBlob{Dates: unix, Columns: columns, VisibleOffset: m.VisibleOffset()}
}

func decodeMatrix(blob matrixBlob) (*historical.Matrix, error) {
	dates := make([]time.Time, len(blob.Dates))
	for i, u := range blob.Dates {
		dates[i] = time.Unix(u, 0).UTC()
	}
	return historical.NewMatrix(dates, blob.Columns, blob.VisibleOffset)
}

func encode(prices, indicators *historical.Matrix, window int) ([]byte, error) {
	data, err := msgpack.Marshal(payload{
		Version:    codecVersion,
		SavedAt:    time.Now().UTC().Unix(),
		Window:     window,
		Prices:     encodeMatrix(prices),
		Indicators: encodeMatrix(indicators),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (prices, indicators *historical.Matrix, window int, err error) {
	var p payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if p.Version != codecVersion {
		return nil, nil, 0, fmt.Errorf("snapshot codec version is %d, want %d", p.Version, codecVersion)
	}

	prices, err = decodeMatrix(p.Prices)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to rebuild price matrix: %w", err)
	}
	indicators, err = decodeMatrix(p.Indicators)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to rebuild indicator matrix: %w", err)
	}
	if indicators.Len() != prices.Len() {
		return nil, nil, 0, fmt.Errorf("snapshot matrices disagree: %d indicator rows for %d price rows",
			indicators.Len(), prices.Len())
	}

	return prices, indicators, p.Window, nil
}
