package historical

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
)

// Coverage slack when deciding whether cached bars already span the
// requested window. Markets close for weekends and holidays, so the
// newest cached bar legitimately trails the requested end by a few
// days, and the oldest can trail the requested start.
const (
	headSlackDays = 7
	tailSlackDays = 5
)

// BarCache is the loader's view of the per-symbol history store.
// Satisfied by universe.HistoryDB.
type BarCache interface {
	UpsertDailyBars(symbol string, bars []domain.Bar) error
	GetBarsBetween(symbol string, start, end time.Time) ([]domain.Bar, error)
}

// LoadRequest describes one matrix load
type LoadRequest struct {
	Symbols []string
	Field   domain.PriceField
	Start   time.Time // First cursor-visible date
	End     time.Time // Last date loaded
	Window  int       // Trailing mean window; sets the warm-up buffer
}

// Loader assembles the price matrix from the history cache, asking the
// price source only for symbols whose cached coverage has gaps
type Loader struct {
	cache  BarCache
	source domain.PriceSource
	log    zerolog.Logger
}

// NewLoader creates a matrix loader
func NewLoader(cache BarCache, source domain.PriceSource, log zerolog.Logger) *Loader {
	return &Loader{
		cache:  cache,
		source: source,
		log:    log.With().Str("component", "matrix_loader").Logger(),
	}
}

// BufferDays returns the warm-up buffer for a trailing window: the
// window length plus 25% slack for holidays and data gaps, rounded up.
// The buffer is applied in business days, so a 200 day window reaches
// back 250 business days before the requested start.
func BufferDays(window int) int {
	return int(math.Ceil(float64(window) * 1.25))
}

// Load builds the price matrix for the request. The fetch window is
// extended back by BufferDays business days so the trailing mean is
// defined at the first visible date; buffer rows stay in the matrix
// below the visible offset. Symbols with no data in the whole window
// are dropped with a warning; if every symbol is empty the load fails
// with DataUnavailableError.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (*Matrix, error) {
	// Step 1: validate the request
	if l.cache == nil {
		return nil, fmt.Errorf("bar cache is required")
	}
	if l.source == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if req.Window < 1 {
		return nil, domain.NewValidationError("window", "%d, must be at least 1", req.Window)
	}
	if req.Field != domain.PriceFieldClose && req.Field != domain.PriceFieldAdjClose {
		return nil, domain.NewValidationError("price field", "%q, must be close or adj_close", req.Field)
	}

	symbols := normalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, domain.NewValidationError("universe", "no symbols to load")
	}

	start := dayUTC(req.Start)
	end := dayUTC(req.End)
	if end.Before(start) {
		return nil, domain.NewValidationError("date range",
			"end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	fetchStart := subtractBusinessDays(start, BufferDays(req.Window))

	l.log.Info().
		Int("symbols", len(symbols)).
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Str("fetch_start", fetchStart.Format("2006-01-02")).
		Int("window", req.Window).
		Msg("Loading price matrix")

	// Step 2: refresh symbols whose cached coverage has gaps
	if err := l.refreshStale(ctx, symbols, req.Field, fetchStart, end); err != nil {
		return nil, err
	}

	// Step 3: assemble per-symbol series from the cache, dropping
	// symbols with no data at all
	series := make(map[string][]domain.Bar, len(symbols))
	var dropped []string
	for _, symbol := range symbols {
		bars, err := l.cache.GetBarsBetween(symbol, fetchStart, end)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached bars for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			l.log.Warn().Str("symbol", symbol).Msg("Dropping symbol: no price data in window")
			dropped = append(dropped, symbol)
			continue
		}
		series[symbol] = bars
	}

	if len(series) == 0 {
		return nil, &domain.DataUnavailableError{Start: start, End: end, Symbols: symbols}
	}

	// Step 4: merge onto the union date axis
	dates := unionDates(series)
	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	columns := make(map[string][]float64, len(series))
	for symbol, bars := range series {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		for _, bar := range bars {
			value := bar.Price(req.Field)
			if value <= 0 {
				// Zero or negative prices mark missing observations
				continue
			}
			col[index[dayUTC(bar.Date)]] = value
		}
		columns[symbol] = col
	}

	// Step 5: the cursor starts at the first row inside the requested
	// window; earlier rows are indicator warm-up only
	visibleOffset := sort.Search(len(dates), func(i int) bool {
		return !dates[i].Before(start)
	})

	matrix, err := NewMatrix(dates, columns, visibleOffset)
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Int("rows", matrix.Len()).
		Int("visible_rows", matrix.VisibleLen()).
		Int("symbols", matrix.NumSymbols()).
		Int("dropped", len(dropped)).
		Msg("Price matrix loaded")

	return matrix, nil
}

// refreshStale fetches fresh bars for every symbol whose cached
// coverage does not span the window, and upserts them into the cache.
// Per-symbol fetch failures are already omitted by the source; a
// symbol that stays empty is handled by the drop rule during assembly.
func (l *Loader) refreshStale(ctx context.Context, symbols []string, field domain.PriceField, start, end time.Time) error {
	var stale []string
	for _, symbol := range symbols {
		bars, err := l.cache.GetBarsBetween(symbol, start, end)
		if err != nil {
			return fmt.Errorf("failed to read cached bars for %s: %w", symbol, err)
		}
		if coverageGap(bars, start, end) {
			stale = append(stale, symbol)
		}
	}

	if len(stale) == 0 {
		l.log.Debug().Msg("Cache covers the full window, no fetch needed")
		return nil
	}

	l.log.Info().Int("count", len(stale)).Msg("Fetching bars for symbols with stale coverage")

	fetched, err := l.source.Fetch(ctx, stale, field, start, end, domain.FrequencyDaily)
	if err != nil {
		return fmt.Errorf("failed to fetch prices: %w", err)
	}

	for symbol, bars := range fetched {
		if len(bars) == 0 {
			continue
		}
		if err := validateSeries(symbol, bars); err != nil {
			return err
		}
		if err := l.cache.UpsertDailyBars(symbol, bars); err != nil {
			return fmt.Errorf("failed to cache bars for %s: %w", symbol, err)
		}
	}

	return nil
}

// coverageGap reports whether cached bars leave part of the window
// uncovered, within the weekend/holiday slack
func coverageGap(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return true
	}
	first := dayUTC(bars[0].Date)
	last := dayUTC(bars[len(bars)-1].Date)
	if first.After(start.AddDate(0, 0, headSlackDays)) {
		return true
	}
	return last.Before(end.AddDate(0, 0, -tailSlackDays))
}

// validateSeries rejects a fetched series with duplicate or
// out-of-order dates
func validateSeries(symbol string, bars []domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !dayUTC(bars[i].Date).After(dayUTC(bars[i-1].Date)) {
			return domain.NewValidationError("price series",
				"duplicate or out-of-order date %s for %s",
				bars[i].Date.Format("2006-01-02"), symbol)
		}
	}
	return nil
}

// unionDates returns the sorted union of all bar dates across series
func unionDates(series map[string][]domain.Bar) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, bars := range series {
		for _, bar := range bars {
			seen[dayUTC(bar.Date)] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// subtractBusinessDays walks a date backwards by n weekdays
func subtractBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, -1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

// dayUTC normalizes a time to midnight UTC of its calendar day
func dayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// normalizeSymbols uppercases, trims, and dedupes while keeping order
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
