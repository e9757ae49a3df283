package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

const (
	syncTimeout = 5 * time.Minute

	// coldBackfillYears is how far back a symbol with no cached bars is
	// fetched. Two years covers a 200 day window plus its warm-up
	// buffer with room for holidays.
	coldBackfillYears = 2
)

// SymbolLister returns the symbols to keep in sync.
// Satisfied by universe.Service.
type SymbolLister interface {
	ActiveSymbols() ([]string, error)
}

// BarStore is the per-symbol history cache the sync writes into.
// Satisfied by universe.HistoryDB.
type BarStore interface {
	GetLatestDate(symbol string) (*time.Time, error)
	UpsertDailyBars(symbol string, bars []domain.Bar) error
}

// PriceSyncJob extends the cached daily bars of every active symbol up
// to today, so the next matrix load is served from cache. The running
// engine never sees these writes; matrices are immutable once loaded.
type PriceSyncJob struct {
	universe SymbolLister
	history  BarStore
	source   domain.PriceSource
	field    domain.PriceField
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewPriceSyncJob creates the price sync job
func NewPriceSyncJob(universe SymbolLister, history BarStore, source domain.PriceSource, field domain.PriceField, eventBus *events.Bus, log zerolog.Logger) *PriceSyncJob {
	return &PriceSyncJob{
		universe: universe,
		history:  history,
		source:   source,
		field:    field,
		eventBus: eventBus,
		log:      log.With().Str("job", "price_sync").Logger(),
	}
}

// Name returns the job name
func (j *PriceSyncJob) Name() string {
	return "price_sync"
}

// Run refreshes cached bars for all active symbols
func (j *PriceSyncJob) Run() error {
	symbols, err := j.universe.ActiveSymbols()
	if err != nil {
		return fmt.Errorf("failed to list active symbols: %w", err)
	}
	if len(symbols) == 0 {
		j.log.Debug().Msg("No active symbols to sync")
		return nil
	}

	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Step 1: split symbols by cache coverage
	var cold []string
	var stale []string
	staleStart := end
	for _, symbol := range symbols {
		latest, err := j.history.GetLatestDate(symbol)
		if err != nil {
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read cache coverage, treating as cold")
			cold = append(cold, symbol)
			continue
		}
		switch {
		case latest == nil:
			cold = append(cold, symbol)
		case latest.Before(end):
			next := latest.AddDate(0, 0, 1)
			if next.Before(staleStart) {
				staleStart = next
			}
			stale = append(stale, symbol)
		}
	}

	if len(cold) == 0 && len(stale) == 0 {
		j.log.Debug().Int("symbols", len(symbols)).Msg("All symbols already current")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	// Step 2: one fetch per coverage group, upserts dedupe any overlap
	bars := 0
	synced := 0
	if len(stale) > 0 {
		n, s, err := j.fetchAndStore(ctx, stale, staleStart, end)
		if err != nil {
			return err
		}
		bars += n
		synced += s
	}
	if len(cold) > 0 {
		n, s, err := j.fetchAndStore(ctx, cold, end.AddDate(-coldBackfillYears, 0, 0), end)
		if err != nil {
			return err
		}
		bars += n
		synced += s
	}

	j.log.Info().
		Int("symbols", synced).
		Int("bars", bars).
		Msg("Price sync completed")

	if j.eventBus != nil && bars > 0 {
		j.eventBus.Emit(events.PriceUpdated, "scheduler", map[string]interface{}{
			"symbols": synced,
			"bars":    bars,
		})
	}
	return nil
}

func (j *PriceSyncJob) fetchAndStore(ctx context.Context, symbols []string, start, end time.Time) (bars, synced int, err error) {
	series, err := j.source.Fetch(ctx, symbols, j.field, start, end, domain.FrequencyDaily)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch bars: %w", err)
	}

	for symbol, fetched := range series {
		if len(fetched) == 0 {
			continue
		}
		if err := j.history.UpsertDailyBars(symbol, fetched); err != nil {
			return bars, synced, fmt.Errorf("failed to store bars for %s: %w", symbol, err)
		}
		bars += len(fetched)
		synced++
	}
	return bars, synced, nil
}
