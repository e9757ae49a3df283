package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

type fakeLister struct {
	symbols []string
	err     error
}

func (f *fakeLister) ActiveSymbols() ([]string, error) { return f.symbols, f.err }

type fakeBarStore struct {
	latest  map[string]time.Time
	upserts map[string]int
}

func (f *fakeBarStore) GetLatestDate(symbol string) (*time.Time, error) {
	if d, ok := f.latest[symbol]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeBarStore) UpsertDailyBars(symbol string, bars []domain.Bar) error {
	if f.upserts == nil {
		f.upserts = make(map[string]int)
	}
	f.upserts[symbol] += len(bars)
	return nil
}

type fetchCall struct {
	symbols    []string
	start, end time.Time
}

type fakeBarSource struct {
	series map[string][]domain.Bar
	calls  []fetchCall
	err    error
}

func (f *fakeBarSource) Fetch(ctx context.Context, symbols []string, field domain.PriceField, start, end time.Time, freq domain.Frequency) (map[string][]domain.Bar, error) {
	f.calls = append(f.calls, fetchCall{symbols: symbols, start: start, end: end})
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]domain.Bar)
	for _, s := range symbols {
		if bars, ok := f.series[s]; ok {
			out[s] = bars
		}
	}
	return out, nil
}

func syncBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	base := time.Now().UTC().AddDate(0, 0, -n)
	for i := range bars {
		bars[i] = domain.Bar{Date: base.AddDate(0, 0, i), Close: 100, AdjClose: 100}
	}
	return bars
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func newSyncJob(lister *fakeLister, store *fakeBarStore, source *fakeBarSource) (*PriceSyncJob, *events.Bus) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bus := events.NewBus(log)
	return NewPriceSyncJob(lister, store, source, domain.PriceFieldAdjClose, bus, log), bus
}

func TestPriceSyncJob_Name(t *testing.T) {
	job, _ := newSyncJob(&fakeLister{}, &fakeBarStore{}, &fakeBarSource{})
	assert.Equal(t, "price_sync", job.Name())
}

func TestRunSkipsWhenUniverseEmpty(t *testing.T) {
	source := &fakeBarSource{}
	job, _ := newSyncJob(&fakeLister{}, &fakeBarStore{}, source)

	require.NoError(t, job.Run())
	assert.Empty(t, source.calls)
}

func TestRunSkipsCurrentSymbols(t *testing.T) {
	source := &fakeBarSource{}
	store := &fakeBarStore{latest: map[string]time.Time{"SPY.US": today()}}
	job, _ := newSyncJob(&fakeLister{symbols: []string{"SPY.US"}}, store, source)

	require.NoError(t, job.Run())
	assert.Empty(t, source.calls)
}

func TestRunExtendsStaleSymbolFromNextDay(t *testing.T) {
	latest := today().AddDate(0, 0, -10)
	store := &fakeBarStore{latest: map[string]time.Time{"SPY.US": latest}}
	source := &fakeBarSource{series: map[string][]domain.Bar{"SPY.US": syncBars(7)}}
	job, bus := newSyncJob(&fakeLister{symbols: []string{"SPY.US"}}, store, source)

	var updated []*events.Event
	bus.Subscribe(events.PriceUpdated, func(e *events.Event) { updated = append(updated, e) })

	require.NoError(t, job.Run())

	require.Len(t, source.calls, 1)
	assert.Equal(t, []string{"SPY.US"}, source.calls[0].symbols)
	assert.Equal(t, latest.AddDate(0, 0, 1), source.calls[0].start)
	assert.Equal(t, today(), source.calls[0].end)

	assert.Equal(t, 7, store.upserts["SPY.US"])
	require.Len(t, updated, 1)
	assert.Equal(t, 7, updated[0].Data["bars"])
}

func TestRunBackfillsColdSymbols(t *testing.T) {
	source := &fakeBarSource{series: map[string][]domain.Bar{"NEW.US": syncBars(3)}}
	job, _ := newSyncJob(&fakeLister{symbols: []string{"NEW.US"}}, &fakeBarStore{}, source)

	require.NoError(t, job.Run())

	require.Len(t, source.calls, 1)
	assert.Equal(t, today().AddDate(-coldBackfillYears, 0, 0), source.calls[0].start)
}

func TestRunGroupsStaleAndColdSeparately(t *testing.T) {
	store := &fakeBarStore{latest: map[string]time.Time{"SPY.US": today().AddDate(0, 0, -3)}}
	source := &fakeBarSource{series: map[string][]domain.Bar{
		"SPY.US": syncBars(3),
		"NEW.US": syncBars(5),
	}}
	job, _ := newSyncJob(&fakeLister{symbols: []string{"SPY.US", "NEW.US"}}, store, source)

	require.NoError(t, job.Run())

	require.Len(t, source.calls, 2)
	assert.Equal(t, []string{"SPY.US"}, source.calls[0].symbols)
	assert.Equal(t, []string{"NEW.US"}, source.calls[1].symbols)
	assert.Equal(t, 3, store.upserts["SPY.US"])
	assert.Equal(t, 5, store.upserts["NEW.US"])
}

func TestRunFailsWhenFetchFails(t *testing.T) {
	source := &fakeBarSource{err: errors.New("provider down")}
	job, _ := newSyncJob(&fakeLister{symbols: []string{"SPY.US"}}, &fakeBarStore{}, source)

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch bars")
}

func TestRunFailsWhenListingFails(t *testing.T) {
	job, _ := newSyncJob(&fakeLister{err: errors.New("db closed")}, &fakeBarStore{}, &fakeBarSource{})

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list active symbols")
}
