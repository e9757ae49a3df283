package snapshots

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/events"
)

func newTestService(t *testing.T) (*Service, *Repository, *events.Bus) {
	t.Helper()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := setupSnapshotRepo(t)
	bus := events.NewBus(log)

	service, err := NewService(repo, bus, time.Hour, log)
	require.NoError(t, err)
	return service, repo, bus
}

func TestNewServiceRequiresRepository(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	_, err := NewService(nil, nil, time.Hour, log)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	service, _, bus := newTestService(t)
	req := testRequest()
	prices, indicators := testMatrixPair(t)

	var saved []*events.Event
	bus.Subscribe(events.SnapshotSaved, func(e *events.Event) {
		saved = append(saved, e)
	})

	require.NoError(t, service.Save(req, prices, indicators))
	require.Len(t, saved, 1)
	assert.Equal(t, Key(req), saved[0].Data["key"])
	assert.Equal(t, 3, saved[0].Data["rows"])

	gotPrices, gotIndicators, err := service.Load(req)
	require.NoError(t, err)
	require.NotNil(t, gotPrices)
	require.NotNil(t, gotIndicators)

	assert.Equal(t, prices.Dates(), gotPrices.Dates())
	assert.Equal(t, 1, gotPrices.VisibleOffset())
	assert.True(t, math.IsNaN(gotPrices.At(1, "AAPL.US")))
	assert.Equal(t, 310.0, gotIndicators.At(2, "MSFT.US"))
}

func TestLoadMissesForDifferentRequest(t *testing.T) {
	service, _, _ := newTestService(t)
	req := testRequest()
	prices, indicators := testMatrixPair(t)

	require.NoError(t, service.Save(req, prices, indicators))

	other := req
	other.Window = 50
	gotPrices, gotIndicators, err := service.Load(other)
	require.NoError(t, err)
	assert.Nil(t, gotPrices)
	assert.Nil(t, gotIndicators)
}

func TestLoadDiscardsCorruptBlob(t *testing.T) {
	service, repo, _ := newTestService(t)
	req := testRequest()

	require.NoError(t, repo.Store(Key(req), []byte("junk"), time.Hour))

	gotPrices, gotIndicators, err := service.Load(req)
	require.NoError(t, err)
	assert.Nil(t, gotPrices)
	assert.Nil(t, gotIndicators)

	// The bad row is gone, not retried forever
	infos, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestLoadIgnoresExpiredSnapshot(t *testing.T) {
	service, repo, _ := newTestService(t)
	req := testRequest()
	prices, indicators := testMatrixPair(t)

	blob, err := encode(prices, indicators, req.Window)
	require.NoError(t, err)
	require.NoError(t, repo.Store(Key(req), blob, -time.Second))

	gotPrices, _, err := service.Load(req)
	require.NoError(t, err)
	assert.Nil(t, gotPrices)
}

func TestSaveRequiresBothMatrices(t *testing.T) {
	service, _, _ := newTestService(t)
	prices, _ := testMatrixPair(t)

	assert.Error(t, service.Save(testRequest(), prices, nil))
	assert.Error(t, service.Save(testRequest(), nil, nil))
}
