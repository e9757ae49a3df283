package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/domain"
)

type fakeBroker struct {
	result *domain.BrokerHealthResult
	err    error
}

func (f *fakeBroker) HealthCheck(ctx context.Context) (*domain.BrokerHealthResult, error) {
	return f.result, f.err
}

type fakeMarkets struct {
	statuses  map[string]domain.MarketStatusData
	connected bool
	stale     bool
}

func (f *fakeMarkets) GetAllMarketStatuses() map[string]domain.MarketStatusData { return f.statuses }
func (f *fakeMarkets) IsConnected() bool                                        { return f.connected }
func (f *fakeMarkets) IsCacheStale() bool                                       { return f.stale }

type fakeJobLister struct {
	names []string
}

func (f *fakeJobLister) JobNames() []string { return f.names }

// newTestDBs opens real engine and cache databases under a temp dir.
func newTestDBs(t *testing.T, dataDir string) (*database.DB, *database.DB) {
	t.Helper()

	engineDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "engine.db"),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	require.NoError(t, err)
	t.Cleanup(func() { engineDB.Close() })

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })

	// Write something so the files have pages on disk
	for _, db := range []*database.DB{engineDB, cacheDB} {
		_, err := db.Exec("CREATE TABLE IF NOT EXISTS probe (id INTEGER PRIMARY KEY)")
		require.NoError(t, err)
	}

	return engineDB, cacheDB
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestHandleSystemStatus(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	dataDir := t.TempDir()
	engineDB, cacheDB := newTestDBs(t, dataDir)

	h := NewSystemHandlers(logger, dataDir, engineDB, cacheDB, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/system/status", nil)
	w := httptest.NewRecorder()

	h.HandleSystemStatus(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response SystemStatusResponse
	decodeBody(t, w, &response)

	assert.Equal(t, "healthy", response.Status)
	assert.GreaterOrEqual(t, response.UptimeHours, 0.0)
	assert.GreaterOrEqual(t, response.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, response.RAMPercent, 0.0)
	assert.LessOrEqual(t, response.RAMPercent, 100.0)
	assert.Greater(t, response.Goroutines, 0)
	require.Len(t, response.Databases, 2)
	assert.Equal(t, "engine", response.Databases[0].Name)
	assert.Equal(t, "cache", response.Databases[1].Name)
	for _, db := range response.Databases {
		assert.Greater(t, db.SizeMB+db.WALSizeMB, 0.0, "database should have bytes on disk")
		assert.GreaterOrEqual(t, db.PageCount, int64(1))
	}
}

func TestHandleDatabaseStats(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	dataDir := t.TempDir()
	engineDB, cacheDB := newTestDBs(t, dataDir)

	h := NewSystemHandlers(logger, dataDir, engineDB, cacheDB, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/system/database/stats", nil)
	w := httptest.NewRecorder()

	h.HandleDatabaseStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response DatabaseStatsResponse
	decodeBody(t, w, &response)

	require.Len(t, response.Databases, 2)
	assert.Equal(t, 0, response.HistoryFiles, "no history files were created")
	assert.Greater(t, response.TotalSizeMB, 0.0)
	assert.NotEmpty(t, response.LastChecked)
}

func TestHandleTradernetStatus(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	tests := []struct {
		name            string
		broker          BrokerHealth
		wantConnected   bool
		wantMessagePart string
	}{
		{
			name:            "no client configured",
			broker:          nil,
			wantConnected:   false,
			wantMessagePart: "not configured",
		},
		{
			name: "connected",
			broker: &fakeBroker{
				result: &domain.BrokerHealthResult{Connected: true, Timestamp: "2024-01-09T12:00:00Z"},
			},
			wantConnected:   true,
			wantMessagePart: "connected",
		},
		{
			name:            "health check fails",
			broker:          &fakeBroker{err: errors.New("service unreachable")},
			wantConnected:   false,
			wantMessagePart: "Failed to check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSystemHandlers(logger, t.TempDir(), nil, nil, tt.broker, nil, nil)

			req := httptest.NewRequest("GET", "/api/system/tradernet", nil)
			w := httptest.NewRecorder()

			h.HandleTradernetStatus(w, req)

			require.Equal(t, http.StatusOK, w.Code)

			var response TradernetStatusResponse
			decodeBody(t, w, &response)

			assert.Equal(t, tt.wantConnected, response.Connected)
			assert.Contains(t, response.Message, tt.wantMessagePart)
		})
	}
}

func TestHandleJobsStatus(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	jobs := &fakeJobLister{names: []string{"rebalance_cycle", "price_sync", "db_backup", "cache_cleanup"}}

	h := NewSystemHandlers(logger, t.TempDir(), nil, nil, nil, nil, jobs)

	req := httptest.NewRequest("GET", "/api/system/jobs", nil)
	w := httptest.NewRecorder()

	h.HandleJobsStatus(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response JobsStatusResponse
	decodeBody(t, w, &response)

	assert.Equal(t, 4, response.TotalJobs)
	require.Len(t, response.Jobs, 4)
	assert.Equal(t, "rebalance_cycle", response.Jobs[0].Name)
	assert.Equal(t, "scheduled", response.Jobs[0].Status)
}

func TestHandleMarketsStatus(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	t.Run("stream not configured", func(t *testing.T) {
		h := NewSystemHandlers(logger, t.TempDir(), nil, nil, nil, nil, nil)

		req := httptest.NewRequest("GET", "/api/markets", nil)
		w := httptest.NewRecorder()

		h.HandleMarketsStatus(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response MarketsStatusResponse
		decodeBody(t, w, &response)

		assert.False(t, response.Connected)
		assert.Contains(t, response.Message, "not configured")
		assert.Empty(t, response.Markets)
	})

	t.Run("cached statuses", func(t *testing.T) {
		markets := &fakeMarkets{
			connected: true,
			statuses: map[string]domain.MarketStatusData{
				"us": {Code: "us", Name: "United States", Status: "open", OpenTime: "09:30", CloseTime: "16:00", Date: "2024-01-09"},
				"eu": {Code: "eu", Name: "Europe", Status: "closed", OpenTime: "09:00", CloseTime: "17:30", Date: "2024-01-09"},
				"jp": {Code: "jp", Name: "Japan", Status: "closed", OpenTime: "09:00", CloseTime: "15:00", Date: "2024-01-09"},
			},
		}
		h := NewSystemHandlers(logger, t.TempDir(), nil, nil, nil, markets, nil)

		req := httptest.NewRequest("GET", "/api/markets", nil)
		w := httptest.NewRecorder()

		h.HandleMarketsStatus(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response MarketsStatusResponse
		decodeBody(t, w, &response)

		assert.True(t, response.Connected)
		assert.False(t, response.Stale)
		assert.Equal(t, 1, response.OpenCount)
		assert.Equal(t, 2, response.ClosedCount)
		require.Contains(t, response.Markets, "us")
		assert.Equal(t, "open", response.Markets["us"].Status)
		assert.Equal(t, "09:30", response.Markets["us"].OpenTime)
	})
}
