package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/domain"
)

// BrokerHealth is the slice of the broker client the status endpoints
// consult.
type BrokerHealth interface {
	HealthCheck(ctx context.Context) (*domain.BrokerHealthResult, error)
}

// MarketStatusCache is the websocket-backed market status view.
type MarketStatusCache interface {
	GetAllMarketStatuses() map[string]domain.MarketStatusData
	IsConnected() bool
	IsCacheStale() bool
}

// JobLister reports the scheduler's registered jobs.
type JobLister interface {
	JobNames() []string
}

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	engineDB    *database.DB
	cacheDB     *database.DB
	broker      BrokerHealth
	markets     MarketStatusCache
	jobs        JobLister
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	engineDB, cacheDB *database.DB,
	broker BrokerHealth,
	markets MarketStatusCache,
	jobs JobLister,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		engineDB:    engineDB,
		cacheDB:     cacheDB,
		broker:      broker,
		markets:     markets,
		jobs:        jobs,
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	Status      string   `json:"status"` // "healthy" or "degraded"
	UptimeHours float64  `json:"uptime_hours"`
	CPUPercent  float64  `json:"cpu_percent"`
	RAMPercent  float64  `json:"ram_percent"`
	Goroutines  int      `json:"goroutines"`
	DataDirMB   float64  `json:"data_dir_mb"`
	Databases   []DBInfo `json:"databases"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
	FreePages int64   `json:"free_pages"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases    []DBInfo `json:"databases"`
	HistoryFiles int      `json:"history_files"`
	HistoryMB    float64  `json:"history_mb"`
	TotalSizeMB  float64  `json:"total_size_mb"`
	LastChecked  string   `json:"last_checked"`
}

// TradernetStatusResponse represents Tradernet connection status
type TradernetStatusResponse struct {
	Connected bool   `json:"connected"`
	LastCheck string `json:"last_check"`
	Message   string `json:"message,omitempty"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	TotalJobs int       `json:"total_jobs"`
	Jobs      []JobInfo `json:"jobs"`
}

// JobInfo represents information about a single job
type JobInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "scheduled"
}

// MarketInfo represents the status of a single venue
type MarketInfo struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Status    string `json:"status"`     // "open" or "closed"
	OpenTime  string `json:"open_time"`  // "09:30"
	CloseTime string `json:"close_time"` // "16:00"
	Date      string `json:"date"`       // "2024-01-09"
}

// MarketsStatusResponse represents venue status from the websocket cache
type MarketsStatusResponse struct {
	Markets     map[string]MarketInfo `json:"markets"`
	OpenCount   int                   `json:"open_count"`
	ClosedCount int                   `json:"closed_count"`
	Connected   bool                  `json:"connected"`
	Stale       bool                  `json:"stale"`
	LastUpdated string                `json:"last_updated"`
	Message     string                `json:"message,omitempty"`
}

// HandleSystemStatus returns process statistics and database sizes
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:      "healthy",
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		Goroutines:  runtime.NumGoroutine(),
		DataDirMB:   h.getDirSize(h.dataDir),
		Databases:   []DBInfo{},
	}

	for _, db := range []*database.DB{h.engineDB, h.cacheDB} {
		if db == nil {
			continue
		}
		info, err := h.dbInfo(db)
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			response.Status = "degraded"
			continue
		}
		response.Databases = append(response.Databases, info)
	}

	h.writeJSON(w, response)
}

// HandleDatabaseStats returns detailed per-database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	response := DatabaseStatsResponse{
		Databases:   []DBInfo{},
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for _, db := range []*database.DB{h.engineDB, h.cacheDB} {
		if db == nil {
			continue
		}
		info, err := h.dbInfo(db)
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		response.Databases = append(response.Databases, info)
		response.TotalSizeMB += info.SizeMB + info.WALSizeMB
	}

	historyDir := filepath.Join(h.dataDir, "history")
	if files, err := filepath.Glob(filepath.Join(historyDir, "*.db")); err == nil {
		response.HistoryFiles = len(files)
	}
	response.HistoryMB = h.getDirSize(historyDir)
	response.TotalSizeMB += response.HistoryMB

	h.writeJSON(w, response)
}

// HandleTradernetStatus returns order routing service health
func (h *SystemHandlers) HandleTradernetStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Checking Tradernet status")

	response := TradernetStatusResponse{
		Connected: false,
		LastCheck: time.Now().Format(time.RFC3339),
	}

	if h.broker == nil {
		response.Message = "Tradernet client not configured"
		h.writeJSON(w, response)
		return
	}

	healthResult, err := h.broker.HealthCheck(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check Tradernet health")
		response.Message = "Failed to check Tradernet service: " + err.Error()
		h.writeJSON(w, response)
		return
	}

	response.Connected = healthResult.Connected
	if healthResult.Timestamp != "" {
		response.LastCheck = healthResult.Timestamp
	}
	if healthResult.Connected {
		response.Message = "Tradernet service is connected"
	} else {
		response.Message = "Tradernet service is not connected - check credentials"
	}

	h.writeJSON(w, response)
}

// HandleJobsStatus returns the scheduler's registered jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	jobs := []JobInfo{}
	if h.jobs != nil {
		for _, name := range h.jobs.JobNames() {
			jobs = append(jobs, JobInfo{Name: name, Status: "scheduled"})
		}
	}

	h.writeJSON(w, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// HandleMarketsStatus returns per-venue trading status from the
// websocket cache
func (h *SystemHandlers) HandleMarketsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting markets status from websocket cache")

	response := MarketsStatusResponse{
		Markets:     map[string]MarketInfo{},
		LastUpdated: time.Now().Format(time.RFC3339),
	}

	if h.markets == nil {
		response.Message = "Market status stream not configured"
		h.writeJSON(w, response)
		return
	}

	response.Connected = h.markets.IsConnected()
	response.Stale = h.markets.IsCacheStale()

	for code, market := range h.markets.GetAllMarketStatuses() {
		if market.Status == "open" {
			response.OpenCount++
		} else {
			response.ClosedCount++
		}

		response.Markets[code] = MarketInfo{
			Name:      market.Name,
			Code:      market.Code,
			Status:    market.Status,
			OpenTime:  market.OpenTime,
			CloseTime: market.CloseTime,
			Date:      market.Date,
		}
	}

	h.writeJSON(w, response)
}

// dbInfo converts one database's stats into the response shape
func (h *SystemHandlers) dbInfo(db *database.DB) (DBInfo, error) {
	stats, err := db.GetStats()
	if err != nil {
		return DBInfo{}, err
	}

	return DBInfo{
		Name:      db.Name(),
		Path:      db.Path(),
		SizeMB:    float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB: float64(stats.WALSizeBytes) / 1024 / 1024,
		PageCount: stats.PageCount,
		FreePages: stats.FreelistCount,
	}, nil
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) so the endpoint responds quickly while
// still providing a real reading.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
