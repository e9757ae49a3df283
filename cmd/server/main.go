// Package main is the entry point for the Tiller rebalancing engine.
// Startup builds the immutable price and indicator matrices, positions
// the execution cursor at the first visible row, and hands the trigger
// schedule to the scheduler. After that the engine only moves when a
// trigger fires.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/clientdata"
	"github.com/aristath/tiller/internal/clients/tradernet"
	"github.com/aristath/tiller/internal/clients/yahoo"
	"github.com/aristath/tiller/internal/config"
	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/historical"
	historicalhandlers "github.com/aristath/tiller/internal/modules/historical/handlers"
	"github.com/aristath/tiller/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/tiller/internal/modules/ledger/handlers"
	"github.com/aristath/tiller/internal/modules/rebalancing"
	rebalancinghandlers "github.com/aristath/tiller/internal/modules/rebalancing/handlers"
	"github.com/aristath/tiller/internal/modules/signals"
	"github.com/aristath/tiller/internal/modules/snapshots"
	snapshotshandlers "github.com/aristath/tiller/internal/modules/snapshots/handlers"
	"github.com/aristath/tiller/internal/modules/trading"
	"github.com/aristath/tiller/internal/modules/universe"
	universehandlers "github.com/aristath/tiller/internal/modules/universe/handlers"
	"github.com/aristath/tiller/internal/reliability"
	"github.com/aristath/tiller/internal/scheduler"
	"github.com/aristath/tiller/internal/server"
	"github.com/aristath/tiller/pkg/logger"
)

// matrixLoadTimeout bounds the startup matrix load, cold fetches from
// the price source included.
const matrixLoadTimeout = 10 * time.Minute

// statusMonitorInterval is how often database and broker health are
// sampled for the event stream.
const statusMonitorInterval = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger with config level
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Tiller")

	eventBus := events.NewBus(log)

	// Open databases. Repositories create their own tables.
	engineDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "engine.db"),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open engine database")
	}
	defer engineDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	historyDB, err := universe.NewHistoryDB(filepath.Join(cfg.DataDir, "history"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history store")
	}

	// Clients. Yahoo lookups cache through cache.db so repeated quote
	// and metadata requests stay off the API.
	clientData, err := clientdata.NewRepository(cacheDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize client data cache")
	}
	yahooClient := yahoo.NewClient(cfg.YahooBaseURL, clientData, log)
	brokerClient := tradernet.NewClient(cfg.TradernetServiceURL, cfg.TradernetAPIKey, cfg.TradernetAPISecret, log)

	var marketsWS *tradernet.MarketStatusWebSocket
	if cfg.TradernetWSURL != "" {
		marketsWS = tradernet.NewMarketStatusWebSocket(cfg.TradernetWSURL, "", eventBus, log)
		if err := marketsWS.Start(); err != nil {
			// Don't fail startup - reconnect loop will handle it
			log.Warn().Err(err).Msg("Market status WebSocket connection failed, will auto-retry")
		}
	}

	// Universe
	securities, err := universe.NewSecurityRepository(engineDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize security repository")
	}
	universeSvc := universe.NewService(securities, historyDB, yahooClient, eventBus, log)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), matrixLoadTimeout)
	defer cancelStartup()

	if err := universeSvc.EnsureSeeded(startupCtx, cfg.UniverseSeed); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed universe")
	}

	symbols, err := universeSvc.ActiveSymbols()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list universe symbols")
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("Universe is empty; set TILLER_UNIVERSE to seed symbols")
	}

	// Matrices: warm-start from a snapshot when inputs are unchanged,
	// otherwise load from the history cache and snapshot the result
	start, end, err := resolveDateRange(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve date range")
	}

	req := historical.LoadRequest{
		Symbols: symbols,
		Field:   domain.PriceField(cfg.PriceField),
		Start:   start,
		End:     end,
		Window:  cfg.MAWindow,
	}

	snapshotRepo, err := snapshots.NewRepository(cacheDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot repository")
	}
	snapshotSvc, err := snapshots.NewService(snapshotRepo, eventBus, 0, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot service")
	}

	prices, indicators, err := loadMatrices(startupCtx, cfg, req, historyDB, yahooClient, snapshotSvc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load price matrix")
	}

	// Engine
	ledgerRepo, err := ledger.NewRepository(engineDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run ledger")
	}

	orderFactory, err := trading.NewFactory(brokerClient, yahooClient, cfg.MinNotional, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize order factory")
	}
	dispatcher, err := trading.NewDispatcher(orderFactory, brokerClient, eventBus, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dispatcher")
	}

	cursor, err := rebalancing.NewExecutionCursor(prices.VisibleOffset(), cfg.MaxTriggers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize execution cursor")
	}
	engine, err := rebalancing.NewService(prices, indicators, cursor, cfg.MAWindow, dispatcher, ledgerRepo, eventBus, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	// Backups
	backupCfg := reliability.BackupConfig{
		Databases:     []*database.DB{engineDB, cacheDB},
		DataDir:       cfg.DataDir,
		Prefix:        cfg.R2Prefix,
		RetentionDays: cfg.R2RetentionDays,
	}
	if cfg.BackupEnabled() {
		store, err := reliability.NewR2Client(startupCtx, cfg.R2Endpoint, cfg.R2AccessKey, cfg.R2SecretKey, cfg.R2Bucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backupCfg.Store = store
	}
	backups := reliability.NewBackupService(backupCfg, log)

	// Scheduler: the rebalance job is the engine's only trigger source
	// besides the manual endpoint
	var marketGate domain.MarketStatusProvider
	if cfg.MarketGate && marketsWS != nil {
		marketGate = marketsWS
	}

	sched := scheduler.New(eventBus, log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.RebalanceSchedule, scheduler.NewRebalanceCycleJob(engine, marketGate, cfg.MarketCode, log)},
		{cfg.PriceSyncSchedule, scheduler.NewPriceSyncJob(universeSvc, historyDB, yahooClient, req.Field, eventBus, log)},
		{cfg.BackupSchedule, scheduler.NewDBBackupJob(backups, log)},
		{cfg.CleanupSchedule, scheduler.NewCacheCleanupJob(clientData, snapshotSvc, log)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to schedule job")
		}
	}
	sched.Start()

	// HTTP server
	srvCfg := server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		DataDir: cfg.DataDir,

		EngineDB: engineDB,
		CacheDB:  cacheDB,

		EventBus: eventBus,
		Prices:   prices,
		Window:   cfg.MAWindow,

		Broker: brokerClient,
		Jobs:   sched,

		EngineHandler:    rebalancinghandlers.NewHandler(engine, sched, log),
		UniverseHandler:  universehandlers.NewHandler(universeSvc, log),
		RunsHandler:      ledgerhandlers.NewHandler(ledgerRepo, log),
		SnapshotsHandler: snapshotshandlers.NewHandler(prices, indicators, cfg.MAWindow, snapshotRepo, log),
		HistoryHandler:   historicalhandlers.NewHandler(historyDB, log),
	}
	if marketsWS != nil {
		srvCfg.Markets = marketsWS
	}
	srv := server.New(srvCfg)

	monitor := server.NewStatusMonitor(eventBus, engineDB, cacheDB, brokerClient, log)
	monitor.Start(statusMonitorInterval)

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Int("symbols", prices.NumSymbols()).
		Int("visible_rows", prices.VisibleLen()).
		Msg("Tiller started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// No new triggers once the scheduler is down; in-flight cycles
	// finish inside the server drain window
	sched.Stop()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if marketsWS != nil {
		if err := marketsWS.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping market status feed")
		}
	}

	log.Info().Msg("Tiller stopped")
}

// resolveDateRange turns the configured date strings into the matrix
// window: end defaults to today, start to one year before end.
func resolveDateRange(cfg *config.Config) (start, end time.Time, err error) {
	now := time.Now().UTC()
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if cfg.EndDate != "" {
		end, err = time.Parse("2006-01-02", cfg.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", cfg.EndDate, err)
		}
	}

	start = end.AddDate(-1, 0, 0)
	if cfg.StartDate != "" {
		start, err = time.Parse("2006-01-02", cfg.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", cfg.StartDate, err)
		}
	}
	return start, end, nil
}

// loadMatrices restores the price and indicator matrices from a fresh
// snapshot, or rebuilds them from the history cache and snapshots the
// result. A snapshot read failure falls through to a rebuild.
func loadMatrices(ctx context.Context, cfg *config.Config, req historical.LoadRequest, historyDB *universe.HistoryDB, source domain.PriceSource, snapshotSvc *snapshots.Service, log zerolog.Logger) (*historical.Matrix, *historical.Matrix, error) {
	prices, indicators, err := snapshotSvc.Load(req)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot load failed, rebuilding matrices")
	}
	if prices != nil && indicators != nil {
		return prices, indicators, nil
	}

	loader := historical.NewLoader(historyDB, source, log)
	prices, err = loader.Load(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	indicators, err = signals.ComputeIndicatorMatrix(prices, cfg.MAWindow)
	if err != nil {
		return nil, nil, err
	}

	if err := snapshotSvc.Save(req, prices, indicators); err != nil {
		log.Warn().Err(err).Msg("Failed to save matrix snapshot")
	}
	return prices, indicators, nil
}
