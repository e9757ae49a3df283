package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/events"
)

// brokerProbeTimeout bounds one health check round trip so a hung
// order routing service cannot stall the monitor loop.
const brokerProbeTimeout = 5 * time.Second

// StatusMonitor periodically samples database and broker health and
// emits events when either changes. The market status websocket reports
// its own transitions; this monitor covers the REST side, which nothing
// else watches continuously.
type StatusMonitor struct {
	eventBus *events.Bus
	engineDB *database.DB
	cacheDB  *database.DB
	broker   BrokerHealth
	log      zerolog.Logger

	stop chan struct{}

	lastStatus    string
	lastConnected bool
}

// NewStatusMonitor creates a status monitor. broker may be nil when no
// order routing service is configured.
func NewStatusMonitor(eventBus *events.Bus, engineDB, cacheDB *database.DB, broker BrokerHealth, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventBus: eventBus,
		engineDB: engineDB,
		cacheDB:  cacheDB,
		broker:   broker,
		log:      log.With().Str("component", "status_monitor").Logger(),
		stop:     make(chan struct{}),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop ends the monitoring loop
func (m *StatusMonitor) Stop() {
	close(m.stop)
}

// monitor runs the periodic monitoring loop
func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do initial check
	m.checkStatuses()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatuses()
		}
	}
}

// checkStatuses samples each monitored source and emits on changes
func (m *StatusMonitor) checkStatuses() {
	m.checkSystemStatus()
	m.checkBrokerStatus()
}

// checkSystemStatus reports "degraded" when either database stops
// answering stats queries, the same rule the status endpoint uses.
func (m *StatusMonitor) checkSystemStatus() {
	status := "healthy"
	for _, db := range []*database.DB{m.engineDB, m.cacheDB} {
		if db == nil {
			continue
		}
		if _, err := db.GetStats(); err != nil {
			m.log.Warn().Err(err).Str("database", db.Name()).Msg("Database stats probe failed")
			status = "degraded"
		}
	}

	if status == m.lastStatus {
		return
	}
	m.lastStatus = status

	m.eventBus.EmitTyped(events.SystemStatusChanged, "status_monitor", &events.SystemStatusChangedData{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// checkBrokerStatus emits when order routing connectivity flips. A
// failed probe counts as disconnected.
func (m *StatusMonitor) checkBrokerStatus() {
	if m.broker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), brokerProbeTimeout)
	defer cancel()

	connected := false
	health, err := m.broker.HealthCheck(ctx)
	if err == nil && health != nil {
		connected = health.Connected
	}

	if connected == m.lastConnected {
		return
	}
	m.lastConnected = connected

	m.log.Info().Bool("connected", connected).Msg("Order routing connectivity changed")
	m.eventBus.EmitTyped(events.TradernetStatusChanged, "status_monitor", &events.TradernetStatusChangedData{
		Connected: connected,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
