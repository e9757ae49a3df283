package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/rebalancing"
)

// cycleTimeout bounds one trigger delivery end to end, broker calls
// included.
const cycleTimeout = 2 * time.Minute

// CycleRunner delivers one trigger to the engine.
// Satisfied by rebalancing.Service.
type CycleRunner interface {
	RunCycle(ctx context.Context) (rebalancing.CycleResult, error)
}

// RebalanceCycleJob is the trigger adapter: each scheduled run delivers
// exactly one trigger. When a market status provider is configured the
// trigger is withheld unless the venue is known to be open; a withheld
// trigger is not delivered at all, so it burns neither the date axis
// nor the trigger budget.
type RebalanceCycleJob struct {
	engine     CycleRunner
	markets    domain.MarketStatusProvider
	marketCode string
	log        zerolog.Logger
}

// NewRebalanceCycleJob creates the trigger job. A nil markets provider
// or empty venue code disables the gate.
func NewRebalanceCycleJob(engine CycleRunner, markets domain.MarketStatusProvider, marketCode string, log zerolog.Logger) *RebalanceCycleJob {
	return &RebalanceCycleJob{
		engine:     engine,
		markets:    markets,
		marketCode: marketCode,
		log:        log.With().Str("job", "rebalance_cycle").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceCycleJob) Name() string {
	return "rebalance_cycle"
}

// Run delivers one trigger
func (j *RebalanceCycleJob) Run() error {
	if j.engine == nil {
		return fmt.Errorf("engine is not wired")
	}

	if withheld := j.gate(); withheld {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	result, err := j.engine.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("trigger delivery failed: %w", err)
	}

	if result.Executed {
		j.log.Info().
			Int("row", result.Row).
			Int("trigger_count", result.TriggerCount).
			Msg("Cycle executed")
	} else {
		j.log.Info().
			Str("state", string(result.State)).
			Int("trigger_count", result.TriggerCount).
			Msg("Cycle not executed")
	}
	return nil
}

// gate reports whether the trigger must be withheld. Unknown status is
// treated as closed: trading into a venue we cannot confirm open would
// burn an axis date on a doomed submission.
func (j *RebalanceCycleJob) gate() bool {
	if j.markets == nil || j.marketCode == "" {
		return false
	}

	if j.markets.IsCacheStale() {
		j.log.Warn().Str("market", j.marketCode).Msg("Market status is stale, trigger withheld")
		return true
	}

	status, err := j.markets.GetMarketStatus(j.marketCode)
	if err != nil {
		j.log.Warn().Err(err).Str("market", j.marketCode).Msg("Market status unavailable, trigger withheld")
		return true
	}
	if status.Status != "open" {
		j.log.Info().
			Str("market", j.marketCode).
			Str("status", status.Status).
			Msg("Market closed, trigger withheld")
		return true
	}
	return false
}
