// Package ledger records one row per delivered rebalance trigger: the
// date the cycle processed, the cursor position afterwards, the target
// weights and order intents involved, and how the dispatch ended.
package ledger

import (
	"time"

	"github.com/aristath/tiller/internal/domain"
)

// Dispatch outcomes recorded with each run
const (
	// OutcomeCompleted means the cycle body ran and orders went out
	OutcomeCompleted = "completed"
	// OutcomeSubmissionFailed means the dispatcher failed downstream
	// and the cursor skipped past the date
	OutcomeSubmissionFailed = "submission_failed"
	// OutcomeExhausted means the trigger ran the cursor off the end of
	// the date axis
	OutcomeExhausted = "exhausted"
	// OutcomeSafetyHalted means the trigger tripped the safety valve
	OutcomeSafetyHalted = "safety_halted"
	// OutcomeSkippedTerminal means the cursor was already halted when
	// the trigger arrived
	OutcomeSkippedTerminal = "skipped_terminal"
)

// Run is the permanent record of one trigger delivery
type Run struct {
	ID           string               `json:"id"`
	StartedAt    time.Time            `json:"started_at"`
	Date         time.Time            `json:"date,omitempty"` // Zero when no row was processed
	TriggerCount int                  `json:"trigger_count"`
	CursorState  string               `json:"cursor_state"`
	Weights      map[string]float64   `json:"weights,omitempty"`
	Intents      []domain.OrderIntent `json:"intents,omitempty"`
	Outcome      string               `json:"outcome"`
	Error        string               `json:"error,omitempty"`
}
