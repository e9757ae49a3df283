// Package rebalancing drives the engine's execution cycle: a monotonic
// cursor over the price matrix rows, and the service that turns each
// trigger delivery into signals, weights, orders and a run record.
package rebalancing

import (
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
)

// CursorState names the lifecycle phase of the execution cursor
type CursorState string

const (
	// CursorRunning means triggers execute cycles
	CursorRunning CursorState = "running"
	// CursorExhausted means the cursor ran off the end of the date
	// axis. Terminal; only a process restart resets it.
	CursorExhausted CursorState = "exhausted"
	// CursorSafetyHalted means the trigger budget was exceeded.
	// Terminal; only a process restart resets it.
	CursorSafetyHalted CursorState = "safety_halted"
)

// CycleResult reports what one trigger delivery did
type CycleResult struct {
	State        CursorState
	Executed     bool // The cycle body ran
	Row          int  // Date index the body ran at; -1 otherwise
	TriggerCount int
	Transitioned bool // This trigger moved the cursor into a terminal state
}

// ExecutionCursor walks the date axis one row per trigger. The date
// index only ever increases and the two halt states are permanent, so
// no date can be processed twice no matter how triggers arrive. Not
// safe for concurrent use; the owning service serializes delivery.
type ExecutionCursor struct {
	state        CursorState
	dateIndex    int
	triggerCount int
	maxTriggers  int

	log zerolog.Logger
}

// NewExecutionCursor creates a cursor positioned at startIndex. An
// index at or past the end of the axis is allowed; the first trigger
// then exhausts the cursor.
func NewExecutionCursor(startIndex, maxTriggers int, log zerolog.Logger) (*ExecutionCursor, error) {
	if startIndex < 0 {
		return nil, domain.NewValidationError("start index", "must not be negative, got %d", startIndex)
	}
	if maxTriggers < 1 {
		return nil, domain.NewValidationError("max triggers", "must be at least 1, got %d", maxTriggers)
	}

	return &ExecutionCursor{
		state:       CursorRunning,
		dateIndex:   startIndex,
		maxTriggers: maxTriggers,
		log:         log.With().Str("component", "execution_cursor").Logger(),
	}, nil
}

// Trigger delivers one rebalance trigger. The checks run in a fixed
// order: terminal states swallow the trigger, then the delivery is
// counted against the safety budget, then the axis end is checked,
// and only then does the body run, after which the cursor advances.
// A body error is returned as-is and leaves the row unconsumed; the
// caller decides what is fatal.
func (c *ExecutionCursor) Trigger(numRows int, body func(row int) error) (CycleResult, error) {
	// Step 1: terminal cursors swallow triggers
	if c.state != CursorRunning {
		c.log.Warn().
			Str("state", string(c.state)).
			Int("trigger_count", c.triggerCount).
			Msg("Trigger ignored: cursor is terminal")
		return CycleResult{State: c.state, Row: -1, TriggerCount: c.triggerCount}, nil
	}

	// Step 2: count the delivery, then apply the safety valve. The
	// count includes deliveries that end up doing nothing.
	c.triggerCount++
	if c.triggerCount > c.maxTriggers {
		c.state = CursorSafetyHalted
		c.log.Error().
			Int("trigger_count", c.triggerCount).
			Int("max_triggers", c.maxTriggers).
			Msg("Trigger budget exceeded, engine halted")
		return CycleResult{State: c.state, Row: -1, TriggerCount: c.triggerCount, Transitioned: true}, nil
	}

	// Step 3: end of the date axis
	if c.dateIndex >= numRows {
		c.state = CursorExhausted
		c.log.Info().
			Int("date_index", c.dateIndex).
			Int("rows", numRows).
			Msg("Date axis exhausted, engine halted")
		return CycleResult{State: c.state, Row: -1, TriggerCount: c.triggerCount, Transitioned: true}, nil
	}

	// Step 4: run the body, then advance
	row := c.dateIndex
	if err := body(row); err != nil {
		return CycleResult{State: c.state, Row: row, TriggerCount: c.triggerCount}, err
	}
	c.dateIndex++

	return CycleResult{State: c.state, Executed: true, Row: row, TriggerCount: c.triggerCount}, nil
}

// State returns the cursor's lifecycle phase
func (c *ExecutionCursor) State() CursorState {
	return c.state
}

// DateIndex returns the next row a trigger would process
func (c *ExecutionCursor) DateIndex() int {
	return c.dateIndex
}

// TriggerCount returns how many triggers have been delivered
func (c *ExecutionCursor) TriggerCount() int {
	return c.triggerCount
}

// MaxTriggers returns the safety budget
func (c *ExecutionCursor) MaxTriggers() int {
	return c.maxTriggers
}
