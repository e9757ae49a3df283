package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/historical"
	"github.com/aristath/tiller/internal/modules/ledger"
	"github.com/aristath/tiller/internal/modules/signals"
)

// Dispatcher sends one weight row to the broker.
// Satisfied by trading.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, weights map[string]float64) ([]domain.OrderIntent, error)
}

// RunRecorder appends run records.
// Satisfied by ledger.Repository.
type RunRecorder interface {
	Record(run ledger.Run) (string, error)
}

// Status is a point-in-time view of the engine for the API
type Status struct {
	State        CursorState `json:"state"`
	DateIndex    int         `json:"date_index"`
	NextDate     string      `json:"next_date,omitempty"` // Date the next trigger will process
	TriggerCount int         `json:"trigger_count"`
	MaxTriggers  int         `json:"max_triggers"`
	Rows         int         `json:"rows"`
	VisibleRows  int         `json:"visible_rows"`
	Symbols      int         `json:"symbols"`
	Window       int         `json:"window"`
}

// Service owns the execution cursor and runs rebalance cycles against
// the loaded matrices. The matrices are immutable after construction;
// the cursor is guarded by a lock so overlapping trigger deliveries
// cannot interleave cycle bodies.
type Service struct {
	mu sync.Mutex

	prices     *historical.Matrix
	indicators *historical.Matrix
	cursor     *ExecutionCursor
	window     int

	dispatcher Dispatcher
	runs       RunRecorder
	eventBus   *events.Bus

	log zerolog.Logger
}

// NewService creates the engine service. The cursor should start at
// the matrices' visible offset; that is not enforced here so tests can
// position it freely.
func NewService(prices, indicators *historical.Matrix, cursor *ExecutionCursor, window int, dispatcher Dispatcher, runs RunRecorder, eventBus *events.Bus, log zerolog.Logger) (*Service, error) {
	if prices == nil || indicators == nil {
		return nil, fmt.Errorf("price and indicator matrices are required")
	}
	if prices.Len() != indicators.Len() {
		return nil, domain.NewValidationError("indicators", "axis has %d rows, prices have %d", indicators.Len(), prices.Len())
	}
	if cursor == nil {
		return nil, fmt.Errorf("execution cursor is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run recorder is required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Service{
		prices:     prices,
		indicators: indicators,
		cursor:     cursor,
		window:     window,
		dispatcher: dispatcher,
		runs:       runs,
		eventBus:   eventBus,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}, nil
}

// RunCycle delivers one trigger to the cursor and records the outcome.
// Deliveries are serialized; concurrent callers queue on the lock.
// Submission failures are part of normal operation: the date is
// recorded as failed and the cursor moves past it. Any other error
// from the cycle body is a bug and propagates with the row untouched.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := ledger.Run{StartedAt: time.Now().UTC()}

	result, err := s.cursor.Trigger(s.prices.Len(), func(row int) error {
		return s.executeCycle(ctx, row, &record)
	})
	if err != nil {
		return result, fmt.Errorf("cycle at row %d failed: %w", result.Row, err)
	}

	// Step 3 of the record: cursor position after the trigger. No-op
	// triggers get their outcome filled in here.
	record.TriggerCount = result.TriggerCount
	record.CursorState = string(result.State)
	if record.Outcome == "" {
		switch {
		case result.Transitioned && result.State == CursorSafetyHalted:
			record.Outcome = ledger.OutcomeSafetyHalted
		case result.Transitioned && result.State == CursorExhausted:
			record.Outcome = ledger.OutcomeExhausted
		default:
			record.Outcome = ledger.OutcomeSkippedTerminal
		}
	}

	if _, err := s.runs.Record(record); err != nil {
		// Orders are already out; a ledger failure must not turn a
		// finished cycle into a failed one
		s.log.Error().Err(err).Msg("Failed to record run")
	}

	s.emitCycleEvents(result, record)
	return result, nil
}

// executeCycle is the body the cursor runs at one row: derive the
// weight row, dispatch it, and note everything on the run record.
func (s *Service) executeCycle(ctx context.Context, row int, record *ledger.Run) error {
	date := s.prices.DateAt(row)
	record.Date = date

	// Step 1: signals and target weights for this date
	weights, err := signals.WeightsAt(s.prices, s.indicators, row)
	if err != nil {
		return err
	}
	record.Weights = weights

	s.log.Info().
		Time("date", date).
		Int("row", row).
		Int("on_instruments", countOn(weights)).
		Msg("Executing rebalance cycle")

	// Step 2: dispatch orders toward the weights
	intents, err := s.dispatcher.Dispatch(ctx, weights)
	record.Intents = intents
	if err != nil {
		var serr *domain.SubmissionError
		if errors.As(err, &serr) {
			// Skip-and-move-on: the failure is recorded and the date
			// is never retried
			record.Outcome = ledger.OutcomeSubmissionFailed
			record.Error = err.Error()
			s.log.Error().
				Err(err).
				Time("date", date).
				Int("row", row).
				Msg("Order submission failed, advancing past this date")
			return nil
		}
		return err
	}

	record.Outcome = ledger.OutcomeCompleted
	return nil
}

// Status snapshots the engine for the API
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:        s.cursor.State(),
		DateIndex:    s.cursor.DateIndex(),
		TriggerCount: s.cursor.TriggerCount(),
		MaxTriggers:  s.cursor.MaxTriggers(),
		Rows:         s.prices.Len(),
		VisibleRows:  s.prices.VisibleLen(),
		Symbols:      s.prices.NumSymbols(),
		Window:       s.window,
	}
	if next := s.prices.DateAt(s.cursor.DateIndex()); !next.IsZero() {
		status.NextDate = next.Format("2006-01-02")
	}
	return status
}

// SignalsOn returns the signal row for a date, or for the last loaded
// date when the zero time is given. Warm-up rows are not served; they
// exist only to feed the indicator.
func (s *Service) SignalsOn(date time.Time) (map[string]float64, time.Time, error) {
	row, resolved, err := s.resolveRow(date)
	if err != nil {
		return nil, time.Time{}, err
	}
	signalRow, err := signals.SignalRow(s.prices, s.indicators, row)
	if err != nil {
		return nil, time.Time{}, err
	}
	return signalRow, resolved, nil
}

// WeightsOn returns the target weight row for a date, or for the last
// loaded date when the zero time is given
func (s *Service) WeightsOn(date time.Time) (map[string]float64, time.Time, error) {
	row, resolved, err := s.resolveRow(date)
	if err != nil {
		return nil, time.Time{}, err
	}
	weights, err := signals.WeightsAt(s.prices, s.indicators, row)
	if err != nil {
		return nil, time.Time{}, err
	}
	return weights, resolved, nil
}

func (s *Service) resolveRow(date time.Time) (int, time.Time, error) {
	if s.prices.VisibleLen() == 0 {
		return 0, time.Time{}, domain.NewValidationError("date", "no dates loaded in the visible window")
	}
	if date.IsZero() {
		row := s.prices.Len() - 1
		return row, s.prices.DateAt(row), nil
	}

	row, ok := s.prices.IndexOf(date)
	if !ok {
		return 0, time.Time{}, domain.NewValidationError("date", "%s is not on the loaded axis", date.Format("2006-01-02"))
	}
	if row < s.prices.VisibleOffset() {
		return 0, time.Time{}, domain.NewValidationError("date", "%s is inside the warm-up buffer", date.Format("2006-01-02"))
	}
	return row, s.prices.DateAt(row), nil
}

func (s *Service) emitCycleEvents(result CycleResult, record ledger.Run) {
	switch {
	case result.Executed:
		s.eventBus.Emit(events.CycleCompleted, "rebalancing", map[string]interface{}{
			"row":           result.Row,
			"date":          record.Date.Format("2006-01-02"),
			"trigger_count": result.TriggerCount,
			"outcome":       record.Outcome,
			"intents":       len(record.Intents),
		})
	case result.Transitioned:
		s.eventBus.Emit(events.CursorHalted, "rebalancing", map[string]interface{}{
			"state":         string(result.State),
			"trigger_count": result.TriggerCount,
		})
	default:
		s.eventBus.Emit(events.CycleSkipped, "rebalancing", map[string]interface{}{
			"state":         string(result.State),
			"trigger_count": result.TriggerCount,
		})
	}
}

func countOn(weights map[string]float64) int {
	n := 0
	for _, w := range weights {
		if w > 0 {
			n++
		}
	}
	return n
}
