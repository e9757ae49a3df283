package domain

import (
	"fmt"
	"strings"
	"time"
)

// DataUnavailableError reports that a history load produced no usable
// data for any symbol in the requested window. Individual empty symbols
// are dropped with a warning instead; this error means the whole load
// came back empty.
type DataUnavailableError struct {
	Start   time.Time
	End     time.Time
	Symbols []string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no price data available between %s and %s for any of: %s",
		e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), strings.Join(e.Symbols, ", "))
}

// ValidationError reports malformed input to an engine component:
// bad configuration values, duplicate dates in a series, or an index
// outside the loaded matrix. It always indicates a caller bug or a
// misconfiguration, never a transient condition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SubmissionError wraps a broker or order-construction failure raised
// while dispatching a cycle's orders. The cycle runner catches it at
// the cycle boundary, records it, and moves on; anything else
// propagates.
type SubmissionError struct {
	Op  string // The dispatch step that failed: "build", "cancel", "submit"
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed during %s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
