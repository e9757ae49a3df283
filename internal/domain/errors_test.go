package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDataUnavailableErrorMessage(t *testing.T) {
	err := &DataUnavailableError{
		Start:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Symbols: []string{"SPY", "EFA"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "2023-01-02")
	assert.Contains(t, msg, "2024-01-02")
	assert.Contains(t, msg, "SPY, EFA")
}

func TestSubmissionErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &SubmissionError{Op: "cancel", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "cancel")

	// Wrapped one level deeper it must still match by type,
	// which is how the cycle boundary catches it.
	wrapped := fmt.Errorf("dispatch failed: %w", err)
	var subErr *SubmissionError
	assert.True(t, errors.As(wrapped, &subErr))
	assert.Equal(t, "cancel", subErr.Op)
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("ma_window", "must be at least 1, got %d", 0)
	assert.Equal(t, "invalid ma_window: must be at least 1, got 0", err.Error())
}
