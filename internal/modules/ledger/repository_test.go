package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/tiller/internal/domain"
)

func setupRunRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo, err := NewRepository(db, log)
	require.NoError(t, err)

	return repo
}

func TestRunRepositoryRecordAndGet(t *testing.T) {
	repo := setupRunRepo(t)

	run := Run{
		Date:         time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		TriggerCount: 7,
		CursorState:  "running",
		Weights:      map[string]float64{"AAPL.US": 0.5, "MSFT.US": 0.5},
		Intents: []domain.OrderIntent{
			{ClientOrderID: "a-1", Symbol: "AAPL.US", Side: domain.OrderSideBuy, Quantity: 3, Style: domain.OrderStyleMarket, TimeInForce: domain.TimeInForceDay, TargetWeight: 0.5},
		},
		Outcome: OutcomeCompleted,
	}

	id, err := repo.Record(run)
	require.NoError(t, err)
	require.NotEmpty(t, id, "Record should assign an ID")

	got, err := repo.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, id, got.ID)
	assert.False(t, got.StartedAt.IsZero(), "Record should stamp the start time")
	assert.True(t, got.Date.Equal(run.Date))
	assert.Equal(t, 7, got.TriggerCount)
	assert.Equal(t, "running", got.CursorState)
	assert.Equal(t, run.Weights, got.Weights)
	require.Len(t, got.Intents, 1)
	assert.Equal(t, "AAPL.US", got.Intents[0].Symbol)
	assert.Equal(t, domain.OrderSideBuy, got.Intents[0].Side)
	assert.Equal(t, OutcomeCompleted, got.Outcome)
	assert.Empty(t, got.Error)
}

func TestRunRepositoryRecordNoOpTrigger(t *testing.T) {
	repo := setupRunRepo(t)

	// Terminal-state triggers carry no date, weights or intents
	id, err := repo.Record(Run{
		TriggerCount: 10001,
		CursorState:  "safety_halted",
		Outcome:      OutcomeSafetyHalted,
	})
	require.NoError(t, err)

	got, err := repo.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, got.Date.IsZero())
	assert.Empty(t, got.Weights)
	assert.Empty(t, got.Intents)
	assert.Equal(t, OutcomeSafetyHalted, got.Outcome)
}

func TestRunRepositoryRejectsMissingOutcome(t *testing.T) {
	repo := setupRunRepo(t)

	_, err := repo.Record(Run{CursorState: "running"})
	assert.Error(t, err)
}

func TestRunRepositoryGetByIDNotFound(t *testing.T) {
	repo := setupRunRepo(t)

	run, err := repo.GetByID("no-such-run")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRunRepositoryListRecentNewestFirst(t *testing.T) {
	repo := setupRunRepo(t)

	base := time.Date(2026, 3, 2, 16, 40, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := repo.Record(Run{
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			TriggerCount: i + 1,
			CursorState:  "running",
			Outcome:      OutcomeCompleted,
		})
		require.NoError(t, err)
	}

	runs, err := repo.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 3, runs[0].TriggerCount, "newest run first")
	assert.Equal(t, 2, runs[1].TriggerCount)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunRepositoryListRecentDefaultLimit(t *testing.T) {
	repo := setupRunRepo(t)

	runs, err := repo.ListRecent(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
