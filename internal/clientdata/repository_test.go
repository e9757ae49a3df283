package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(db)
	require.NoError(t, err)

	return repo
}

type cachedPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Store("current_prices", "SPY", cachedPrice{Symbol: "SPY", Price: 512.30}, TTLCurrentPrice)
	require.NoError(t, err)

	data, err := repo.GetIfFresh("current_prices", "SPY")
	require.NoError(t, err)
	require.NotNil(t, data)

	var price cachedPrice
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, 512.30, price.Price)
}

func TestGetIfFreshReturnsNilWhenExpired(t *testing.T) {
	repo := setupTestRepo(t)

	// Negative TTL stores an already-expired row
	err := repo.Store("current_prices", "SPY", cachedPrice{Symbol: "SPY", Price: 512.30}, -time.Minute)
	require.NoError(t, err)

	data, err := repo.GetIfFresh("current_prices", "SPY")
	require.NoError(t, err)
	assert.Nil(t, data, "expired data must not be returned as fresh")

	// Stale fallback still sees it
	stale, err := repo.Get("current_prices", "SPY")
	require.NoError(t, err)
	assert.NotNil(t, stale)
}

func TestGetMissingKeyReturnsNilNil(t *testing.T) {
	repo := setupTestRepo(t)

	data, err := repo.GetIfFresh("yahoo_metadata", "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestStoreUpserts(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Store("current_prices", "SPY", cachedPrice{Price: 500}, TTLCurrentPrice))
	require.NoError(t, repo.Store("current_prices", "SPY", cachedPrice{Price: 501}, TTLCurrentPrice))

	data, err := repo.GetIfFresh("current_prices", "SPY")
	require.NoError(t, err)

	var price cachedPrice
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, 501.0, price.Price)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Store("securities; DROP TABLE current_prices", "SPY", cachedPrice{}, time.Minute)
	assert.Error(t, err)

	_, err = repo.Get("nope", "SPY")
	assert.Error(t, err)
}

func TestDeleteAllExpired(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Store("current_prices", "SPY", cachedPrice{Price: 500}, -time.Minute))
	require.NoError(t, repo.Store("current_prices", "EFA", cachedPrice{Price: 80}, time.Hour))
	require.NoError(t, repo.Store("yahoo_metadata", "SPY", map[string]string{"currency": "USD"}, -time.Minute))

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)

	assert.Equal(t, int64(1), results["current_prices"])
	assert.Equal(t, int64(1), results["yahoo_metadata"])

	// Fresh row survives
	data, err := repo.GetIfFresh("current_prices", "EFA")
	require.NoError(t, err)
	assert.NotNil(t, data)
}
