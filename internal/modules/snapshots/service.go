package snapshots

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/historical"
)

// defaultTTL bounds how long a warm start may reuse a stored matrix
// before the loader is forced back to the history cache.
const defaultTTL = 7 * 24 * time.Hour

// Service saves and restores matrix snapshots.
type Service struct {
	repo     *Repository
	eventBus *events.Bus
	ttl      time.Duration
	log      zerolog.Logger
}

// NewService creates the snapshot service. A non-positive ttl selects
// the default.
func NewService(repo *Repository, eventBus *events.Bus, ttl time.Duration, log zerolog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("snapshot repository is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		ttl:      ttl,
		log:      log.With().Str("service", "snapshots").Logger(),
	}, nil
}

// Save persists both matrices under the request's key.
func (s *Service) Save(req historical.LoadRequest, prices, indicators *historical.Matrix) error {
	if prices == nil || indicators == nil {
		return fmt.Errorf("prices and indicators matrices are required")
	}

	key := Key(req)
	blob, err := encode(prices, indicators, req.Window)
	if err != nil {
		return err
	}
	if err := s.repo.Store(key, blob, s.ttl); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Int("rows", prices.Len()).
		Int("symbols", prices.NumSymbols()).
		Int("bytes", len(blob)).
		Msg("Matrix snapshot saved")

	if s.eventBus != nil {
		s.eventBus.Emit(events.SnapshotSaved, "snapshots", map[string]interface{}{
			"key":     key,
			"rows":    prices.Len(),
			"symbols": prices.NumSymbols(),
			"bytes":   len(blob),
		})
	}
	return nil
}

// Load returns the stored matrices for the request, or nil matrices on
// a miss. Blobs that fail to decode are deleted so the next load is a
// clean miss instead of a repeated failure.
func (s *Service) Load(req historical.LoadRequest) (*historical.Matrix, *historical.Matrix, error) {
	key := Key(req)

	blob, err := s.repo.GetIfFresh(key)
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		s.log.Debug().Str("key", key).Msg("No usable matrix snapshot")
		return nil, nil, nil
	}

	prices, indicators, window, err := decode(blob)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable snapshot")
		if delErr := s.repo.Delete(key); delErr != nil {
			s.log.Error().Err(delErr).Str("key", key).Msg("Failed to delete unreadable snapshot")
		}
		return nil, nil, nil
	}
	if window != req.Window {
		s.log.Warn().Int("stored", window).Int("requested", req.Window).Msg("Snapshot window mismatch, ignoring")
		return nil, nil, nil
	}

	s.log.Info().
		Str("key", key).
		Int("rows", prices.Len()).
		Int("symbols", prices.NumSymbols()).
		Msg("Matrices restored from snapshot")
	return prices, indicators, nil
}

// DeleteExpired removes snapshots past their TTL. Wired into the cache
// cleanup job alongside the client data tables.
func (s *Service) DeleteExpired() (int64, error) {
	return s.repo.DeleteExpired()
}
