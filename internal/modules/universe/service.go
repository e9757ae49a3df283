package universe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

// MetadataProvider looks up descriptive metadata for a symbol.
// The Yahoo client implements this.
type MetadataProvider interface {
	GetSecurityMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error)
}

// Service manages the instrument universe: which securities the engine
// watches, their metadata, and their long-term price history.
type Service struct {
	securities *SecurityRepository
	history    *HistoryDB
	metadata   MetadataProvider
	bus        *events.Bus
	log        zerolog.Logger
}

// NewService creates a universe service.
func NewService(securities *SecurityRepository, history *HistoryDB, metadata MetadataProvider, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		securities: securities,
		history:    history,
		metadata:   metadata,
		bus:        bus,
		log:        log.With().Str("component", "universe").Logger(),
	}
}

// History exposes the bar store for modules that read price history.
func (s *Service) History() *HistoryDB {
	return s.history
}

// List returns all securities, active and inactive.
func (s *Service) List() ([]Security, error) {
	return s.securities.List()
}

// ListActive returns the securities the engine currently trades.
func (s *Service) ListActive() ([]Security, error) {
	return s.securities.ListActive()
}

// ActiveSymbols returns the active symbols in sorted order.
func (s *Service) ActiveSymbols() ([]string, error) {
	return s.securities.ActiveSymbols()
}

// AddSecurity adds a symbol to the universe. Metadata is fetched from
// the provider when available; a lookup failure is not fatal, the
// security is stored with the symbol as its name and enriched on a
// later add.
func (s *Service) AddSecurity(ctx context.Context, symbol string) (*Security, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}

	existing, err := s.securities.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active {
		return existing, nil // Already in the universe
	}

	sec := Security{
		Symbol: symbol,
		Name:   symbol,
		Active: true,
	}
	if existing != nil {
		// Reactivating keeps the metadata we already have
		sec.Name = existing.Name
		sec.Currency = existing.Currency
		sec.Exchange = existing.Exchange
		sec.AddedAt = existing.AddedAt
	}

	if s.metadata != nil {
		meta, err := s.metadata.GetSecurityMetadata(ctx, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Metadata lookup failed, storing symbol without metadata")
		} else if meta != nil {
			if meta.Name != "" {
				sec.Name = meta.Name
			}
			sec.Currency = meta.Currency
			sec.Exchange = meta.Exchange
		}
	}

	if err := s.securities.Upsert(sec); err != nil {
		return nil, err
	}

	s.log.Info().Str("symbol", symbol).Str("exchange", sec.Exchange).Msg("Security added to universe")

	if s.bus != nil {
		s.bus.Emit(events.SecurityAdded, "universe", map[string]interface{}{
			"symbol":   sec.Symbol,
			"name":     sec.Name,
			"currency": sec.Currency,
			"exchange": sec.Exchange,
		})
	}

	stored, err := s.securities.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Deactivate removes a symbol from the trading universe. Its history
// and row stay in place so it can be reactivated later.
func (s *Service) Deactivate(symbol string) error {
	if err := s.securities.SetActive(symbol, false); err != nil {
		return err
	}
	s.log.Info().Str("symbol", normalizeSymbol(symbol)).Msg("Security deactivated")
	return nil
}

// EnsureSeeded adds the given symbols if the universe is empty. Used at
// startup so a fresh deployment starts with a working watchlist.
func (s *Service) EnsureSeeded(ctx context.Context, symbols []string) error {
	count, err := s.securities.Count()
	if err != nil {
		return err
	}
	if count > 0 || len(symbols) == 0 {
		return nil
	}

	s.log.Info().Int("count", len(symbols)).Msg("Seeding empty universe")
	for _, symbol := range symbols {
		if _, err := s.AddSecurity(ctx, symbol); err != nil {
			return fmt.Errorf("failed to seed %s: %w", symbol, err)
		}
	}
	return nil
}
