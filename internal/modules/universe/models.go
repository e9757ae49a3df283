// Package universe manages the instrument universe the engine trades.
package universe

import "time"

// Security represents one tradeable instrument in the universe
type Security struct {
	Symbol   string    `json:"symbol"` // Primary identifier (e.g., "SPY", "VEUR.AS")
	Name     string    `json:"name,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Exchange string    `json:"exchange,omitempty"`
	Active   bool      `json:"active"`
	AddedAt  time.Time `json:"added_at"`
}
