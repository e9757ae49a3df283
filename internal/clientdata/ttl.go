package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Static security metadata (exchange, currency, long name)
	TTLSecurityMetadata = 7 * 24 * time.Hour // 7 days

	// Current price cache used by order sizing between fetches
	TTLCurrentPrice = 10 * time.Minute
)
