package marketdata

import "time"

// TTL policies for cached market data. Quotes move intraday so they get
// the shortest window; instrument metadata changes rarely.
const (
	TTLQuote          = 10 * time.Minute
	TTLFXRate         = 1 * time.Hour
	TTLInstrumentInfo = 24 * time.Hour

	// CleanupGrace keeps expired rows around long enough for the
	// stale-fallback path to use them during provider outages.
	CleanupGrace = 24 * time.Hour
)
