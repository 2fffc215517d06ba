package domain

import "context"

// QuoteProvider fetches spot prices and instrument metadata from one
// upstream source. Providers are tried in a fixed priority order; a
// provider error falls through to the next provider.
type QuoteProvider interface {
	Name() string
	// Supports reports whether this provider can quote the given market.
	Supports(market string) bool
	GetSpotPrice(ctx context.Context, symbol, market string) (float64, error)
	GetInstrumentInfo(ctx context.Context, symbol, market string) (*InstrumentInfo, error)
}

// FXProvider fetches currency conversion rates from one upstream source.
type FXProvider interface {
	Name() string
	GetRate(ctx context.Context, from, to string) (float64, error)
}
