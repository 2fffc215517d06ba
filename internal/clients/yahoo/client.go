// Package yahoo provides a Yahoo Finance quote client.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// Client is a Yahoo Finance API client. It quotes international
// instruments in their listing currency (USD for US listings) and can
// serve as a fallback for domestic instruments via the .KS suffix.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://query1.finance.yahoo.com/v7/finance/quote",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name identifies this provider in cache source tags and logs.
func (c *Client) Name() string {
	return "yahoo"
}

// Supports reports true for every market. Yahoo is the primary source
// for international instruments and the fallback for domestic ones.
func (c *Client) Supports(string) bool {
	return true
}

// yahooSymbol converts an internal symbol to Yahoo's format. Domestic
// tickers are numeric codes that Yahoo lists under the .KS suffix.
func yahooSymbol(symbol, market string) string {
	if market == domain.MarketKR {
		return symbol + ".KS"
	}
	return symbol
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]interface{} `json:"result"`
		Error  interface{}              `json:"error"`
	} `json:"quoteResponse"`
}

// GetSpotPrice fetches the latest market price for a symbol.
func (c *Client) GetSpotPrice(ctx context.Context, symbol, market string) (float64, error) {
	info, err := c.getQuoteInfo(ctx, yahooSymbol(symbol, market))
	if err != nil {
		return 0, err
	}

	if price := getFloat64(info, "regularMarketPrice"); price != nil && *price > 0 {
		return *price, nil
	}
	if price := getFloat64(info, "currentPrice"); price != nil && *price > 0 {
		return *price, nil
	}

	return 0, fmt.Errorf("no valid price for symbol %s", symbol)
}

// GetInstrumentInfo fetches name, sector and beta for a symbol.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol, market string) (*domain.InstrumentInfo, error) {
	info, err := c.getQuoteInfo(ctx, yahooSymbol(symbol, market))
	if err != nil {
		return nil, err
	}

	result := &domain.InstrumentInfo{
		Symbol: symbol,
		Market: market,
		Name:   getString(info, "longName", getString(info, "shortName", symbol)),
		Sector: getString(info, "sector", ""),
	}
	if beta := getFloat64(info, "beta"); beta != nil {
		result.Beta = beta
	}
	if currency := getString(info, "currency", ""); currency != "" {
		result.Currency = currency
	}

	return result, nil
}

// getQuoteInfo fetches quote information from the Yahoo Finance API.
func (c *Client) getQuoteInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	params.Add("fields", "symbol,regularMarketPrice,currentPrice,currency,sector,beta,longName,shortName")

	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers to mimic browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("Yahoo Finance API error: %v", result.QuoteResponse.Error)
	}

	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data returned for symbol %s", symbol)
	}

	return result.QuoteResponse.Result[0], nil
}

func getFloat64(m map[string]interface{}, key string) *float64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func getString(m map[string]interface{}, key, defaultVal string) string {
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}
