// Package exchangerate provides a client for exchangerate-api.com.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client for exchangerate-api.com. One request returns every rate for a
// base currency; the caller picks the target out of the map.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new exchangerate-api.com client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.exchangerate-api.com/v4/latest",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "exchangerate-api").Logger(),
	}
}

// Name identifies this provider in cache source tags and logs.
func (c *Client) Name() string {
	return "exchangerate-api"
}

// GetRate fetches the conversion rate from one currency to another.
func (c *Client) GetRate(ctx context.Context, from, to string) (float64, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, from)
	c.log.Debug().Str("url", reqURL).Msg("Fetching rates")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	rate, exists := result.Rates[to]
	if !exists {
		return 0, fmt.Errorf("rate for %s not in response", to)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("invalid rate %f for %s/%s", rate, from, to)
	}

	return rate, nil
}
