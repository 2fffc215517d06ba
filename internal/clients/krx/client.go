// Package krx provides a Korea Exchange (KRX) market data client.
package krx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/domain"
)

// Client fetches daily closing prices from the KRX market data service.
// KRX publishes end-of-day OHLCV for the whole market in one document,
// so lookups scan the day's table for the requested ticker, walking back
// over weekends and holidays until a trading day is found.
type Client struct {
	baseURL string
	client  *http.Client
	clock   domain.Clock
	log     zerolog.Logger
}

// maxLookbackDays bounds the holiday walk-back. The longest Korean
// market closures (Lunar New Year, Chuseok) span about a week.
const maxLookbackDays = 10

// NewClient creates a new KRX client.
func NewClient(clock domain.Clock, log zerolog.Logger) *Client {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Client{
		baseURL: "http://data.krx.co.kr/comm/bldAttendant/getJsonData.cmd",
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   clock,
		log:     log.With().Str("client", "krx").Logger(),
	}
}

// Name identifies this provider in cache source tags and logs.
func (c *Client) Name() string {
	return "krx"
}

// Supports reports true only for the domestic market.
func (c *Client) Supports(market string) bool {
	return market == domain.MarketKR
}

// dailyRow is one instrument's row in the end-of-day table. Prices come
// back comma-formatted ("71,500").
type dailyRow struct {
	Ticker string `json:"ISU_SRT_CD"`
	Name   string `json:"ISU_ABBRV"`
	Close  string `json:"TDD_CLSPRC"`
}

type dailyResponse struct {
	Rows []dailyRow `json:"OutBlock_1"`
}

// GetSpotPrice returns the most recent closing price for a ticker.
func (c *Client) GetSpotPrice(ctx context.Context, symbol, market string) (float64, error) {
	row, err := c.findRow(ctx, symbol)
	if err != nil {
		return 0, err
	}

	price, err := parseCommaNumber(row.Close)
	if err != nil {
		return 0, fmt.Errorf("unparseable close price %q for %s: %w", row.Close, symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("no closing price for %s", symbol)
	}

	return price, nil
}

// GetInstrumentInfo returns the instrument name for a ticker. KRX does
// not publish sector classification or beta in the daily table.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol, market string) (*domain.InstrumentInfo, error) {
	row, err := c.findRow(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &domain.InstrumentInfo{
		Symbol:   symbol,
		Market:   domain.MarketKR,
		Name:     row.Name,
		Currency: "KRW",
	}, nil
}

// findRow locates the ticker's row in the most recent trading day's
// table, walking back one calendar day at a time on empty responses.
func (c *Client) findRow(ctx context.Context, symbol string) (*dailyRow, error) {
	day := c.clock.Now()

	for i := 0; i < maxLookbackDays; i++ {
		rows, err := c.fetchDaily(ctx, day.Format("20060102"))
		if err != nil {
			return nil, err
		}

		if len(rows) > 0 {
			for i := range rows {
				if rows[i].Ticker == symbol {
					return &rows[i], nil
				}
			}
			return nil, fmt.Errorf("ticker %s not found in KRX daily table", symbol)
		}

		// Empty table means a non-trading day.
		day = day.AddDate(0, 0, -1)
	}

	return nil, fmt.Errorf("no KRX trading day found within %d days", maxLookbackDays)
}

// fetchDaily retrieves the all-market end-of-day table for one date.
func (c *Client) fetchDaily(ctx context.Context, tradeDate string) ([]dailyRow, error) {
	form := url.Values{}
	form.Set("bld", "dbms/MDC/STAT/standard/MDCSTAT01501")
	form.Set("mktId", "ALL")
	form.Set("trdDd", tradeDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", "http://data.krx.co.kr/")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("KRX request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("KRX returned status %d: %s", resp.StatusCode, string(body))
	}

	var result dailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse KRX response: %w", err)
	}

	return result.Rows, nil
}

func parseCommaNumber(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" || cleaned == "-" {
		return 0, nil
	}
	return strconv.ParseFloat(cleaned, 64)
}
