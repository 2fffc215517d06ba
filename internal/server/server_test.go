package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/marketdata"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
	"github.com/jihoon/wonfolio/internal/modules/risk"
	"github.com/jihoon/wonfolio/internal/modules/savings"
	"github.com/jihoon/wonfolio/internal/modules/snapshots"
	"github.com/jihoon/wonfolio/internal/modules/valuation"
	"github.com/jihoon/wonfolio/internal/scheduler"
	testingpkg "github.com/jihoon/wonfolio/internal/testing"
)

type tableProvider struct {
	prices map[string]float64
}

func (p *tableProvider) Name() string         { return "table" }
func (p *tableProvider) Supports(string) bool { return true }

func (p *tableProvider) GetSpotPrice(_ context.Context, symbol, _ string) (float64, error) {
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (p *tableProvider) GetInstrumentInfo(_ context.Context, symbol, market string) (*domain.InstrumentInfo, error) {
	return &domain.InstrumentInfo{Symbol: symbol, Market: market, Name: symbol}, nil
}

type staticFXProvider struct{}

func (staticFXProvider) Name() string { return "static" }

func (staticFXProvider) GetRate(_ context.Context, _, _ string) (float64, error) {
	return 1350, nil
}

type serverFixture struct {
	srv      *Server
	ledger   *ledger.Service
	provider *tableProvider
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	clock := domain.FixedClock{T: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}

	portfolioDB, cleanupP := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanupP)
	cacheDB, cleanupC := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanupC)

	provider := &tableProvider{prices: map[string]float64{}}
	cacheRepo := marketdata.NewRepository(cacheDB.Conn(), clock)
	quotes := marketdata.NewQuoteService(cacheRepo, []domain.QuoteProvider{provider}, clock, log)
	fx := marketdata.NewFXService(cacheRepo, []domain.FXProvider{staticFXProvider{}}, clock, log)

	conn := portfolioDB.Conn()
	positions := ledger.NewPositionRepository(conn, log)
	txns := ledger.NewTransactionRepository(conn, log)
	ledgerSvc := ledger.NewService(conn, positions, txns, fx, clock, log)
	valSvc := valuation.NewService(positions, txns, quotes, fx, clock, 2, log)
	ledgerSvc.SetRevaluer(valSvc)
	savSvc := savings.NewService(conn, savings.NewRepository(conn, log), clock, log)
	recorder := snapshots.NewRecorder(snapshots.NewRepository(conn, log), valSvc, positions, clock, log)
	coordinator := scheduler.NewCoordinator(positions, quotes, fx, valSvc, savSvc, recorder, log)

	srv := New(Config{
		Log:         log,
		Port:        0,
		PortfolioDB: portfolioDB,
		CacheDB:     cacheDB,
		Ledger:      ledgerSvc,
		Valuation:   valSvc,
		Risk:        risk.NewAnalyzer(positions, log),
		Savings:     savSvc,
		Recorder:    recorder,
		Coordinator: coordinator,
	})

	return &serverFixture{srv: srv, ledger: ledgerSvc, provider: provider}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestBuyEndpoint_CreatesPosition(t *testing.T) {
	f := newTestServer(t)
	f.provider.prices["005930"] = 70000

	rec := f.do(t, http.MethodPost, "/api/portfolio/buy", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": 10, "price": 70000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var position domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	assert.Equal(t, "005930", position.Symbol)
	assert.Equal(t, 10.0, position.Quantity)
	assert.Equal(t, 70000.0, position.AvgPriceKRW)
}

func TestBuyEndpoint_InvalidOrder(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/portfolio/buy", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": -5, "price": 70000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSellEndpoint_InsufficientQuantityConflict(t *testing.T) {
	f := newTestServer(t)
	f.provider.prices["005930"] = 70000

	rec := f.do(t, http.MethodPost, "/api/portfolio/buy", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": 5, "price": 70000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/portfolio/sell", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": 10, "price": 71000,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValuationEndpoint_UnknownUserEmpty(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/portfolio/ghost/valuation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v valuation.PortfolioValuation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Zero(t, v.Summary.PositionCount)
}

func TestRiskEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.provider.prices["005930"] = 70000

	rec := f.do(t, http.MethodPost, "/api/portfolio/buy", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": 10, "price": 70000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/portfolio/u1/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report risk.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 100.0, report.Top5WeightPct)
}

func TestTransactionsEndpoint_LimitValidation(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/portfolio/u1/transactions?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/portfolio/u1/transactions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSavingsLifecycleEndpoints(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/savings/", map[string]interface{}{
		"user_id": "u1", "name": "housing fund",
		"start_date": "2026-01-01", "end_date": "2027-01-01",
		"monthly_amount": 100000, "interest_rate": 3.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var account domain.SavingsAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	require.NotEmpty(t, account.ID)
	assert.Equal(t, 100000.0, account.Balance)

	base := "/api/savings/u1/" + account.ID
	rec = f.do(t, http.MethodPost, base+"/deposit", map[string]interface{}{
		"date": "2026-02-01", "amount": 100000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, 200000.0, account.Balance)

	rec = f.do(t, http.MethodPost, base+"/withdraw", map[string]interface{}{
		"date": "2026-02-15", "amount": 500000,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []domain.SavingsTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txns))
	assert.Len(t, txns, 2)

	rec = f.do(t, http.MethodDelete, base+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.provider.prices["005930"] = 71500

	rec := f.do(t, http.MethodPost, "/api/portfolio/buy", map[string]interface{}{
		"user_id": "u1", "account": "isa", "symbol": "005930",
		"market": "KR", "quantity": 10, "price": 70000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/refresh", map[string]interface{}{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/portfolio/u1/valuation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v valuation.PortfolioValuation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 715000.0, v.Summary.TotalValue)
}

func TestSystemStatusEndpoint(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, scheduler.StateIdle, status.RefreshState)
	assert.True(t, status.Databases["portfolio"].Healthy)
	assert.True(t, status.Databases["cache"].Healthy)
}
