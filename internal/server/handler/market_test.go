package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/predictd/internal/domain"
)

// stubMarkets implements MarketService and TradeHistoryService over fixed
// responses.
type stubMarkets struct {
	market  domain.Market
	pool    domain.LiquidityPool
	trades  []domain.TradeRecord
	err     error
	created struct {
		question  string
		endTime   time.Time
		authority string
		nonce     uint64
	}
}

func (s *stubMarkets) CreateMarket(_ context.Context, question string, endTime time.Time, authority string, nonce uint64) (domain.Market, error) {
	s.created.question, s.created.endTime = question, endTime
	s.created.authority, s.created.nonce = authority, nonce
	if s.err != nil {
		return domain.Market{}, s.err
	}
	return s.market, nil
}

func (s *stubMarkets) GetSnapshot(context.Context, string) (domain.Snapshot, error) {
	if s.err != nil {
		return domain.Snapshot{}, s.err
	}
	return domain.Snapshot{Market: s.market, Pool: s.pool}, nil
}

func (s *stubMarkets) ListMarkets(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return []domain.Market{s.market}, s.err
}

func (s *stubMarkets) Count(context.Context) (int64, error) { return 1, s.err }

func (s *stubMarkets) ListTrades(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.trades, s.err
}

func newMarketMux(stub *stubMarkets) *http.ServeMux {
	h := NewMarketHandler(stub, stub, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/trades", h.ListTrades)
	return mux
}

func testMarket() domain.Market {
	return domain.Market{
		ID:             "0xabc",
		Question:       "Will it rain?",
		Authority:      "0x8Ba1f109551bD432803012645Ac136ddd64DBA72",
		EndTime:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalLiquidity: 1000,
		YesReserve:     400,
		NoReserve:      600,
	}
}

func TestCreateMarketHandler(t *testing.T) {
	stub := &stubMarkets{market: testMarket()}
	mux := newMarketMux(stub)

	body := `{"question":"Will it rain?","end_time":"2026-04-01T00:00:00Z","authority":"0x8Ba1f109551bD432803012645Ac136ddd64DBA72","nonce":7}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint64(7), stub.created.nonce)
	assert.Equal(t, "Will it rain?", stub.created.question)

	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "0xabc", v["id"])
	assert.Equal(t, "open", v["status"])
	// implied price = 600/1000 in bps
	assert.Equal(t, float64(6000), v["implied_yes_bps"])
	// Unresolved markets omit the outcome entirely.
	_, present := v["outcome"]
	assert.False(t, present)
}

func TestCreateMarketHandlerBadBody(t *testing.T) {
	mux := newMarketMux(&stubMarkets{market: testMarket()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(`{"unknown":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"question":"q?","end_time":"tomorrow","authority":"0x00","nonce":1}`
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RFC3339")
}

func TestCreateMarketHandlerDuplicate(t *testing.T) {
	stub := &stubMarkets{err: fmt.Errorf("registry: create: %w", domain.ErrDuplicateMarket)}
	mux := newMarketMux(stub)

	body := `{"question":"q?","end_time":"2026-04-01T00:00:00Z","authority":"0x00","nonce":1}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetMarketHandler(t *testing.T) {
	m := testMarket()
	m.Resolved, m.Outcome = true, true
	stub := &stubMarkets{market: m, pool: domain.LiquidityPool{MarketID: m.ID, TotalLpShares: 1000, LpFees: 5}}
	mux := newMarketMux(stub)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/0xabc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "resolved", v["status"])
	assert.Equal(t, true, v["outcome"])
	assert.Equal(t, float64(1000), v["total_lp_shares"])
	assert.Equal(t, float64(5), v["lp_fees"])
}

func TestGetMarketHandlerNotFound(t *testing.T) {
	stub := &stubMarkets{err: domain.ErrMarketNotFound}
	mux := newMarketMux(stub)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMarketsHandler(t *testing.T) {
	mux := newMarketMux(&stubMarkets{market: testMarket()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var v struct {
		Markets []domain.Market `json:"markets"`
		Total   int64           `json:"total"`
		Limit   int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Len(t, v.Markets, 1)
	assert.Equal(t, int64(1), v.Total)
	assert.Equal(t, 10, v.Limit)
}

func TestListTradesHandler(t *testing.T) {
	stub := &stubMarkets{trades: []domain.TradeRecord{{ID: "t1", Intent: domain.TradeBuyYes}}}
	mux := newMarketMux(stub)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/0xabc/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t1"`)
}
