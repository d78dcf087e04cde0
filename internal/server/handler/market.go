package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/predictd/internal/amm"
	"github.com/openpredict/predictd/internal/domain"
)

// MarketService defines the methods the market handler requires from the
// registry. It is declared locally so the handler package does not depend on
// the concrete implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, question string, endTime time.Time, authority string, nonce uint64) (domain.Market, error)
	GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
}

// TradeHistoryService exposes read access to a market's trade tape.
type TradeHistoryService interface {
	ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	history TradeHistoryService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services.
func NewMarketHandler(markets MarketService, history TradeHistoryService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		history: history,
		logger:  logger,
	}
}

// marketView is the wire representation of one market, including the pool
// state and the price implied by the reserves.
type marketView struct {
	ID             string              `json:"id"`
	Question       string              `json:"question"`
	Authority      string              `json:"authority"`
	Status         domain.MarketStatus `json:"status"`
	Outcome        *bool               `json:"outcome,omitempty"`
	EndTime        time.Time           `json:"end_time"`
	TotalLiquidity uint64              `json:"total_liquidity"`
	YesReserve     uint64              `json:"yes_reserve"`
	NoReserve      uint64              `json:"no_reserve"`
	ImpliedYesBps  uint64              `json:"implied_yes_bps"`
	PlatformFees   uint64              `json:"platform_fees"`
	TotalLpShares  uint64              `json:"total_lp_shares"`
	LpFees         uint64              `json:"lp_fees"`
	CreatedAt      time.Time           `json:"created_at"`
}

func viewOf(snap domain.Snapshot) marketView {
	m := snap.Market
	v := marketView{
		ID:             m.ID,
		Question:       m.Question,
		Authority:      m.Authority,
		Status:         m.Status(),
		EndTime:        m.EndTime,
		TotalLiquidity: m.TotalLiquidity,
		YesReserve:     m.YesReserve,
		NoReserve:      m.NoReserve,
		PlatformFees:   m.PlatformFees,
		TotalLpShares:  snap.Pool.TotalLpShares,
		LpFees:         snap.Pool.LpFees,
		CreatedAt:      m.CreatedAt,
	}
	if m.Resolved {
		outcome := m.Outcome
		v.Outcome = &outcome
	}
	if bps, err := amm.ImpliedYesBps(m.YesReserve, m.NoReserve); err == nil {
		v.ImpliedYesBps = bps
	}
	return v
}

type createMarketRequest struct {
	Question  string `json:"question"`
	EndTime   string `json:"end_time"`
	Authority string `json:"authority"`
	Nonce     uint64 `json:"nonce"`
}

// CreateMarket registers a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339")
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), req.Question, endTime, req.Authority, req.Nonce)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(domain.Snapshot{
		Market: market,
		Pool:   domain.LiquidityPool{MarketID: market.ID},
	}))
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with pagination and an optional status filter.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market with its pool state.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	snap, err := h.markets.GetSnapshot(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, viewOf(snap))
}

// ListTrades returns a market's trade history, newest first.
// GET /api/markets/{id}/trades
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	trades, err := h.history.ListTrades(r.Context(), id, parseListOpts(r))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
