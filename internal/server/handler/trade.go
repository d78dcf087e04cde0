package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/predictd/internal/domain"
)

// TradeService defines the trade operation the handler exposes.
type TradeService interface {
	TradeShares(ctx context.Context, marketID, trader string, amountIn uint64, intent domain.TradeIntent) (domain.TradeRecord, error)
}

// TradeHandler serves the trade execution endpoint.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeRequest struct {
	Trader    string `json:"trader"`
	Side      string `json:"side"`      // "yes" or "no"
	Direction string `json:"direction"` // "buy" or "sell"
	AmountIn  uint64 `json:"amount_in"` // base units on buys, shares on sells
}

// Trade executes a buy or sell against the market's pool.
// POST /api/markets/{id}/trades
func (h *TradeHandler) Trade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Trader == "" {
		writeError(w, http.StatusBadRequest, "missing trader")
		return
	}

	intent, err := domain.ParseTradeIntent(req.Side, req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "side must be yes/no and direction buy/sell")
		return
	}

	rec, err := h.trades.TradeShares(r.Context(), id, req.Trader, req.AmountIn, intent)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: trade failed",
			slog.String("market_id", id),
			slog.String("trader", req.Trader),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to execute trade")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
