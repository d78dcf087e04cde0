package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// LiquidityService defines the pool operations the handler exposes.
type LiquidityService interface {
	AddLiquidity(ctx context.Context, marketID, provider string, amount uint64) (uint64, error)
	RemoveLiquidity(ctx context.Context, marketID, provider string, lpShares uint64) (uint64, error)
}

// LiquidityHandler serves the add/withdraw liquidity endpoints.
type LiquidityHandler struct {
	pool   LiquidityService
	logger *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler.
func NewLiquidityHandler(pool LiquidityService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{pool: pool, logger: logger}
}

type addLiquidityRequest struct {
	Provider string `json:"provider"`
	Amount   uint64 `json:"amount"`
}

// AddLiquidity deposits base asset into a market's pool in exchange for LP
// shares.
// POST /api/markets/{id}/liquidity
func (h *LiquidityHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req addLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "missing provider")
		return
	}

	lpShares, err := h.pool.AddLiquidity(r.Context(), id, req.Provider, req.Amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: add liquidity failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to add liquidity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"provider":  req.Provider,
		"amount":    req.Amount,
		"lp_shares": lpShares,
	})
}

type withdrawLiquidityRequest struct {
	Provider string `json:"provider"`
	LpShares uint64 `json:"lp_shares"`
}

// WithdrawLiquidity burns LP shares for a proportional slice of the pool
// plus accrued LP fees.
// POST /api/markets/{id}/liquidity/withdraw
func (h *LiquidityHandler) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req withdrawLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "missing provider")
		return
	}

	amount, err := h.pool.RemoveLiquidity(r.Context(), id, req.Provider, req.LpShares)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: withdraw liquidity failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to withdraw liquidity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"provider":  req.Provider,
		"lp_shares": req.LpShares,
		"amount":    amount,
	})
}
