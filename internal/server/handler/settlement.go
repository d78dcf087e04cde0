package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/predictd/internal/domain"
)

// SettlementService defines the resolution and redemption operations.
type SettlementService interface {
	ResolveMarket(ctx context.Context, marketID, caller string, outcome bool) (domain.Market, error)
	Redeem(ctx context.Context, marketID, holder string) (uint64, error)
}

// SettlementHandler serves the resolve and redeem endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlement: settlement, logger: logger}
}

type resolveRequest struct {
	Caller  string `json:"caller"`
	Outcome bool   `json:"outcome"` // true = YES wins
}

// Resolve fixes a market's outcome. Only the market's authority may call it.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller")
		return
	}

	market, err := h.settlement.ResolveMarket(r.Context(), id, req.Caller, req.Outcome)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: resolve failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve market")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": market.ID,
		"resolved":  market.Resolved,
		"outcome":   market.Outcome,
	})
}

type redeemRequest struct {
	Holder string `json:"holder"`
}

// Redeem pays out a holder's winning shares. Safe to retry; a second call
// pays zero.
// POST /api/markets/{id}/redeem
func (h *SettlementHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Holder == "" {
		writeError(w, http.StatusBadRequest, "missing holder")
		return
	}

	payout, err := h.settlement.Redeem(r.Context(), id, req.Holder)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: redeem failed",
			slog.String("market_id", id),
			slog.String("holder", req.Holder),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to redeem")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"holder":    req.Holder,
		"payout":    payout,
	})
}
