package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/predictd/internal/domain"
)

// AccountService exposes read access to share accounts and LP balances.
type AccountService interface {
	GetShareAccount(ctx context.Context, marketID, owner string) (domain.ShareAccount, error)
	GetLpBalance(ctx context.Context, marketID, provider string) (domain.LpBalance, error)
}

// AccountHandler serves per-owner balance lookups.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// GetAccount returns an owner's share and LP balances in one market. An
// owner who never traded gets zero balances, not a 404.
// GET /api/markets/{id}/accounts/{owner}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	owner := pathParam(r, "owner")
	if id == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "missing market id or owner")
		return
	}

	acct, err := h.accounts.GetShareAccount(r.Context(), id, owner)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get share account failed",
			slog.String("market_id", id),
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	lp, err := h.accounts.GetLpBalance(r.Context(), id, owner)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get lp balance failed",
			slog.String("market_id", id),
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id,
		"owner":      owner,
		"yes_shares": acct.YesShares,
		"no_shares":  acct.NoShares,
		"lp_shares":  lp.LpShares,
	})
}
