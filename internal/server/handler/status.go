package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/predictd/internal/domain"
)

// StatusService defines what the status handler needs from the registry.
type StatusService interface {
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

// StatusHandler serves platform-wide counters for dashboards.
type StatusHandler struct {
	Mode     string
	registry StatusService
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler with the given mode and registry.
func NewStatusHandler(mode string, registry StatusService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{Mode: mode, registry: registry, logger: logger}
}

// GetStatus responds with the deployment mode and platform totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	total, err := h.registry.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.Mode,
		"total_markets":    total,
		"open_markets":     stats.OpenMarkets,
		"resolved_markets": stats.ResolvedMarkets,
		"platform_fees":    stats.PlatformFees,
		"total_liquidity":  stats.TotalLiquidity,
	})
}
