// Package registry allocates market identities and serves market reads. It is
// the only component that creates Market records; every other engine mutates
// an existing market through the ledger store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openpredict/predictd/internal/domain"
)

// Config bounds market creation.
type Config struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	MaxQuestionLen int
}

// Registry creates and indexes markets.
type Registry struct {
	ledger domain.LedgerStore
	cache  domain.MarketCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	cfg    Config
	logger *slog.Logger

	// now is the clock; tests override it.
	now func() time.Time
}

// New creates a Registry with all required dependencies.
func New(
	ledger domain.LedgerStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		ledger: ledger,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CreateMarket allocates a new market with an empty pool. The identity is
// derived from (question, nonce), so resubmitting the same pair fails with
// domain.ErrDuplicateMarket rather than allocating twice.
func (r *Registry) CreateMarket(ctx context.Context, question string, endTime time.Time, authority string, nonce uint64) (domain.Market, error) {
	if question == "" || len(question) > r.cfg.MaxQuestionLen {
		return domain.Market{}, fmt.Errorf("registry: question length %d: %w", len(question), domain.ErrInvalidAmount)
	}
	if !common.IsHexAddress(authority) {
		return domain.Market{}, fmt.Errorf("registry: authority %q: %w", authority, domain.ErrUnauthorized)
	}

	now := r.now().UTC()
	if endTime.Before(now.Add(r.cfg.MinDuration)) || endTime.After(now.Add(r.cfg.MaxDuration)) {
		return domain.Market{}, fmt.Errorf("registry: end time %s outside [%s, %s]: %w",
			endTime.Format(time.RFC3339), r.cfg.MinDuration, r.cfg.MaxDuration, domain.ErrInvalidEndTime)
	}

	m := domain.Market{
		ID:        domain.DeriveMarketID(question, nonce),
		Question:  question,
		Nonce:     nonce,
		Authority: common.HexToAddress(authority).Hex(),
		EndTime:   endTime.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	p := domain.LiquidityPool{MarketID: m.ID}

	if err := r.ledger.CreateMarket(ctx, m, p); err != nil {
		return domain.Market{}, fmt.Errorf("registry: create market %s: %w", m.ID, err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":    "market_created",
		"market":   m.ID,
		"question": m.Question,
		"end_time": m.EndTime.Unix(),
	})
	if pubErr := r.bus.Publish(ctx, "markets", evt); pubErr != nil {
		r.logger.WarnContext(ctx, "registry: publish event failed",
			slog.String("market_id", m.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := r.audit.Log(ctx, "market_created", map[string]any{
		"market":    m.ID,
		"question":  m.Question,
		"authority": m.Authority,
		"end_time":  m.EndTime.Unix(),
		"nonce":     m.Nonce,
	}); auditErr != nil {
		r.logger.WarnContext(ctx, "registry: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	r.logger.InfoContext(ctx, "registry: market created",
		slog.String("market_id", m.ID),
		slog.String("authority", m.Authority),
		slog.Int64("end_time", m.EndTime.Unix()),
	)

	return m, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the ledger store on a miss.
func (r *Registry) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := r.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = r.ledger.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: get market %q: %w", id, err)
	}

	if cacheErr := r.cache.Set(ctx, m); cacheErr != nil {
		r.logger.WarnContext(ctx, "registry: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// GetSnapshot returns the consistent market+pool pair straight from the
// ledger store (never the cache; the pool is not cached).
func (r *Registry) GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	snap, err := r.ledger.GetSnapshot(ctx, id)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("registry: get snapshot %q: %w", id, err)
	}
	return snap, nil
}

// ListMarkets returns markets from the ledger store with pagination.
func (r *Registry) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := r.ledger.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("registry: list markets: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	count, err := r.ledger.CountMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: count markets: %w", err)
	}
	return count, nil
}

// Stats returns platform-wide counters for the status endpoint.
func (r *Registry) Stats(ctx context.Context) (domain.Stats, error) {
	stats, err := r.ledger.Stats(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("registry: stats: %w", err)
	}
	return stats, nil
}
