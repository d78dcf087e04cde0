// Package settlement owns the one-way Open -> Resolved transition and the
// post-resolution redemption path. Resolution is authority-gated; redemption
// pays winning shares 1:1 in base units, capped by the market's remaining
// liquidity, and is idempotent so crashed callers can safely retry.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/predictd/internal/domain"
	"github.com/openpredict/predictd/internal/ledger"
)

// Config holds engine parameters.
type Config struct {
	LockTTL time.Duration
}

// Engine resolves markets and authorises redemptions.
type Engine struct {
	ledger  domain.LedgerStore
	locks   domain.LockManager
	custody domain.AssetCustody
	cache   domain.MarketCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	cfg     Config
	logger  *slog.Logger

	now func() time.Time
}

// New creates an Engine with all required dependencies.
func New(
	ledgerStore domain.LedgerStore,
	locks domain.LockManager,
	custody domain.AssetCustody,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:  ledgerStore,
		locks:   locks,
		custody: custody,
		cache:   cache,
		bus:     bus,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// ResolveMarket fixes the market's outcome. Only the market authority may
// call it, only at or after the end time, and only once.
func (e *Engine) ResolveMarket(ctx context.Context, marketID, caller string, outcome bool) (domain.Market, error) {
	unlock, err := e.locks.Acquire(ctx, "market:"+marketID, e.cfg.LockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: lease market %s: %w", marketID, err)
	}
	defer unlock()

	m, err := e.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: get market %s: %w", marketID, err)
	}

	if m.Resolved {
		return domain.Market{}, fmt.Errorf("settlement: resolve %s: %w", marketID, domain.ErrMarketAlreadyResolved)
	}
	if caller != m.Authority {
		return domain.Market{}, fmt.Errorf("settlement: caller %s is not the authority: %w", caller, domain.ErrUnauthorized)
	}
	now := e.now().UTC()
	if now.Before(m.EndTime) {
		return domain.Market{}, fmt.Errorf("settlement: resolve %s before end time: %w", marketID, domain.ErrInvalidEndTime)
	}

	m.Resolved = true
	m.Outcome = outcome
	m.UpdatedAt = now

	if err := e.ledger.CommitResolution(ctx, domain.ResolutionCommit{
		Market:     m,
		ResolvedAt: now,
	}); err != nil {
		return domain.Market{}, fmt.Errorf("settlement: commit resolution %s: %w", marketID, err)
	}

	e.invalidate(ctx, marketID)
	e.publish(ctx, "resolutions", map[string]any{
		"event":   "market_resolved",
		"market":  marketID,
		"outcome": outcome,
	})
	e.auditLog(ctx, "market_resolved", map[string]any{
		"market":  marketID,
		"caller":  caller,
		"outcome": outcome,
	})

	e.logger.InfoContext(ctx, "settlement: market resolved",
		slog.String("market_id", marketID),
		slog.Bool("outcome", outcome),
	)

	return m, nil
}

// Redeem converts the holder's winning shares into a base-asset payout at a
// fixed 1:1 rate, capped by the market's remaining liquidity. Losing shares
// redeem at zero. Both balances zero out; a retry on an already-zero account
// returns a zero payout instead of an error.
func (e *Engine) Redeem(ctx context.Context, marketID, holder string) (uint64, error) {
	unlock, err := e.locks.Acquire(ctx, "market:"+marketID, e.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("settlement: lease market %s: %w", marketID, err)
	}
	defer unlock()

	snap, err := e.ledger.GetSnapshot(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("settlement: snapshot %s: %w", marketID, err)
	}
	m, p := snap.Market, snap.Pool

	if !m.Resolved {
		return 0, fmt.Errorf("settlement: redeem on open market %s: %w", marketID, domain.ErrMarketNotResolved)
	}

	acct, err := e.ledger.GetShareAccount(ctx, marketID, holder)
	if err != nil {
		return 0, fmt.Errorf("settlement: share account %s: %w", holder, err)
	}

	winning := acct.WinningShares(m.Outcome)
	payout := winning
	if payout > m.TotalLiquidity {
		payout = m.TotalLiquidity
	}

	if winning == 0 && acct.YesShares == 0 && acct.NoShares == 0 {
		// Idempotent retry: nothing to debit, nothing to pay.
		return 0, nil
	}

	now := e.now().UTC()
	if p.TotalLiquidity, err = ledger.Sub(p.TotalLiquidity, payout); err != nil {
		return 0, fmt.Errorf("settlement: shrink liquidity: %w", err)
	}
	m.TotalLiquidity = p.TotalLiquidity
	m.UpdatedAt = now

	acct.MarketID, acct.Owner = marketID, holder
	acct.YesShares, acct.NoShares = 0, 0
	acct.UpdatedAt = now

	red := domain.RedemptionRecord{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		Holder:     holder,
		Shares:     winning,
		Payout:     payout,
		RedeemedAt: now,
	}

	if err := e.ledger.CommitRedemption(ctx, domain.RedemptionCommit{
		Market:     m,
		Pool:       p,
		Account:    acct,
		Redemption: red,
	}); err != nil {
		return 0, fmt.Errorf("settlement: commit redemption %s: %w", marketID, err)
	}

	if payout > 0 {
		if relErr := e.custody.Release(ctx, domain.TransferIntent{
			MarketID:  marketID,
			Principal: holder,
			Amount:    payout,
			Kind:      domain.TransferRelease,
			Reference: red.ID,
		}); relErr != nil {
			e.logger.ErrorContext(ctx, "settlement: release failed after commit",
				slog.String("redemption_id", red.ID),
				slog.Uint64("payout", payout),
				slog.String("error", relErr.Error()),
			)
		}
	}

	e.invalidate(ctx, marketID)
	e.publish(ctx, "redemptions", map[string]any{
		"event":  "shares_redeemed",
		"market": marketID,
		"holder": holder,
		"shares": winning,
		"payout": payout,
	})
	e.auditLog(ctx, "shares_redeemed", map[string]any{
		"redemption_id": red.ID,
		"market":        marketID,
		"holder":        holder,
		"shares":        winning,
		"payout":        payout,
	})

	e.logger.InfoContext(ctx, "settlement: shares redeemed",
		slog.String("market_id", marketID),
		slog.String("holder", holder),
		slog.Uint64("payout", payout),
	)

	return payout, nil
}

func (e *Engine) invalidate(ctx context.Context, marketID string) {
	if err := e.cache.Invalidate(ctx, marketID); err != nil {
		e.logger.WarnContext(ctx, "settlement: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, channel string, event map[string]any) {
	payload, _ := json.Marshal(event)
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "settlement: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "settlement: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
