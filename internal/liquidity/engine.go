// Package liquidity owns pool-reserve mutation: deposits that mint LP shares
// and withdrawals that burn them. Pricing of LP shares always rounds in the
// pool's favour so rounding can never be farmed to drain reserves.
package liquidity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/predictd/internal/amm"
	"github.com/openpredict/predictd/internal/domain"
	"github.com/openpredict/predictd/internal/ledger"
)

// Config holds engine parameters.
type Config struct {
	LockTTL time.Duration
}

// Engine applies add/remove-liquidity transitions.
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

// AddLiquidity deposits amount base units into the market's pool and mints LP
// shares. The custodian must have escrowed the amount before the ledger
// mutation begins; the escrow intent is confirmed first, outside the lease.
func (e *Engine) AddLiquidity(ctx context.Context, marketID, provider string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("liquidity: add: %w", domain.ErrInvalidAmount)
	}

	ref := uuid.New().String()
	if err := e.custody.Escrow(ctx, domain.TransferIntent{
		MarketID:  marketID,
		Principal: provider,
		Amount:    amount,
		Kind:      domain.TransferEscrow,
		Reference: ref,
	}); err != nil {
		return 0, fmt.Errorf("liquidity: escrow %d for %s: %w", amount, provider, err)
	}

	// A deposit rejected after the escrow confirms refunds under the same
	// reference so the custodian and ledger stay in step.
	committed := false
	defer func() {
		if committed {
			return
		}
		if relErr := e.custody.Release(ctx, domain.TransferIntent{
			MarketID:  marketID,
			Principal: provider,
			Amount:    amount,
			Kind:      domain.TransferRefund,
			Reference: ref,
		}); relErr != nil {
			e.logger.ErrorContext(ctx, "liquidity: refund failed after rejected deposit",
				slog.String("market_id", marketID),
				slog.String("provider", provider),
				slog.Uint64("amount", amount),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	unlock, err := e.locks.Acquire(ctx, "market:"+marketID, e.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("liquidity: lease market %s: %w", marketID, err)
	}
	defer unlock()

	snap, err := e.ledger.GetSnapshot(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("liquidity: snapshot %s: %w", marketID, err)
	}
	m, p := snap.Market, snap.Pool

	if m.Resolved {
		return 0, fmt.Errorf("liquidity: add to %s: %w", marketID, domain.ErrMarketAlreadyResolved)
	}

	// Bootstrap mints 1:1; later deposits mint pro rata, rounded down so
	// earlier providers are never diluted.
	lpShares := amount
	if p.TotalLpShares > 0 {
		lpShares, err = ledger.MulDiv(amount, p.TotalLpShares, p.TotalLiquidity)
		if err != nil {
			return 0, fmt.Errorf("liquidity: price lp shares: %w", err)
		}
		if lpShares == 0 {
			return 0, fmt.Errorf("liquidity: deposit too small: %w", domain.ErrInvalidAmount)
		}
	}

	dYes, dNo, err := amm.SplitDeposit(m.YesReserve, m.NoReserve, amount)
	if err != nil {
		return 0, fmt.Errorf("liquidity: split deposit: %w", err)
	}

	if m.YesReserve, err = ledger.Add(m.YesReserve, dYes); err != nil {
		return 0, fmt.Errorf("liquidity: grow yes reserve: %w", err)
	}
	if m.NoReserve, err = ledger.Add(m.NoReserve, dNo); err != nil {
		return 0, fmt.Errorf("liquidity: grow no reserve: %w", err)
	}
	if p.TotalLiquidity, err = ledger.Add(p.TotalLiquidity, amount); err != nil {
		return 0, fmt.Errorf("liquidity: grow liquidity: %w", err)
	}
	if p.TotalLpShares, err = ledger.Add(p.TotalLpShares, lpShares); err != nil {
		return 0, fmt.Errorf("liquidity: grow lp supply: %w", err)
	}

	bal, err := e.ledger.GetLpBalance(ctx, marketID, provider)
	if err != nil {
		return 0, fmt.Errorf("liquidity: lp balance %s: %w", provider, err)
	}
	if bal.LpShares, err = ledger.Add(bal.LpShares, lpShares); err != nil {
		return 0, fmt.Errorf("liquidity: grow lp balance: %w", err)
	}
	bal.MarketID, bal.Provider = marketID, provider

	now := e.now().UTC()
	m.TotalLiquidity = p.TotalLiquidity
	m.UpdatedAt = now

	if err := e.ledger.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market:     m,
		Pool:       p,
		Balance:    bal,
		Amount:     amount,
		OccurredAt: now,
	}); err != nil {
		return 0, fmt.Errorf("liquidity: commit add %s: %w", marketID, err)
	}
	committed = true

	e.afterCommit(ctx, "liquidity_added", m, map[string]any{
		"market":    marketID,
		"provider":  provider,
		"amount":    amount,
		"lp_shares": lpShares,
		"reference": ref,
	})

	return lpShares, nil
}

// RemoveLiquidity burns lpShares and returns the provider's pro-rata slice of
// the pool plus accrued LP fees, both rounded down. The release intent is
// handed to the custodian after the commit.
func (e *Engine) RemoveLiquidity(ctx context.Context, marketID, provider string, lpShares uint64) (uint64, error) {
	if lpShares == 0 {
		return 0, fmt.Errorf("liquidity: remove: %w", domain.ErrInvalidAmount)
	}

	unlock, err := e.locks.Acquire(ctx, "market:"+marketID, e.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("liquidity: lease market %s: %w", marketID, err)
	}
	defer unlock()

	snap, err := e.ledger.GetSnapshot(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("liquidity: snapshot %s: %w", marketID, err)
	}
	m, p := snap.Market, snap.Pool

	if m.Resolved {
		return 0, fmt.Errorf("liquidity: remove from %s: %w", marketID, domain.ErrMarketAlreadyResolved)
	}

	bal, err := e.ledger.GetLpBalance(ctx, marketID, provider)
	if err != nil {
		return 0, fmt.Errorf("liquidity: lp balance %s: %w", provider, err)
	}
	if lpShares > bal.LpShares || lpShares > p.TotalLpShares {
		return 0, fmt.Errorf("liquidity: burn %d of %d held: %w", lpShares, bal.LpShares, domain.ErrInsufficientLiquidity)
	}

	amount, err := ledger.MulDiv(p.TotalLiquidity, lpShares, p.TotalLpShares)
	if err != nil {
		return 0, fmt.Errorf("liquidity: price withdrawal: %w", err)
	}
	feeShare, err := ledger.MulDiv(p.LpFees, lpShares, p.TotalLpShares)
	if err != nil {
		return 0, fmt.Errorf("liquidity: price fee share: %w", err)
	}

	dYes, dNo, err := amm.ScaleDown(m.YesReserve, m.NoReserve, lpShares, p.TotalLpShares)
	if err != nil {
		return 0, fmt.Errorf("liquidity: scale reserves: %w", err)
	}

	if m.YesReserve, err = ledger.Sub(m.YesReserve, dYes); err != nil {
		return 0, fmt.Errorf("liquidity: shrink yes reserve: %w", err)
	}
	if m.NoReserve, err = ledger.Sub(m.NoReserve, dNo); err != nil {
		return 0, fmt.Errorf("liquidity: shrink no reserve: %w", err)
	}
	if p.TotalLiquidity, err = ledger.Sub(p.TotalLiquidity, amount); err != nil {
		return 0, fmt.Errorf("liquidity: shrink liquidity: %w", err)
	}
	if p.LpFees, err = ledger.Sub(p.LpFees, feeShare); err != nil {
		return 0, fmt.Errorf("liquidity: shrink fee pot: %w", err)
	}
	p.TotalLpShares -= lpShares
	bal.LpShares -= lpShares
	bal.MarketID, bal.Provider = marketID, provider

	returned, err := ledger.Add(amount, feeShare)
	if err != nil {
		return 0, fmt.Errorf("liquidity: total return: %w", err)
	}

	now := e.now().UTC()
	m.TotalLiquidity = p.TotalLiquidity
	m.UpdatedAt = now

	ref := uuid.New().String()
	if err := e.ledger.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market:     m,
		Pool:       p,
		Balance:    bal,
		Withdraw:   true,
		Amount:     returned,
		OccurredAt: now,
	}); err != nil {
		return 0, fmt.Errorf("liquidity: commit remove %s: %w", marketID, err)
	}

	if relErr := e.custody.Release(ctx, domain.TransferIntent{
		MarketID:  marketID,
		Principal: provider,
		Amount:    returned,
		Kind:      domain.TransferRelease,
		Reference: ref,
	}); relErr != nil {
		// The ledger commit stands; the custodian retries the release from
		// the recorded intent.
		e.logger.ErrorContext(ctx, "liquidity: release failed after commit",
			slog.String("market_id", marketID),
			slog.String("provider", provider),
			slog.Uint64("amount", returned),
			slog.String("error", relErr.Error()),
		)
	}

	e.afterCommit(ctx, "liquidity_removed", m, map[string]any{
		"market":    marketID,
		"provider":  provider,
		"lp_shares": lpShares,
		"returned":  returned,
		"reference": ref,
	})

	return returned, nil
}

// afterCommit invalidates the market cache, publishes the event, and writes
// the audit row. All three are non-fatal.
func (e *Engine) afterCommit(ctx context.Context, event string, m domain.Market, detail map[string]any) {
	if err := e.cache.Invalidate(ctx, m.ID); err != nil {
		e.logger.WarnContext(ctx, "liquidity: cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	payload, _ := json.Marshal(mergeEvent(event, detail))
	if err := e.bus.Publish(ctx, "liquidity", payload); err != nil {
		e.logger.WarnContext(ctx, "liquidity: publish event failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "liquidity: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "liquidity: "+event,
		slog.String("market_id", m.ID),
		slog.Uint64("total_liquidity", m.TotalLiquidity),
	)
}

func mergeEvent(event string, detail map[string]any) map[string]any {
	out := make(map[string]any, len(detail)+1)
	out["event"] = event
	for k, v := range detail {
		out[k] = v
	}
	return out
}
