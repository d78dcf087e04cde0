// Package trading executes buys and sells of YES/NO shares against a
// market's pool. Fees come off the top in basis points before anything
// touches the reserves; the curve itself lives in internal/amm.
package trading

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

// Config holds trade-engine parameters. Fee rates are basis points of the
// traded amount and must sum below the bps denominator.
type Config struct {
	PlatformFeeBps uint32
	LpFeeBps       uint32
	LockTTL        time.Duration
}

// Engine applies trade transitions to one market at a time.
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

// TradeShares executes one all-or-nothing trade at whatever price the curve
// yields at execution time. amountIn is base units for buys and shares for
// sells. It returns the executed trade record.
func (e *Engine) TradeShares(ctx context.Context, marketID, trader string, amountIn uint64, intent domain.TradeIntent) (domain.TradeRecord, error) {
	if amountIn == 0 {
		return domain.TradeRecord{}, fmt.Errorf("trading: %w", domain.ErrInvalidAmount)
	}
	if !intent.Valid() {
		return domain.TradeRecord{}, fmt.Errorf("trading: intent %q: %w", intent, domain.ErrInvalidAmount)
	}

	ref := uuid.New().String()

	// Buys require the base asset escrowed before the mutation begins, so no
	// custody I/O happens inside the lease. If the trade is rejected after
	// this point the escrow is refunded under the same reference.
	committed := false
	if intent.Buy() {
		if err := e.custody.Escrow(ctx, domain.TransferIntent{
			MarketID:  marketID,
			Principal: trader,
			Amount:    amountIn,
			Kind:      domain.TransferEscrow,
			Reference: ref,
		}); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("trading: escrow %d for %s: %w", amountIn, trader, err)
		}
		defer func() {
			if committed {
				return
			}
			if relErr := e.custody.Release(ctx, domain.TransferIntent{
				MarketID:  marketID,
				Principal: trader,
				Amount:    amountIn,
				Kind:      domain.TransferRefund,
				Reference: ref,
			}); relErr != nil {
				e.logger.ErrorContext(ctx, "trading: refund failed after rejected trade",
					slog.String("trade_id", ref),
					slog.Uint64("amount", amountIn),
					slog.String("error", relErr.Error()),
				)
			}
		}()
	}

	unlock, err := e.locks.Acquire(ctx, "market:"+marketID, e.cfg.LockTTL)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("trading: lease market %s: %w", marketID, err)
	}
	defer unlock()

	snap, err := e.ledger.GetSnapshot(ctx, marketID)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("trading: snapshot %s: %w", marketID, err)
	}
	m, p := snap.Market, snap.Pool

	now := e.now().UTC()
	if m.Resolved {
		return domain.TradeRecord{}, fmt.Errorf("trading: market %s: %w", marketID, domain.ErrMarketAlreadyResolved)
	}
	if !now.Before(m.EndTime) {
		return domain.TradeRecord{}, fmt.Errorf("trading: market %s ended: %w", marketID, domain.ErrInvalidEndTime)
	}

	acct, err := e.ledger.GetShareAccount(ctx, marketID, trader)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("trading: share account %s: %w", trader, err)
	}
	acct.MarketID, acct.Owner = marketID, trader

	rec := domain.TradeRecord{
		ID:         ref,
		MarketID:   marketID,
		Trader:     trader,
		Intent:     intent,
		AmountIn:   amountIn,
		ExecutedAt: now,
	}

	var release uint64
	if intent.Buy() {
		if err := e.applyBuy(&m, &p, &acct, &rec); err != nil {
			return domain.TradeRecord{}, err
		}
	} else {
		if err := e.applySell(&m, &p, &acct, &rec); err != nil {
			return domain.TradeRecord{}, err
		}
		release = rec.AmountOut
	}

	acct.UpdatedAt = now
	m.TotalLiquidity = p.TotalLiquidity
	m.UpdatedAt = now

	if err := e.ledger.CommitTrade(ctx, domain.TradeCommit{
		Market:  m,
		Pool:    p,
		Account: acct,
		Trade:   rec,
	}); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("trading: commit %s: %w", marketID, err)
	}
	committed = true

	if release > 0 {
		if relErr := e.custody.Release(ctx, domain.TransferIntent{
			MarketID:  marketID,
			Principal: trader,
			Amount:    release,
			Kind:      domain.TransferRelease,
			Reference: ref,
		}); relErr != nil {
			e.logger.ErrorContext(ctx, "trading: release failed after commit",
				slog.String("trade_id", ref),
				slog.Uint64("amount", release),
				slog.String("error", relErr.Error()),
			)
		}
	}

	e.afterCommit(ctx, m, rec)

	return rec, nil
}

// applyBuy deducts fees from the base amount and moves the net along the
// curve; the trader receives the freed shares.
func (e *Engine) applyBuy(m *domain.Market, p *domain.LiquidityPool, acct *domain.ShareAccount, rec *domain.TradeRecord) error {
	platformFee, lpFee, net, err := e.splitFees(rec.AmountIn)
	if err != nil {
		return fmt.Errorf("trading: fees: %w", err)
	}
	if net == 0 {
		return fmt.Errorf("trading: amount consumed by fees: %w", domain.ErrInvalidAmount)
	}

	q, err := amm.BuyQuote(m.YesReserve, m.NoReserve, net, rec.Intent.Yes())
	if err != nil {
		return fmt.Errorf("trading: buy quote: %w", err)
	}

	if rec.Intent.Yes() {
		if acct.YesShares, err = ledger.Add(acct.YesShares, q.AmountOut); err != nil {
			return fmt.Errorf("trading: credit yes shares: %w", err)
		}
	} else {
		if acct.NoShares, err = ledger.Add(acct.NoShares, q.AmountOut); err != nil {
			return fmt.Errorf("trading: credit no shares: %w", err)
		}
	}

	if p.TotalLiquidity, err = ledger.Add(p.TotalLiquidity, net); err != nil {
		return fmt.Errorf("trading: grow liquidity: %w", err)
	}
	if m.PlatformFees, err = ledger.Add(m.PlatformFees, platformFee); err != nil {
		return fmt.Errorf("trading: accrue platform fee: %w", err)
	}
	if p.LpFees, err = ledger.Add(p.LpFees, lpFee); err != nil {
		return fmt.Errorf("trading: accrue lp fee: %w", err)
	}

	m.YesReserve, m.NoReserve = q.YesReserve, q.NoReserve
	rec.AmountOut = q.AmountOut
	rec.PlatformFee, rec.LpFee = platformFee, lpFee
	return nil
}

// applySell debits the shares, prices the inverse move, and nets fees out of
// the gross proceeds. The pool's base liquidity caps the payout.
func (e *Engine) applySell(m *domain.Market, p *domain.LiquidityPool, acct *domain.ShareAccount, rec *domain.TradeRecord) error {
	held := acct.NoShares
	if rec.Intent.Yes() {
		held = acct.YesShares
	}
	if rec.AmountIn > held {
		return fmt.Errorf("trading: sell %d of %d held: %w", rec.AmountIn, held, domain.ErrInsufficientFunds)
	}

	q, err := amm.SellQuote(m.YesReserve, m.NoReserve, rec.AmountIn, p.TotalLiquidity, rec.Intent.Yes())
	if err != nil {
		return fmt.Errorf("trading: sell quote: %w", err)
	}
	if q.AmountOut == 0 {
		return fmt.Errorf("trading: sell yields nothing: %w", domain.ErrInsufficientLiquidity)
	}

	platformFee, lpFee, net, err := e.splitFees(q.AmountOut)
	if err != nil {
		return fmt.Errorf("trading: fees: %w", err)
	}

	if rec.Intent.Yes() {
		acct.YesShares -= rec.AmountIn
	} else {
		acct.NoShares -= rec.AmountIn
	}

	if p.TotalLiquidity, err = ledger.Sub(p.TotalLiquidity, q.AmountOut); err != nil {
		return fmt.Errorf("trading: shrink liquidity: %w", err)
	}
	if m.PlatformFees, err = ledger.Add(m.PlatformFees, platformFee); err != nil {
		return fmt.Errorf("trading: accrue platform fee: %w", err)
	}
	if p.LpFees, err = ledger.Add(p.LpFees, lpFee); err != nil {
		return fmt.Errorf("trading: accrue lp fee: %w", err)
	}

	m.YesReserve, m.NoReserve = q.YesReserve, q.NoReserve
	rec.AmountOut = net
	rec.PlatformFee, rec.LpFee = platformFee, lpFee
	return nil
}

// splitFees returns the platform fee, LP fee, and remaining net for a gross
// amount.
func (e *Engine) splitFees(gross uint64) (platformFee, lpFee, net uint64, err error) {
	platformFee, err = ledger.FeeBps(gross, e.cfg.PlatformFeeBps)
	if err != nil {
		return 0, 0, 0, err
	}
	lpFee, err = ledger.FeeBps(gross, e.cfg.LpFeeBps)
	if err != nil {
		return 0, 0, 0, err
	}
	net = gross - platformFee - lpFee
	return platformFee, lpFee, net, nil
}

// afterCommit invalidates the cache, publishes to the bus, appends the trade
// to the durable stream, and writes the audit row. All non-fatal.
func (e *Engine) afterCommit(ctx context.Context, m domain.Market, rec domain.TradeRecord) {
	if err := e.cache.Invalidate(ctx, m.ID); err != nil {
		e.logger.WarnContext(ctx, "trading: cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	payload, _ := json.Marshal(map[string]any{
		"event":      "trade_executed",
		"trade_id":   rec.ID,
		"market":     rec.MarketID,
		"trader":     rec.Trader,
		"intent":     string(rec.Intent),
		"amount_in":  rec.AmountIn,
		"amount_out": rec.AmountOut,
	})
	if err := e.bus.Publish(ctx, "trades", payload); err != nil {
		e.logger.WarnContext(ctx, "trading: publish event failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, "stream:trades", payload); err != nil {
		e.logger.WarnContext(ctx, "trading: stream append failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := e.audit.Log(ctx, "trade_executed", map[string]any{
		"trade_id":     rec.ID,
		"market":       rec.MarketID,
		"trader":       rec.Trader,
		"intent":       string(rec.Intent),
		"amount_in":    rec.AmountIn,
		"amount_out":   rec.AmountOut,
		"platform_fee": rec.PlatformFee,
		"lp_fee":       rec.LpFee,
	}); err != nil {
		e.logger.WarnContext(ctx, "trading: audit log failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "trading: trade executed",
		slog.String("trade_id", rec.ID),
		slog.String("market_id", m.ID),
		slog.String("intent", string(rec.Intent)),
		slog.Uint64("amount_in", rec.AmountIn),
		slog.Uint64("amount_out", rec.AmountOut),
	)
}
