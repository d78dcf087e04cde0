package trading

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/predictd/internal/custody"
	"github.com/openpredict/predictd/internal/domain"
	"github.com/openpredict/predictd/internal/lock"
	"github.com/openpredict/predictd/internal/store/memory"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	ledger  *memory.LedgerStore
	custody *custody.Recorder
	market  domain.Market
}

// newFixture seeds a market whose pool holds 1000 base units split 500/500,
// with 1% platform and 1% LP fees.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	ledgerStore := memory.NewLedgerStore()
	recorder := custody.NewRecorder(logger)
	ctx := context.Background()

	m := domain.Market{
		ID:             domain.DeriveMarketID("trading test?", 1),
		Question:       "trading test?",
		Authority:      "0x8Ba1f109551bD432803012645Ac136ddd64DBA72",
		EndTime:        testClock.Add(24 * time.Hour),
		TotalLiquidity: 1000,
		YesReserve:     500,
		NoReserve:      500,
		CreatedAt:      testClock,
		UpdatedAt:      testClock,
	}
	p := domain.LiquidityPool{MarketID: m.ID, TotalLpShares: 1000, TotalLiquidity: 1000}
	require.NoError(t, ledgerStore.CreateMarket(ctx, domain.Market{ID: m.ID}, domain.LiquidityPool{MarketID: m.ID}))
	require.NoError(t, ledgerStore.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market:     m,
		Pool:       p,
		Balance:    domain.LpBalance{MarketID: m.ID, Provider: "lp", LpShares: 1000},
		Amount:     1000,
		OccurredAt: testClock,
	}))
	require.NoError(t, recorder.Escrow(ctx, domain.TransferIntent{
		MarketID: m.ID,
		Amount:   1000,
		Kind:     domain.TransferEscrow,
	}))

	e := New(
		ledgerStore,
		lock.NewLocal(),
		recorder,
		memory.NewCache(),
		memory.NewBus(),
		memory.NewAuditStore(),
		Config{PlatformFeeBps: 100, LpFeeBps: 100, LockTTL: 10 * time.Second},
		logger,
	)
	e.now = func() time.Time { return testClock }

	return &fixture{engine: e, ledger: ledgerStore, custody: recorder, market: m}
}

func (f *fixture) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := f.ledger.GetSnapshot(context.Background(), f.market.ID)
	require.NoError(t, err)
	return snap
}

func TestBuyYes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 1000 in, 10+10 fees, 980 net. NO grows to 1480, YES drops to
	// ceil(250000/1480) = 169, freeing 1311 shares.
	rec, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 1000, domain.TradeBuyYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(1311), rec.AmountOut)
	assert.Equal(t, uint64(10), rec.PlatformFee)
	assert.Equal(t, uint64(10), rec.LpFee)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(169), snap.Market.YesReserve)
	assert.Equal(t, uint64(1480), snap.Market.NoReserve)
	assert.Equal(t, uint64(1980), snap.Market.TotalLiquidity)
	assert.Equal(t, uint64(1980), snap.Pool.TotalLiquidity)
	assert.Equal(t, uint64(10), snap.Market.PlatformFees)
	assert.Equal(t, uint64(10), snap.Pool.LpFees)

	acct, err := f.ledger.GetShareAccount(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1311), acct.YesShares)
	assert.Zero(t, acct.NoShares)

	trades, err := f.ledger.ListTrades(ctx, f.market.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeBuyYes, trades[0].Intent)
}

func TestSellAfterBuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 1000, domain.TradeBuyYes)
	require.NoError(t, err)

	// Selling all 1311 shares back yields 979 gross; 9+9 fees leave 961.
	sell, err := f.engine.TradeShares(ctx, f.market.ID, "alice", buy.AmountOut, domain.TradeSellYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(961), sell.AmountOut)
	assert.Equal(t, uint64(9), sell.PlatformFee)
	assert.Equal(t, uint64(9), sell.LpFee)

	// The round trip never profits the trader.
	assert.Less(t, sell.AmountOut, buy.AmountIn)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(501), snap.Market.YesReserve)
	assert.Equal(t, uint64(501), snap.Market.NoReserve)
	// Gross proceeds leave the pool; the trader nets proceeds minus fees.
	assert.Equal(t, uint64(1001), snap.Pool.TotalLiquidity)
	assert.Equal(t, uint64(19), snap.Market.PlatformFees)
	assert.Equal(t, uint64(19), snap.Pool.LpFees)

	acct, err := f.ledger.GetShareAccount(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, acct.YesShares)

	// Escrow: 1000 pool + 1000 buy - 961 released on the sell.
	assert.Equal(t, uint64(1039), f.custody.Escrowed(f.market.ID))
}

func TestBuyNo(t *testing.T) {
	f := newFixture(t)

	rec, err := f.engine.TradeShares(context.Background(), f.market.ID, "bob", 1000, domain.TradeBuyNo)
	require.NoError(t, err)
	assert.Equal(t, uint64(1311), rec.AmountOut)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(1480), snap.Market.YesReserve)
	assert.Equal(t, uint64(169), snap.Market.NoReserve)
}

func TestTradeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 0, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.TradeShares(ctx, f.market.ID, "alice", 100, domain.TradeIntent("hold_yes"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.TradeShares(ctx, "missing", "alice", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestSellUnheldShares(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.TradeShares(context.Background(), f.market.ID, "alice", 10, domain.TradeSellYes)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestTradeAfterEndTime(t *testing.T) {
	f := newFixture(t)
	f.engine.now = func() time.Time { return f.market.EndTime }

	_, err := f.engine.TradeShares(context.Background(), f.market.ID, "alice", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)
}

func TestRejectedBuyRefundsEscrow(t *testing.T) {
	f := newFixture(t)
	f.engine.now = func() time.Time { return f.market.EndTime }
	ctx := context.Background()

	_, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)

	// The escrow taken for the rejected buy comes straight back; the pool
	// account holds only the seeded liquidity.
	assert.Equal(t, uint64(1000), f.custody.Escrowed(f.market.ID))
}

func TestSellWithZeroPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 1000, domain.TradeBuyYes)
	require.NoError(t, err)

	// Zero base liquidity caps the payout at zero; the sell must not burn the
	// shares for nothing.
	snap := f.snapshot(t)
	m, p := snap.Market, snap.Pool
	m.TotalLiquidity, p.TotalLiquidity = 0, 0
	require.NoError(t, f.ledger.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market:     m,
		Pool:       p,
		Balance:    domain.LpBalance{MarketID: m.ID, Provider: "lp", LpShares: 1000},
		Withdraw:   true,
		OccurredAt: testClock,
	}))

	_, err = f.engine.TradeShares(ctx, f.market.ID, "alice", buy.AmountOut, domain.TradeSellYes)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	acct, err := f.ledger.GetShareAccount(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, buy.AmountOut, acct.YesShares)
}

func TestTradeOnResolvedMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.snapshot(t).Market
	m.Resolved, m.Outcome = true, true
	require.NoError(t, f.ledger.CommitResolution(ctx, domain.ResolutionCommit{Market: m, ResolvedAt: testClock}))

	_, err := f.engine.TradeShares(ctx, f.market.ID, "alice", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}

func TestBuyConsumedByFees(t *testing.T) {
	f := newFixture(t)
	// Fees swallow the whole amount: floor(2*5000/10000) twice leaves zero.
	f.engine.cfg.PlatformFeeBps = 5_000
	f.engine.cfg.LpFeeBps = 5_000

	_, err := f.engine.TradeShares(context.Background(), f.market.ID, "alice", 2, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestBuyOnEmptyPool(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ledgerStore := memory.NewLedgerStore()
	ctx := context.Background()

	m := domain.Market{
		ID:      domain.DeriveMarketID("empty pool?", 1),
		EndTime: testClock.Add(time.Hour),
	}
	require.NoError(t, ledgerStore.CreateMarket(ctx, m, domain.LiquidityPool{MarketID: m.ID}))

	e := New(
		ledgerStore,
		lock.NewLocal(),
		custody.NewRecorder(logger),
		memory.NewCache(),
		memory.NewBus(),
		memory.NewAuditStore(),
		Config{LockTTL: 10 * time.Second},
		logger,
	)
	e.now = func() time.Time { return testClock }

	_, err := e.TradeShares(ctx, m.ID, "alice", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}
