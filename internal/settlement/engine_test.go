package settlement

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

const authority = "0x8Ba1f109551bD432803012645Ac136ddd64DBA72"

var (
	endTime   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	afterEnd  = endTime.Add(time.Minute)
	beforeEnd = endTime.Add(-time.Minute)
)

type fixture struct {
	engine  *Engine
	ledger  *memory.LedgerStore
	custody *custody.Recorder
	market  domain.Market
}

// newFixture seeds a market holding 1000 base units of liquidity where alice
// holds 600 YES shares and bob holds 400 NO shares.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	ledgerStore := memory.NewLedgerStore()
	recorder := custody.NewRecorder(logger)
	ctx := context.Background()

	m := domain.Market{
		ID:             domain.DeriveMarketID("settlement test?", 1),
		Question:       "settlement test?",
		Authority:      authority,
		EndTime:        endTime,
		TotalLiquidity: 1000,
		YesReserve:     500,
		NoReserve:      500,
	}
	p := domain.LiquidityPool{MarketID: m.ID, TotalLpShares: 1000, TotalLiquidity: 1000}
	require.NoError(t, ledgerStore.CreateMarket(ctx, domain.Market{ID: m.ID}, domain.LiquidityPool{MarketID: m.ID}))
	require.NoError(t, ledgerStore.CommitTrade(ctx, domain.TradeCommit{
		Market:  m,
		Pool:    p,
		Account: domain.ShareAccount{MarketID: m.ID, Owner: "alice", YesShares: 600},
		Trade:   domain.TradeRecord{ID: "t1", MarketID: m.ID, Trader: "alice"},
	}))
	require.NoError(t, ledgerStore.CommitTrade(ctx, domain.TradeCommit{
		Market:  m,
		Pool:    p,
		Account: domain.ShareAccount{MarketID: m.ID, Owner: "bob", NoShares: 400},
		Trade:   domain.TradeRecord{ID: "t2", MarketID: m.ID, Trader: "bob"},
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
		Config{LockTTL: 10 * time.Second},
		logger,
	)
	e.now = func() time.Time { return afterEnd }

	return &fixture{engine: e, ledger: ledgerStore, custody: recorder, market: m}
}

func TestResolveMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	assert.True(t, m.Outcome)

	stored, err := f.ledger.GetMarket(ctx, f.market.ID)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	assert.Equal(t, domain.MarketStatusResolved, stored.Status())
}

func TestResolveMarketUnauthorized(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ResolveMarket(context.Background(), f.market.ID, "0x0000000000000000000000000000000000000001", true)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestResolveMarketBeforeEndTime(t *testing.T) {
	f := newFixture(t)
	f.engine.now = func() time.Time { return beforeEnd }

	_, err := f.engine.ResolveMarket(context.Background(), f.market.ID, authority, true)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)
}

func TestResolveMarketTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	// The outcome cannot be flipped once fixed.
	_, err = f.engine.ResolveMarket(ctx, f.market.ID, authority, false)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	m, err := f.ledger.GetMarket(ctx, f.market.ID)
	require.NoError(t, err)
	assert.True(t, m.Outcome)
}

func TestResolveMarketNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ResolveMarket(context.Background(), "missing", authority, true)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestRedeemWinningShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	payout, err := f.engine.Redeem(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), payout)

	snap, err := f.ledger.GetSnapshot(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), snap.Market.TotalLiquidity)
	assert.Equal(t, uint64(400), snap.Pool.TotalLiquidity)

	acct, err := f.ledger.GetShareAccount(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, acct.YesShares)
	assert.Zero(t, acct.NoShares)

	// The payout left escrow.
	assert.Equal(t, uint64(400), f.custody.Escrowed(f.market.ID))

	reds, err := f.ledger.ListRedemptions(ctx, f.market.ID)
	require.NoError(t, err)
	require.Len(t, reds, 1)
	assert.Equal(t, uint64(600), reds[0].Shares)
	assert.Equal(t, uint64(600), reds[0].Payout)
}

func TestRedeemIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	payout, err := f.engine.Redeem(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), payout)

	// The retry finds a zeroed account and pays nothing.
	payout, err = f.engine.Redeem(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, payout)

	reds, err := f.ledger.ListRedemptions(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Len(t, reds, 1)
}

func TestRedeemLosingShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	// Bob held NO; YES won. Both balances zero out with no payout.
	payout, err := f.engine.Redeem(ctx, f.market.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, payout)

	acct, err := f.ledger.GetShareAccount(ctx, f.market.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, acct.NoShares)
}

func TestRedeemBeforeResolution(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Redeem(context.Background(), f.market.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestRedeemUnknownHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	payout, err := f.engine.Redeem(ctx, f.market.ID, "stranger")
	require.NoError(t, err)
	assert.Zero(t, payout)
}

func TestRedeemCappedByLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Shrink the pool below alice's 600 winning shares.
	snap, err := f.ledger.GetSnapshot(ctx, f.market.ID)
	require.NoError(t, err)
	m, p := snap.Market, snap.Pool
	m.TotalLiquidity, p.TotalLiquidity = 250, 250
	require.NoError(t, f.ledger.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market: m, Pool: p,
		Balance: domain.LpBalance{MarketID: m.ID, Provider: "lp"},
	}))

	_, err = f.engine.ResolveMarket(ctx, f.market.ID, authority, true)
	require.NoError(t, err)

	payout, err := f.engine.Redeem(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), payout)

	snap, err = f.ledger.GetSnapshot(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.Pool.TotalLiquidity)

	// The surrendered shares are recorded in full even though the payout
	// was capped.
	reds, err := f.ledger.ListRedemptions(ctx, f.market.ID)
	require.NoError(t, err)
	require.Len(t, reds, 1)
	assert.Equal(t, uint64(600), reds[0].Shares)
	assert.Equal(t, uint64(250), reds[0].Payout)
}
