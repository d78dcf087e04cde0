package liquidity

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

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	ledgerStore := memory.NewLedgerStore()
	recorder := custody.NewRecorder(logger)

	m := domain.Market{
		ID:        domain.DeriveMarketID("liquidity test?", 1),
		Question:  "liquidity test?",
		Authority: "0x8Ba1f109551bD432803012645Ac136ddd64DBA72",
		EndTime:   testClock.Add(24 * time.Hour),
		CreatedAt: testClock,
		UpdatedAt: testClock,
	}
	require.NoError(t, ledgerStore.CreateMarket(context.Background(), m, domain.LiquidityPool{MarketID: m.ID}))

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
	e.now = func() time.Time { return testClock }

	return &fixture{engine: e, ledger: ledgerStore, custody: recorder, market: m}
}

func (f *fixture) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := f.ledger.GetSnapshot(context.Background(), f.market.ID)
	require.NoError(t, err)
	return snap
}

func TestAddLiquidityBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shares, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), shares)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(500), snap.Market.YesReserve)
	assert.Equal(t, uint64(500), snap.Market.NoReserve)
	assert.Equal(t, uint64(1000), snap.Market.TotalLiquidity)
	assert.Equal(t, uint64(1000), snap.Pool.TotalLiquidity)
	assert.Equal(t, uint64(1000), snap.Pool.TotalLpShares)

	bal, err := f.ledger.GetLpBalance(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), bal.LpShares)

	// The deposit sits in escrow with the custodian.
	assert.Equal(t, uint64(1000), f.custody.Escrowed(f.market.ID))
}

func TestAddLiquidityProRata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)

	shares, err := f.engine.AddLiquidity(ctx, f.market.ID, "bob", 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), shares)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(750), snap.Market.YesReserve)
	assert.Equal(t, uint64(750), snap.Market.NoReserve)
	assert.Equal(t, uint64(1500), snap.Pool.TotalLiquidity)
	assert.Equal(t, uint64(1500), snap.Pool.TotalLpShares)
}

func TestAddLiquidityOddAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AddLiquidity(context.Background(), f.market.ID, "alice", 7)
	require.NoError(t, err)

	// Bootstrap puts the odd unit on the NO side; nothing is lost.
	snap := f.snapshot(t)
	assert.Equal(t, uint64(3), snap.Market.YesReserve)
	assert.Equal(t, uint64(4), snap.Market.NoReserve)
	assert.Equal(t, uint64(7), snap.Pool.TotalLiquidity)
}

func TestAddLiquidityZeroAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AddLiquidity(context.Background(), f.market.ID, "alice", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAddLiquidityUnknownMarket(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AddLiquidity(context.Background(), "missing", "alice", 100)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestAddLiquidityResolvedMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.market
	m.Resolved, m.Outcome = true, true
	require.NoError(t, f.ledger.CommitResolution(ctx, domain.ResolutionCommit{Market: m, ResolvedAt: testClock}))

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}

func TestRejectedDepositRefundsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)

	m := f.snapshot(t).Market
	m.Resolved, m.Outcome = true, true
	require.NoError(t, f.ledger.CommitResolution(ctx, domain.ResolutionCommit{Market: m, ResolvedAt: testClock}))

	_, err = f.engine.AddLiquidity(ctx, f.market.ID, "bob", 250)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	// The rejected deposit's escrow is refunded; only the first deposit
	// remains with the custodian.
	assert.Equal(t, uint64(1000), f.custody.Escrowed(f.market.ID))

	_, err = f.engine.AddLiquidity(ctx, "missing", "bob", 250)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Zero(t, f.custody.Escrowed("missing"))
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)
	_, err = f.engine.AddLiquidity(ctx, f.market.ID, "bob", 500)
	require.NoError(t, err)

	returned, err := f.engine.RemoveLiquidity(ctx, f.market.ID, "bob", 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), returned)

	snap := f.snapshot(t)
	assert.Equal(t, uint64(500), snap.Market.YesReserve)
	assert.Equal(t, uint64(500), snap.Market.NoReserve)
	assert.Equal(t, uint64(1000), snap.Pool.TotalLiquidity)
	assert.Equal(t, uint64(1000), snap.Pool.TotalLpShares)

	bal, err := f.ledger.GetLpBalance(ctx, f.market.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, bal.LpShares)

	// Escrow shrank by the released amount.
	assert.Equal(t, uint64(1000), f.custody.Escrowed(f.market.ID))
}

func TestRemoveLiquidityIncludesFeeShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)

	// Credit the LP fee pot the way a trade would.
	snap := f.snapshot(t)
	p := snap.Pool
	p.LpFees = 100
	bal, err := f.ledger.GetLpBalance(ctx, f.market.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CommitLiquidity(ctx, domain.LiquidityCommit{
		Market:     snap.Market,
		Pool:       p,
		Balance:    bal,
		OccurredAt: testClock,
	}))
	// Fund the escrow for the fee payout.
	require.NoError(t, f.custody.Escrow(ctx, domain.TransferIntent{
		MarketID: f.market.ID,
		Amount:   100,
		Kind:     domain.TransferEscrow,
	}))

	returned, err := f.engine.RemoveLiquidity(ctx, f.market.ID, "alice", 500)
	require.NoError(t, err)
	// Half the pool (500) plus half the fee pot (50).
	assert.Equal(t, uint64(550), returned)

	snap = f.snapshot(t)
	assert.Equal(t, uint64(50), snap.Pool.LpFees)
	assert.Equal(t, uint64(500), snap.Pool.TotalLiquidity)
}

func TestRemoveLiquidityZeroShares(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RemoveLiquidity(context.Background(), f.market.ID, "alice", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRemoveLiquidityMoreThanHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)

	_, err = f.engine.RemoveLiquidity(ctx, f.market.ID, "alice", 1001)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	// A stranger holds nothing at all.
	_, err = f.engine.RemoveLiquidity(ctx, f.market.ID, "mallory", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestRemoveLiquidityResolvedMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddLiquidity(ctx, f.market.ID, "alice", 1000)
	require.NoError(t, err)

	m := f.snapshot(t).Market
	m.Resolved, m.Outcome = true, false
	require.NoError(t, f.ledger.CommitResolution(ctx, domain.ResolutionCommit{Market: m, ResolvedAt: testClock}))

	_, err = f.engine.RemoveLiquidity(ctx, f.market.ID, "alice", 500)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}
