package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/predictd/internal/config"
	"github.com/openpredict/predictd/internal/domain"
)

// TestMarketLifecycle walks one market through its whole life on the wired
// in-process stack: create, seed liquidity, trade, resolve, redeem.
func TestMarketLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Redis.Enabled = false
	cfg.Ledger.MinDuration.Duration = time.Millisecond
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	eng := New(&cfg, logger).buildEngines(deps)
	auth := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72").Hex()

	endTime := time.Now().Add(500 * time.Millisecond)
	m, err := eng.registry.CreateMarket(ctx, "X", endTime, auth, 0)
	require.NoError(t, err)

	_, err = eng.liquidity.AddLiquidity(ctx, m.ID, "lp1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	lpShares, err := eng.liquidity.AddLiquidity(ctx, m.ID, "lp1", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), lpShares)

	// Buy YES with 100 units. The default 30 bps platform fee floors to zero
	// on an amount this small, so the whole 100 moves the curve: the NO
	// reserve grows to 600 and YES drops to ceil(250000/600) = 417.
	rec, err := eng.trading.TradeShares(ctx, m.ID, "holder", 100, domain.TradeBuyYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(183), rec.AmountOut)

	snap, err := deps.Ledger.GetSnapshot(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(417), snap.Market.YesReserve)
	assert.Equal(t, uint64(600), snap.Market.NoReserve)
	assert.Equal(t, uint64(1100), snap.Market.TotalLiquidity)

	// Resolution is gated on the end time and the authority.
	_, err = eng.settlement.ResolveMarket(ctx, m.ID, auth, true)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)
	_, err = eng.settlement.ResolveMarket(ctx, m.ID, "0x0000000000000000000000000000000000000001", true)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	time.Sleep(time.Until(endTime) + 100*time.Millisecond)

	// Trading is closed once the end time passes.
	_, err = eng.trading.TradeShares(ctx, m.ID, "holder", 100, domain.TradeBuyYes)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)

	resolved, err := eng.settlement.ResolveMarket(ctx, m.ID, auth, true)
	require.NoError(t, err)
	assert.True(t, resolved.Outcome)

	payout, err := eng.settlement.Redeem(ctx, m.ID, "holder")
	require.NoError(t, err)
	assert.Equal(t, uint64(183), payout)

	// The retry pays nothing.
	payout, err = eng.settlement.Redeem(ctx, m.ID, "holder")
	require.NoError(t, err)
	assert.Zero(t, payout)

	snap, err = deps.Ledger.GetSnapshot(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(917), snap.Market.TotalLiquidity)
}
