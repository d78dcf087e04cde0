package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/predictd/internal/domain"
	"github.com/openpredict/predictd/internal/store/memory"
)

const testAuthority = "0x8ba1f109551bd432803012645ac136ddd64dba72"

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *memory.Cache) {
	t.Helper()
	cache := memory.NewCache()
	r := New(
		memory.NewLedgerStore(),
		cache,
		memory.NewBus(),
		memory.NewAuditStore(),
		Config{
			MinDuration:    5 * time.Minute,
			MaxDuration:    365 * 24 * time.Hour,
			MaxQuestionLen: 200,
		},
		slog.New(slog.DiscardHandler),
	)
	r.now = func() time.Time { return testClock }
	return r, cache
}

func TestCreateMarket(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	endTime := testClock.Add(24 * time.Hour)
	m, err := r.CreateMarket(ctx, "Will it rain tomorrow?", endTime, testAuthority, 1)
	require.NoError(t, err)

	assert.Equal(t, domain.DeriveMarketID("Will it rain tomorrow?", 1), m.ID)
	assert.Equal(t, common.HexToAddress(testAuthority).Hex(), m.Authority)
	assert.Equal(t, endTime, m.EndTime)
	assert.False(t, m.Resolved)
	assert.Zero(t, m.TotalLiquidity)

	got, err := r.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	snap, err := r.GetSnapshot(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, snap.Pool.MarketID)
	assert.Zero(t, snap.Pool.TotalLpShares)
}

func TestCreateMarketDeterministicID(t *testing.T) {
	// The identity depends only on (question, nonce).
	a := domain.DeriveMarketID("Will ETH close above 5k?", 7)
	b := domain.DeriveMarketID("Will ETH close above 5k?", 7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, domain.DeriveMarketID("Will ETH close above 5k?", 8))
	assert.NotEqual(t, a, domain.DeriveMarketID("Will BTC close above 5k?", 7))
}

func TestCreateMarketDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	endTime := testClock.Add(time.Hour)
	_, err := r.CreateMarket(ctx, "dup?", endTime, testAuthority, 42)
	require.NoError(t, err)

	_, err = r.CreateMarket(ctx, "dup?", endTime, testAuthority, 42)
	assert.ErrorIs(t, err, domain.ErrDuplicateMarket)

	// A different nonce allocates a fresh market.
	_, err = r.CreateMarket(ctx, "dup?", endTime, testAuthority, 43)
	assert.NoError(t, err)
}

func TestCreateMarketValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	endTime := testClock.Add(time.Hour)

	_, err := r.CreateMarket(ctx, "", endTime, testAuthority, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'q'
	}
	_, err = r.CreateMarket(ctx, string(long), endTime, testAuthority, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = r.CreateMarket(ctx, "bad authority?", endTime, "not-an-address", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// End time inside the minimum duration.
	_, err = r.CreateMarket(ctx, "too soon?", testClock.Add(time.Minute), testAuthority, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)

	// End time past the maximum duration.
	_, err = r.CreateMarket(ctx, "too late?", testClock.Add(366*24*time.Hour), testAuthority, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidEndTime)
}

func TestGetMarketBackfillsCache(t *testing.T) {
	r, cache := newTestRegistry(t)
	ctx := context.Background()

	m, err := r.CreateMarket(ctx, "cached?", testClock.Add(time.Hour), testAuthority, 1)
	require.NoError(t, err)

	// Creation does not warm the cache.
	_, err = cache.Get(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	_, err = r.GetMarket(ctx, m.ID)
	require.NoError(t, err)

	cached, err := cache.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, cached.ID)
}

func TestGetMarketNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestListAndCount(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := uint64(0); i < 3; i++ {
		_, err := r.CreateMarket(ctx, "list?", testClock.Add(time.Hour), testAuthority, i)
		require.NoError(t, err)
	}

	markets, err := r.ListMarkets(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, markets, 2)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.OpenMarkets)
	assert.Equal(t, int64(0), stats.ResolvedMarkets)
}
