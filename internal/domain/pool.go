package domain

// LiquidityPool is the pooled-reserve account backing one market's AMM
// pricing. TotalLiquidity is the base asset currently pooled; LpFees is the
// liquidity-provider fee pot accrued from trades, paid out pro rata on
// withdrawal.
type LiquidityPool struct {
	MarketID       string
	TotalLpShares  uint64
	TotalLiquidity uint64
	LpFees         uint64
}

// LpBalance records a single provider's claim on a pool.
type LpBalance struct {
	MarketID string
	Provider string
	LpShares uint64
}
