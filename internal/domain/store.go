package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status MarketStatus // empty means all
}

// Snapshot is the consistent (market, pool) pair a mutating operation reads
// before computing its transition. Both rows belong to the same market.
type Snapshot struct {
	Market Market
	Pool   LiquidityPool
}

// LiquidityCommit carries the full post-state of an add/remove-liquidity
// transition. Stores must apply it atomically.
type LiquidityCommit struct {
	Market     Market
	Pool       LiquidityPool
	Balance    LpBalance // provider's post-state LP balance
	Withdraw   bool
	Amount     uint64 // base units moved
	OccurredAt time.Time
}

// TradeCommit carries the full post-state of one trade.
type TradeCommit struct {
	Market  Market
	Pool    LiquidityPool
	Account ShareAccount // trader's post-state share account
	Trade   TradeRecord
}

// ResolutionCommit fixes a market's outcome.
type ResolutionCommit struct {
	Market     Market // resolved=true, outcome set
	ResolvedAt time.Time
}

// RedemptionCommit carries the post-state of one redemption. A zero-payout
// retry produces no commit at all.
type RedemptionCommit struct {
	Market     Market
	Pool       LiquidityPool
	Account    ShareAccount // zeroed balances
	Redemption RedemptionRecord
}

// Stats summarises the platform for the status endpoint.
type Stats struct {
	OpenMarkets     int64
	ResolvedMarkets int64
	PlatformFees    uint64
	TotalLiquidity  uint64
}

// LedgerStore persists markets, pools, share accounts, LP balances, and the
// trade/redemption history. Every Commit* method applies its whole payload in
// a single transaction; a failed commit leaves no partial state behind.
type LedgerStore interface {
	CreateMarket(ctx context.Context, m Market, p LiquidityPool) error
	GetMarket(ctx context.Context, id string) (Market, error)
	GetSnapshot(ctx context.Context, marketID string) (Snapshot, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)

	// GetShareAccount returns a zero-balance account (not an error) when the
	// owner has never traded the market.
	GetShareAccount(ctx context.Context, marketID, owner string) (ShareAccount, error)
	ListShareAccounts(ctx context.Context, marketID string) ([]ShareAccount, error)
	GetLpBalance(ctx context.Context, marketID, provider string) (LpBalance, error)

	ListTrades(ctx context.Context, marketID string, opts ListOpts) ([]TradeRecord, error)
	ListRedemptions(ctx context.Context, marketID string) ([]RedemptionRecord, error)

	CommitLiquidity(ctx context.Context, c LiquidityCommit) error
	CommitTrade(ctx context.Context, c TradeCommit) error
	CommitResolution(ctx context.Context, c ResolutionCommit) error
	CommitRedemption(ctx context.Context, c RedemptionCommit) error

	// MarkArchived flags a resolved market as exported to cold storage.
	MarkArchived(ctx context.Context, marketID string) error
	// ListArchivable returns resolved, unarchived markets whose end time is
	// before the cutoff.
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]Market, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
