// Package memory implements domain.LedgerStore and domain.AuditStore with
// in-process maps. It backs the "memory" storage backend for development and
// is the substrate the engine tests run on. Each market owns its own mutex,
// so operations on different markets never contend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openpredict/predictd/internal/domain"
)

// marketState bundles everything keyed to one market behind one mutex.
type marketState struct {
	mu          sync.Mutex
	market      domain.Market
	pool        domain.LiquidityPool
	accounts    map[string]domain.ShareAccount // owner -> account
	lpBalances  map[string]domain.LpBalance    // provider -> balance
	trades      []domain.TradeRecord
	redemptions []domain.RedemptionRecord
}

// LedgerStore is the in-memory ledger.
type LedgerStore struct {
	mu      sync.RWMutex
	markets map[string]*marketState
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{markets: make(map[string]*marketState)}
}

func (s *LedgerStore) state(id string) (*marketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.markets[id]
	return st, ok
}

// CreateMarket allocates the market and its empty pool.
func (s *LedgerStore) CreateMarket(_ context.Context, m domain.Market, p domain.LiquidityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrDuplicateMarket
	}
	s.markets[m.ID] = &marketState{
		market:     m,
		pool:       p,
		accounts:   make(map[string]domain.ShareAccount),
		lpBalances: make(map[string]domain.LpBalance),
	}
	return nil
}

// GetMarket returns the market by ID.
func (s *LedgerStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	st, ok := s.state(id)
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.market, nil
}

// GetSnapshot returns the consistent market+pool pair.
func (s *LedgerStore) GetSnapshot(_ context.Context, marketID string) (domain.Snapshot, error) {
	st, ok := s.state(marketID)
	if !ok {
		return domain.Snapshot{}, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return domain.Snapshot{Market: st.market, Pool: st.pool}, nil
}

// ListMarkets returns markets newest-first with pagination and an optional
// status filter.
func (s *LedgerStore) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	all := make([]domain.Market, 0, len(s.markets))
	for _, st := range s.markets {
		st.mu.Lock()
		m := st.market
		st.mu.Unlock()
		if opts.Status != "" && m.Status() != opts.Status {
			continue
		}
		all = append(all, m)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// CountMarkets returns the total number of markets.
func (s *LedgerStore) CountMarkets(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// Stats aggregates platform-wide counters.
func (s *LedgerStore) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.Stats
	for _, st := range s.markets {
		st.mu.Lock()
		m := st.market
		st.mu.Unlock()
		if m.Resolved {
			stats.ResolvedMarkets++
		} else {
			stats.OpenMarkets++
		}
		stats.PlatformFees += m.PlatformFees
		stats.TotalLiquidity += m.TotalLiquidity
	}
	return stats, nil
}

// GetShareAccount returns the owner's account, or a zero-balance account when
// the owner has never traded this market.
func (s *LedgerStore) GetShareAccount(_ context.Context, marketID, owner string) (domain.ShareAccount, error) {
	st, ok := s.state(marketID)
	if !ok {
		return domain.ShareAccount{}, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if acct, ok := st.accounts[owner]; ok {
		return acct, nil
	}
	return domain.ShareAccount{MarketID: marketID, Owner: owner}, nil
}

// ListShareAccounts returns every account in the market, owner-sorted.
func (s *LedgerStore) ListShareAccounts(_ context.Context, marketID string) ([]domain.ShareAccount, error) {
	st, ok := s.state(marketID)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	accounts := make([]domain.ShareAccount, 0, len(st.accounts))
	for _, acct := range st.accounts {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Owner < accounts[j].Owner })
	return accounts, nil
}

// GetLpBalance returns the provider's LP balance (zero when absent).
func (s *LedgerStore) GetLpBalance(_ context.Context, marketID, provider string) (domain.LpBalance, error) {
	st, ok := s.state(marketID)
	if !ok {
		return domain.LpBalance{}, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if bal, ok := st.lpBalances[provider]; ok {
		return bal, nil
	}
	return domain.LpBalance{MarketID: marketID, Provider: provider}, nil
}

// ListTrades returns the market's trades newest-first.
func (s *LedgerStore) ListTrades(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	st, ok := s.state(marketID)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	trades := make([]domain.TradeRecord, len(st.trades))
	copy(trades, st.trades)
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.After(trades[j].ExecutedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(trades) {
			return nil, nil
		}
		trades = trades[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(trades) {
		trades = trades[:opts.Limit]
	}
	return trades, nil
}

// ListRedemptions returns the market's redemptions.
func (s *LedgerStore) ListRedemptions(_ context.Context, marketID string) ([]domain.RedemptionRecord, error) {
	st, ok := s.state(marketID)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]domain.RedemptionRecord, len(st.redemptions))
	copy(out, st.redemptions)
	return out, nil
}

// CommitLiquidity applies a liquidity transition atomically.
func (s *LedgerStore) CommitLiquidity(_ context.Context, c domain.LiquidityCommit) error {
	st, ok := s.state(c.Market.ID)
	if !ok {
		return domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.market = c.Market
	st.pool = c.Pool
	st.lpBalances[c.Balance.Provider] = c.Balance
	return nil
}

// CommitTrade applies a trade transition atomically.
func (s *LedgerStore) CommitTrade(_ context.Context, c domain.TradeCommit) error {
	st, ok := s.state(c.Market.ID)
	if !ok {
		return domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.market = c.Market
	st.pool = c.Pool
	st.accounts[c.Account.Owner] = c.Account
	st.trades = append(st.trades, c.Trade)
	return nil
}

// CommitResolution fixes the outcome.
func (s *LedgerStore) CommitResolution(_ context.Context, c domain.ResolutionCommit) error {
	st, ok := s.state(c.Market.ID)
	if !ok {
		return domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.market = c.Market
	return nil
}

// CommitRedemption applies a redemption atomically.
func (s *LedgerStore) CommitRedemption(_ context.Context, c domain.RedemptionCommit) error {
	st, ok := s.state(c.Market.ID)
	if !ok {
		return domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.market = c.Market
	st.pool = c.Pool
	st.accounts[c.Account.Owner] = c.Account
	st.redemptions = append(st.redemptions, c.Redemption)
	return nil
}

// MarkArchived flags a market as exported.
func (s *LedgerStore) MarkArchived(_ context.Context, marketID string) error {
	st, ok := s.state(marketID)
	if !ok {
		return domain.ErrMarketNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.market.Archived = true
	return nil
}

// ListArchivable returns resolved, unarchived markets ended before the cutoff.
func (s *LedgerStore) ListArchivable(_ context.Context, before time.Time, limit int) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, st := range s.markets {
		st.mu.Lock()
		m := st.market
		st.mu.Unlock()
		if m.Resolved && !m.Archived && m.EndTime.Before(before) {
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)

// AuditStore is an in-memory append-only audit log.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends one audit row.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns the most recent entries, newest-first.
func (s *AuditStore) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
