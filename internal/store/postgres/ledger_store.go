package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/predictd/internal/domain"
)

// LedgerStore implements domain.LedgerStore on PostgreSQL. Every Commit*
// method runs inside a single transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a LedgerStore backed by the given client.
func NewLedgerStore(client *Client) *LedgerStore {
	return &LedgerStore{pool: client.Pool()}
}

const marketColumns = `id, question, nonce, authority, end_time, resolved, outcome,
	total_liquidity, yes_reserve, no_reserve, platform_fees, archived,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var nonce, totalLiquidity, yesReserve, noReserve, platformFees int64
	err := row.Scan(
		&m.ID, &m.Question, &nonce, &m.Authority, &m.EndTime,
		&m.Resolved, &m.Outcome,
		&totalLiquidity, &yesReserve, &noReserve, &platformFees,
		&m.Archived, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Nonce = uint64(nonce)
	m.TotalLiquidity = uint64(totalLiquidity)
	m.YesReserve = uint64(yesReserve)
	m.NoReserve = uint64(noReserve)
	m.PlatformFees = uint64(platformFees)
	return m, nil
}

// CreateMarket inserts a market together with its empty pool. A primary key
// conflict maps to ErrDuplicateMarket.
func (s *LedgerStore) CreateMarket(ctx context.Context, m domain.Market, p domain.LiquidityPool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO markets (`+marketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Question, int64(m.Nonce), m.Authority, m.EndTime,
		m.Resolved, m.Outcome,
		int64(m.TotalLiquidity), int64(m.YesReserve), int64(m.NoReserve),
		int64(m.PlatformFees), m.Archived, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateMarket
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pools (market_id, total_lp_shares, total_liquidity, lp_fees)
		VALUES ($1, $2, $3, $4)`,
		p.MarketID, int64(p.TotalLpShares), int64(p.TotalLiquidity), int64(p.LpFees),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pool: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market: %w", err)
	}
	return nil
}

// GetMarket fetches one market by id.
func (s *LedgerStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market: %w", err)
	}
	return m, nil
}

// GetSnapshot reads the market row and its pool row in one query so mutating
// operations see a consistent pair.
func (s *LedgerStore) GetSnapshot(ctx context.Context, marketID string) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT m.id, m.question, m.nonce, m.authority, m.end_time, m.resolved,
		       m.outcome, m.total_liquidity, m.yes_reserve, m.no_reserve,
		       m.platform_fees, m.archived, m.created_at, m.updated_at,
		       p.total_lp_shares, p.total_liquidity, p.lp_fees
		FROM markets m
		JOIN pools p ON p.market_id = m.id
		WHERE m.id = $1`,
		marketID,
	)

	var snap domain.Snapshot
	var nonce, mLiq, yes, no, fees, lpShares, pLiq, lpFees int64
	err := row.Scan(
		&snap.Market.ID, &snap.Market.Question, &nonce, &snap.Market.Authority,
		&snap.Market.EndTime, &snap.Market.Resolved, &snap.Market.Outcome,
		&mLiq, &yes, &no, &fees, &snap.Market.Archived,
		&snap.Market.CreatedAt, &snap.Market.UpdatedAt,
		&lpShares, &pLiq, &lpFees,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: get snapshot: %w", err)
	}

	snap.Market.Nonce = uint64(nonce)
	snap.Market.TotalLiquidity = uint64(mLiq)
	snap.Market.YesReserve = uint64(yes)
	snap.Market.NoReserve = uint64(no)
	snap.Market.PlatformFees = uint64(fees)
	snap.Pool = domain.LiquidityPool{
		MarketID:       snap.Market.ID,
		TotalLpShares:  uint64(lpShares),
		TotalLiquidity: uint64(pLiq),
		LpFees:         uint64(lpFees),
	}
	return snap, nil
}

// ListMarkets returns markets newest first, optionally filtered by status.
func (s *LedgerStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	args := []any{}
	switch opts.Status {
	case domain.MarketStatusOpen:
		query += ` WHERE NOT resolved`
	case domain.MarketStatusResolved:
		query += ` WHERE resolved`
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate markets: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the total number of markets ever created.
func (s *LedgerStore) CountMarkets(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// Stats aggregates platform-wide counters for the status endpoint.
func (s *LedgerStore) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	var fees, liq int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE NOT resolved),
		       COUNT(*) FILTER (WHERE resolved),
		       COALESCE(SUM(platform_fees), 0),
		       COALESCE(SUM(total_liquidity), 0)
		FROM markets`,
	).Scan(&st.OpenMarkets, &st.ResolvedMarkets, &fees, &liq)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	st.PlatformFees = uint64(fees)
	st.TotalLiquidity = uint64(liq)
	return st, nil
}

// GetShareAccount returns the owner's balances, or a zero account when the
// owner has never traded the market.
func (s *LedgerStore) GetShareAccount(ctx context.Context, marketID, owner string) (domain.ShareAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT yes_shares, no_shares, updated_at
		FROM share_accounts WHERE market_id = $1 AND owner = $2`,
		marketID, owner,
	)

	acct := domain.ShareAccount{MarketID: marketID, Owner: owner}
	var yes, no int64
	err := row.Scan(&yes, &no, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return domain.ShareAccount{}, fmt.Errorf("postgres: get share account: %w", err)
	}
	acct.YesShares = uint64(yes)
	acct.NoShares = uint64(no)
	return acct, nil
}

// ListShareAccounts returns all share accounts for a market.
func (s *LedgerStore) ListShareAccounts(ctx context.Context, marketID string) ([]domain.ShareAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, yes_shares, no_shares, updated_at
		FROM share_accounts WHERE market_id = $1 ORDER BY owner`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list share accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.ShareAccount{}
	for rows.Next() {
		acct := domain.ShareAccount{MarketID: marketID}
		var yes, no int64
		if err := rows.Scan(&acct.Owner, &yes, &no, &acct.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan share account: %w", err)
		}
		acct.YesShares = uint64(yes)
		acct.NoShares = uint64(no)
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate share accounts: %w", err)
	}
	return accounts, nil
}

// GetLpBalance returns the provider's LP share balance, zero when absent.
func (s *LedgerStore) GetLpBalance(ctx context.Context, marketID, provider string) (domain.LpBalance, error) {
	bal := domain.LpBalance{MarketID: marketID, Provider: provider}
	var shares int64
	err := s.pool.QueryRow(ctx, `
		SELECT lp_shares FROM lp_balances WHERE market_id = $1 AND provider = $2`,
		marketID, provider,
	).Scan(&shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return bal, nil
	}
	if err != nil {
		return domain.LpBalance{}, fmt.Errorf("postgres: get lp balance: %w", err)
	}
	bal.LpShares = uint64(shares)
	return bal, nil
}

// ListTrades returns a market's trade history, newest first.
func (s *LedgerStore) ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `
		SELECT id, trader, intent, amount_in, amount_out, platform_fee, lp_fee, executed_at
		FROM trades WHERE market_id = $1 ORDER BY executed_at DESC, id`
	args := []any{marketID}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades := []domain.TradeRecord{}
	for rows.Next() {
		t := domain.TradeRecord{MarketID: marketID}
		var in, out, pf, lf int64
		if err := rows.Scan(&t.ID, &t.Trader, &t.Intent, &in, &out, &pf, &lf, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.AmountIn = uint64(in)
		t.AmountOut = uint64(out)
		t.PlatformFee = uint64(pf)
		t.LpFee = uint64(lf)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return trades, nil
}

// ListRedemptions returns a market's redemption history, newest first.
func (s *LedgerStore) ListRedemptions(ctx context.Context, marketID string) ([]domain.RedemptionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, holder, shares, payout, redeemed_at
		FROM redemptions WHERE market_id = $1 ORDER BY redeemed_at DESC, id`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list redemptions: %w", err)
	}
	defer rows.Close()

	reds := []domain.RedemptionRecord{}
	for rows.Next() {
		r := domain.RedemptionRecord{MarketID: marketID}
		var shares, payout int64
		if err := rows.Scan(&r.ID, &r.Holder, &shares, &payout, &r.RedeemedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan redemption: %w", err)
		}
		r.Shares = uint64(shares)
		r.Payout = uint64(payout)
		reds = append(reds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate redemptions: %w", err)
	}
	return reds, nil
}

func updateMarket(ctx context.Context, tx pgx.Tx, m domain.Market) error {
	_, err := tx.Exec(ctx, `
		UPDATE markets SET
			resolved = $2, outcome = $3, total_liquidity = $4,
			yes_reserve = $5, no_reserve = $6, platform_fees = $7,
			updated_at = $8
		WHERE id = $1`,
		m.ID, m.Resolved, m.Outcome, int64(m.TotalLiquidity),
		int64(m.YesReserve), int64(m.NoReserve), int64(m.PlatformFees),
		m.UpdatedAt,
	)
	return err
}

func updatePool(ctx context.Context, tx pgx.Tx, p domain.LiquidityPool) error {
	_, err := tx.Exec(ctx, `
		UPDATE pools SET total_lp_shares = $2, total_liquidity = $3, lp_fees = $4
		WHERE market_id = $1`,
		p.MarketID, int64(p.TotalLpShares), int64(p.TotalLiquidity), int64(p.LpFees),
	)
	return err
}

func upsertShareAccount(ctx context.Context, tx pgx.Tx, a domain.ShareAccount) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO share_accounts (market_id, owner, yes_shares, no_shares, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, owner) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares = EXCLUDED.no_shares,
			updated_at = EXCLUDED.updated_at`,
		a.MarketID, a.Owner, int64(a.YesShares), int64(a.NoShares), a.UpdatedAt,
	)
	return err
}

// CommitLiquidity applies an add/remove-liquidity transition atomically.
func (s *LedgerStore) CommitLiquidity(ctx context.Context, c domain.LiquidityCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin liquidity commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateMarket(ctx, tx, c.Market); err != nil {
		return fmt.Errorf("postgres: update market: %w", err)
	}
	if err := updatePool(ctx, tx, c.Pool); err != nil {
		return fmt.Errorf("postgres: update pool: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO lp_balances (market_id, provider, lp_shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id, provider) DO UPDATE SET lp_shares = EXCLUDED.lp_shares`,
		c.Balance.MarketID, c.Balance.Provider, int64(c.Balance.LpShares),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert lp balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit liquidity: %w", err)
	}
	return nil
}

// CommitTrade applies a trade's full post-state and records it atomically.
func (s *LedgerStore) CommitTrade(ctx context.Context, c domain.TradeCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trade commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateMarket(ctx, tx, c.Market); err != nil {
		return fmt.Errorf("postgres: update market: %w", err)
	}
	if err := updatePool(ctx, tx, c.Pool); err != nil {
		return fmt.Errorf("postgres: update pool: %w", err)
	}
	if err := upsertShareAccount(ctx, tx, c.Account); err != nil {
		return fmt.Errorf("postgres: upsert share account: %w", err)
	}

	t := c.Trade
	_, err = tx.Exec(ctx, `
		INSERT INTO trades (id, market_id, trader, intent, amount_in, amount_out,
			platform_fee, lp_fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.MarketID, t.Trader, string(t.Intent),
		int64(t.AmountIn), int64(t.AmountOut),
		int64(t.PlatformFee), int64(t.LpFee), t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade: %w", err)
	}
	return nil
}

// CommitResolution fixes the outcome on the market row.
func (s *LedgerStore) CommitResolution(ctx context.Context, c domain.ResolutionCommit) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets SET resolved = TRUE, outcome = $2, updated_at = $3
		WHERE id = $1 AND NOT resolved`,
		c.Market.ID, c.Market.Outcome, c.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: commit resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketAlreadyResolved
	}
	return nil
}

// CommitRedemption applies a redemption's full post-state and records it
// atomically.
func (s *LedgerStore) CommitRedemption(ctx context.Context, c domain.RedemptionCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin redemption commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateMarket(ctx, tx, c.Market); err != nil {
		return fmt.Errorf("postgres: update market: %w", err)
	}
	if err := updatePool(ctx, tx, c.Pool); err != nil {
		return fmt.Errorf("postgres: update pool: %w", err)
	}
	if err := upsertShareAccount(ctx, tx, c.Account); err != nil {
		return fmt.Errorf("postgres: upsert share account: %w", err)
	}

	r := c.Redemption
	_, err = tx.Exec(ctx, `
		INSERT INTO redemptions (id, market_id, holder, shares, payout, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.MarketID, r.Holder, int64(r.Shares), int64(r.Payout), r.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit redemption: %w", err)
	}
	return nil
}

// MarkArchived flags a market as exported to cold storage.
func (s *LedgerStore) MarkArchived(ctx context.Context, marketID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET archived = TRUE, updated_at = $2 WHERE id = $1`,
		marketID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark archived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// ListArchivable returns resolved, unarchived markets older than the cutoff.
func (s *LedgerStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE resolved AND NOT archived AND end_time < $1
		ORDER BY end_time LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list archivable: %w", err)
	}
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan archivable market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate archivable markets: %w", err)
	}
	return markets, nil
}
