package domain

import "time"

// ShareAccount tracks one owner's YES/NO share balances in one market. It is
// created lazily on the owner's first trade and never deleted; zero balances
// are a valid terminal state after redemption.
type ShareAccount struct {
	MarketID  string
	Owner     string
	YesShares uint64
	NoShares  uint64
	UpdatedAt time.Time
}

// WinningShares returns the balance on the side the market resolved to.
func (a ShareAccount) WinningShares(outcome bool) uint64 {
	if outcome {
		return a.YesShares
	}
	return a.NoShares
}
