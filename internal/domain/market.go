package domain

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a single binary-outcome prediction market. Its identity is
// derived deterministically from the question and a creation nonce, so the
// same (question, nonce) pair always maps to the same market.
type Market struct {
	ID             string
	Question       string
	Nonce          uint64
	Authority      string // only principal allowed to resolve
	EndTime        time.Time
	Resolved       bool
	Outcome        bool // meaningful only when Resolved
	TotalLiquidity uint64
	YesReserve     uint64
	NoReserve      uint64
	PlatformFees   uint64 // accrued platform fees, base-asset units
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status reports the lifecycle state derived from the resolved flag.
func (m Market) Status() MarketStatus {
	if m.Resolved {
		return MarketStatusResolved
	}
	return MarketStatusOpen
}

// TradingOpen reports whether trades and liquidity changes are still allowed
// at the given instant.
func (m Market) TradingOpen(now time.Time) bool {
	return !m.Resolved && now.Before(m.EndTime)
}

// DeriveMarketID computes the stable market identity from the question and
// creation nonce: hex(keccak256(question || nonce)).
func DeriveMarketID(question string, nonce uint64) string {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	return crypto.Keccak256Hash([]byte(question), nb[:]).Hex()
}
