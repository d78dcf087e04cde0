package domain

import (
	"fmt"
	"time"
)

// TradeIntent is the tagged trade variant. Engines switch over it
// exhaustively; an unknown value is rejected as invalid input rather than
// inspected at runtime.
type TradeIntent string

const (
	TradeBuyYes  TradeIntent = "buy_yes"
	TradeBuyNo   TradeIntent = "buy_no"
	TradeSellYes TradeIntent = "sell_yes"
	TradeSellNo  TradeIntent = "sell_no"
)

// Valid reports whether the intent is one of the four known variants.
func (i TradeIntent) Valid() bool {
	switch i {
	case TradeBuyYes, TradeBuyNo, TradeSellYes, TradeSellNo:
		return true
	}
	return false
}

// Buy reports whether the intent moves base asset into the pool.
func (i TradeIntent) Buy() bool {
	return i == TradeBuyYes || i == TradeBuyNo
}

// Yes reports whether the intent targets the YES side.
func (i TradeIntent) Yes() bool {
	return i == TradeBuyYes || i == TradeSellYes
}

// ParseTradeIntent builds an intent from the wire representation
// (side "yes"/"no", direction "buy"/"sell").
func ParseTradeIntent(side, direction string) (TradeIntent, error) {
	i := TradeIntent(direction + "_" + side)
	if !i.Valid() {
		return "", fmt.Errorf("%w: unknown trade intent %q/%q", ErrInvalidAmount, direction, side)
	}
	return i, nil
}

// TradeRecord is one executed trade against a market's pool.
type TradeRecord struct {
	ID          string
	MarketID    string
	Trader      string
	Intent      TradeIntent
	AmountIn    uint64 // base units on buys, shares on sells
	AmountOut   uint64 // shares on buys, net base units on sells
	PlatformFee uint64
	LpFee       uint64
	ExecutedAt  time.Time
}

// RedemptionRecord is one post-resolution payout to a share holder.
type RedemptionRecord struct {
	ID         string
	MarketID   string
	Holder     string
	Shares     uint64 // winning shares surrendered
	Payout     uint64 // base units released, capped by remaining liquidity
	RedeemedAt time.Time
}
