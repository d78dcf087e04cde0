// Package amm implements the constant-product pricing curve between a
// market's YES and NO reserves. A trade moves the reserves along Ry*Rn = k;
// rounding is always applied in the pool's favour, so the product never
// decreases across trades.
package amm

import (
	"math/bits"

	"github.com/openpredict/predictd/internal/domain"
	"github.com/openpredict/predictd/internal/ledger"
)

// Quote is the reserve transition produced by pricing one trade.
type Quote struct {
	AmountOut  uint64 // shares on buys, base units on sells
	YesReserve uint64 // post-trade reserves
	NoReserve  uint64
}

// ImpliedYesBps returns the implied probability of YES in basis points:
// Rn / (Ry + Rn). Both reserves must be seeded.
func ImpliedYesBps(yes, no uint64) (uint64, error) {
	total, err := ledger.Add(yes, no)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, domain.ErrInsufficientLiquidity
	}
	return ledger.MulDiv(no, ledger.BpsDenominator, total)
}

// BuyQuote prices a buy of the chosen side with amountNet base units (fees
// already deducted). The opposing reserve grows by amountNet, the bought
// reserve is set to ceil(k / newOther), and the trader receives the shares
// freed up by the move.
func BuyQuote(yes, no, amountNet uint64, buyYes bool) (Quote, error) {
	if yes == 0 || no == 0 {
		return Quote{}, domain.ErrInsufficientLiquidity
	}
	bought, other := yes, no
	if !buyYes {
		bought, other = no, yes
	}

	khi, klo := bits.Mul64(yes, no)

	newOther, err := ledger.Add(other, amountNet)
	if err != nil {
		return Quote{}, err
	}
	newBought, err := ceilDiv128(khi, klo, newOther)
	if err != nil {
		return Quote{}, err
	}

	// ceil(k/newOther) <= bought because newOther >= other, so the freed
	// shares bought + amountNet - newBought are always representable.
	grossBought, err := ledger.Add(bought, amountNet)
	if err != nil {
		return Quote{}, err
	}
	sharesOut, err := ledger.Sub(grossBought, newBought)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{AmountOut: sharesOut, YesReserve: newBought, NoReserve: newOther}
	if !buyYes {
		q.YesReserve, q.NoReserve = newOther, newBought
	}
	return q, nil
}

// SellQuote prices a sell of shares of the chosen side. The shares re-enter
// their reserve and the pool pays out the largest whole amount that keeps the
// product at or above k, leaving at least one unit in each reserve. maxOut
// additionally caps the payout (the pool's base liquidity).
func SellQuote(yes, no, shares, maxOut uint64, sellYes bool) (Quote, error) {
	if yes == 0 || no == 0 {
		return Quote{}, domain.ErrInsufficientLiquidity
	}
	sold, other := yes, no
	if !sellYes {
		sold, other = no, yes
	}

	khi, klo := bits.Mul64(yes, no)

	soldPlus, err := ledger.Add(sold, shares)
	if err != nil {
		return Quote{}, err
	}

	// The payout comes out of both reserves; keep each at >= 1 unit.
	hiBound := other - 1
	if b := soldPlus - 1; b < hiBound {
		hiBound = b
	}
	if maxOut < hiBound {
		hiBound = maxOut
	}

	// The product (soldPlus-out)*(other-out) is strictly decreasing in out;
	// binary-search the largest out that still satisfies the invariant.
	lo, hi := uint64(0), hiBound
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if productAtLeast(soldPlus-mid, other-mid, khi, klo) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	out := lo

	q := Quote{AmountOut: out, YesReserve: soldPlus - out, NoReserve: other - out}
	if !sellYes {
		q.YesReserve, q.NoReserve = other-out, soldPlus-out
	}
	return q, nil
}

// SplitDeposit divides a liquidity deposit across the reserves in their
// current ratio. An empty pool bootstraps 50/50, with the odd unit on the NO
// side so the parts always sum to amount exactly.
func SplitDeposit(yes, no, amount uint64) (dYes, dNo uint64, err error) {
	total, err := ledger.Add(yes, no)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		dYes = amount / 2
		return dYes, amount - dYes, nil
	}
	dYes, err = ledger.MulDiv(amount, yes, total)
	if err != nil {
		return 0, 0, err
	}
	return dYes, amount - dYes, nil
}

// ScaleDown returns the reserve reduction for withdrawing lpShares out of
// totalLpShares, rounded down so the pool keeps the remainder.
func ScaleDown(yes, no, lpShares, totalLpShares uint64) (dYes, dNo uint64, err error) {
	dYes, err = ledger.MulDiv(yes, lpShares, totalLpShares)
	if err != nil {
		return 0, 0, err
	}
	dNo, err = ledger.MulDiv(no, lpShares, totalLpShares)
	if err != nil {
		return 0, 0, err
	}
	return dYes, dNo, nil
}

// ceilDiv128 divides the 128-bit value (hi, lo) by d, rounding up. It fails
// when the quotient does not fit in 64 bits.
func ceilDiv128(hi, lo, d uint64) (uint64, error) {
	if d == 0 || hi >= d {
		return 0, domain.ErrArithmeticOverflow
	}
	q, r := bits.Div64(hi, lo, d)
	if r == 0 {
		return q, nil
	}
	return ledger.Add(q, 1)
}

// productAtLeast reports whether a*b >= the 128-bit value (khi, klo).
func productAtLeast(a, b, khi, klo uint64) bool {
	hi, lo := bits.Mul64(a, b)
	if hi != khi {
		return hi > khi
	}
	return lo >= klo
}
