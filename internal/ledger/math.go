// Package ledger provides the checked fixed-point arithmetic every balance
// mutation goes through. All amounts are uint64 base-asset smallest units;
// any overflow surfaces as domain.ErrArithmeticOverflow instead of wrapping.
package ledger

import (
	"math/bits"

	"github.com/openpredict/predictd/internal/domain"
)

// BpsDenominator is the basis-point scale used for fees.
const BpsDenominator = 10_000

// Add returns a+b, failing on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing when b exceeds a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	return diff, nil
}

// Mul returns a*b, failing on overflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	return lo, nil
}

// MulDiv returns floor(a*b/d) with a 128-bit intermediate product. It fails
// when d is zero or the quotient does not fit in 64 bits.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, domain.ErrArithmeticOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// MulDivCeil returns ceil(a*b/d) with a 128-bit intermediate product.
func MulDivCeil(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, domain.ErrArithmeticOverflow
	}
	q, r := bits.Div64(hi, lo, d)
	if r == 0 {
		return q, nil
	}
	return Add(q, 1)
}

// FeeBps returns floor(amount*bps/10000), the fee taken off an amount at the
// given basis-point rate.
func FeeBps(amount uint64, bps uint32) (uint64, error) {
	return MulDiv(amount, uint64(bps), BpsDenominator)
}
