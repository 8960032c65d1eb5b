// Package codec decodes the protocol's packed order encoding into real
// liquidity and price values. All functions are pure.
package codec

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// scalingBits is the bit width of the packed-float mantissa. The
// protocol stores rates as sqrt values scaled by 2^48.
const scalingBits = 48

// maxFloatExponent bounds the packed-float exponent. Values above this
// cannot come from a validly encoded order and would make the shifted
// mantissa absurdly large.
const maxFloatExponent = 1 << 16

// ratePrecision is the number of decimal digits carried through rate
// divisions and inversions.
const ratePrecision = 40

var two48 = new(big.Int).Lsh(big.NewInt(1), scalingBits)

// one is 2^48 as a decimal, the unit of the packed sqrt-rate scale.
var one = decimal.NewFromBigInt(two48, 0)

// Side distinguishes the two directions of a strategy's order pair.
type Side int

const (
	// SideBuy reports the computed rate directly.
	SideBuy Side = iota
	// SideSell reports the reciprocal, since the sell order faces the
	// opposite direction.
	SideSell
)

// EncodedOrder carries the raw protocol integers of one order.
// Y and Z are linear liquidity/capacity; A and B are packed
// (mantissa, exponent) pairs.
type EncodedOrder struct {
	Y *big.Int
	Z *big.Int
	A *big.Int
	B *big.Int
}

// DecodedOrder is the human view of an order after decoding and token
// decimal normalization.
type DecodedOrder struct {
	Liquidity    decimal.Decimal
	LowestRate   decimal.Decimal
	HighestRate  decimal.Decimal
	MarginalRate decimal.Decimal
}

// DecodeFloat expands a packed value V into (V mod 2^48) * 2^(V / 2^48).
func DecodeFloat(v *big.Int) (*big.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("packed value must be non-negative")
	}
	mantissa := new(big.Int).Mod(v, two48)
	exponent := new(big.Int).Rsh(v, scalingBits)
	if !exponent.IsUint64() || exponent.Uint64() > maxFloatExponent {
		return nil, fmt.Errorf("packed exponent out of range: %s", exponent)
	}
	return mantissa.Lsh(mantissa, uint(exponent.Uint64())), nil
}

// DecodeOrder turns an encoded order into liquidity and rate values.
// ownDecimals are the decimals of the token the order holds (y/z),
// otherDecimals those of the opposite token; rates are expressed in
// other-token-per-own-token terms.
func DecodeOrder(order EncodedOrder, side Side, ownDecimals, otherDecimals uint8) (DecodedOrder, error) {
	if order.Y == nil || order.Z == nil || order.A == nil || order.B == nil {
		return DecodedOrder{}, fmt.Errorf("encoded order has nil fields")
	}

	aReal, err := DecodeFloat(order.A)
	if err != nil {
		return DecodedOrder{}, fmt.Errorf("decode A: %w", err)
	}
	bReal, err := DecodeFloat(order.B)
	if err != nil {
		return DecodedOrder{}, fmt.Errorf("decode B: %w", err)
	}

	liquidity := decimal.NewFromBigInt(order.Y, 0).Shift(-int32(ownDecimals))
	capacity := decimal.NewFromBigInt(order.Z, 0).Shift(-int32(ownDecimals))

	a := decimal.NewFromBigInt(aReal, 0)
	b := decimal.NewFromBigInt(bReal, 0)

	lowSqrt := b
	highSqrt := b.Add(a)

	// Marginal price sits between lowest and highest in proportion to
	// how much of the capacity still holds liquidity.
	var marginalSqrt decimal.Decimal
	if liquidity.Equal(capacity) || capacity.IsZero() {
		marginalSqrt = highSqrt
	} else {
		marginalSqrt = b.Add(a.Mul(liquidity).DivRound(capacity, ratePrecision))
	}

	scale := int32(otherDecimals) - int32(ownDecimals)

	return DecodedOrder{
		Liquidity:    liquidity,
		LowestRate:   finalizeRate(lowSqrt, scale, side),
		HighestRate:  finalizeRate(highSqrt, scale, side),
		MarginalRate: finalizeRate(marginalSqrt, scale, side),
	}, nil
}

// finalizeRate squares the sqrt-scale value, applies cross-token decimal
// scaling, and inverts for the sell side. A zero rate stays zero rather
// than dividing by zero on inversion.
func finalizeRate(sqrtValue decimal.Decimal, scale int32, side Side) decimal.Decimal {
	rate := sqrtValue.DivRound(one, ratePrecision)
	rate = rate.Mul(rate).Shift(scale)
	if side == SideSell {
		if rate.IsZero() {
			return decimal.Zero
		}
		rate = decimal.NewFromInt(1).DivRound(rate, ratePrecision)
	}
	return rate
}
