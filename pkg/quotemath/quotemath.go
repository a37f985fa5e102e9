// Package quotemath holds the pure arithmetic behind every quote: scaling between human
// and raw token amounts, slippage bounds and price impact.
//
// Raw amounts are *big.Int integers in the token's smallest unit. Prices and ratios are
// shopspring decimals. None of the functions panic on degenerate input; they return zero.
package quotemath

import (
	"math/big"

	"github.com/shopspring/decimal"

	"venue-swap/pkg/types"
)

const (
	// BpsDenominator is 100% expressed in basis points
	BpsDenominator = 10_000

	// FixedPointDecimals is the common scale both sides of a trade are normalised to
	FixedPointDecimals = 18

	// ImpactSignificantDigits is the precision the price ratio is rounded to before the
	// impact is taken, so repeating decimals do not show up as noise.
	ImpactSignificantDigits = 4
)

// MinPriceImpact is reported instead of zero or a negative impact
var MinPriceImpact = decimal.RequireFromString("0.0001")

// HighFeeThreshold is the fraction of the traded amount above which fees are flagged
var HighFeeThreshold = decimal.RequireFromString("0.2")

var bpsDenominator = big.NewInt(BpsDenominator)

// AddSlippage returns amount * (1 + bps/10000), rounded up
func AddSlippage(amount *big.Int, bps int64) *big.Int {
	if !isPositive(amount) {
		return new(big.Int)
	}
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	num := new(big.Int).Mul(amount, big.NewInt(BpsDenominator+bps))
	return ceilDiv(num, bpsDenominator)
}

// MinusSlippage returns amount / (1 + bps/10000), rounded down
func MinusSlippage(amount *big.Int, bps int64) *big.Int {
	if !isPositive(amount) {
		return new(big.Int)
	}
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	num := new(big.Int).Mul(amount, bpsDenominator)
	return num.Quo(num, big.NewInt(BpsDenominator+bps))
}

// ScaleToMax is the maximum amount a user may be asked to supply
func ScaleToMax(amountIn *big.Int, bps int64) *big.Int {
	return AddSlippage(amountIn, bps)
}

// ScaleToMin is the minimum amount a user accepts to receive
func ScaleToMin(amountOut *big.Int, bps int64) *big.Int {
	return MinusSlippage(amountOut, bps)
}

// Bounds computes the slippage-bounded limits for a trade. For exact-in trades the input
// is fixed and only the output is bounded; for exact-out trades the reverse.
func Bounds(direction types.Direction, amountIn, amountOut *big.Int, bps int64) (maxIn, minOut *big.Int) {
	if direction == types.ExactIn {
		return copyOrZero(amountIn), MinusSlippage(amountOut, bps)
	}
	return AddSlippage(amountIn, bps), copyOrZero(amountOut)
}

// ToRaw scales a human amount to raw units, truncating anything below one unit
func ToRaw(amount decimal.Decimal, decimals int32) *big.Int {
	if !amount.IsPositive() {
		return new(big.Int)
	}
	return amount.Shift(decimals).BigInt()
}

// ToHuman scales a raw amount back to a human decimal
func ToHuman(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// BpsToFraction converts basis points to a fraction, 50 -> 0.005
func BpsToFraction(bps int64) decimal.Decimal {
	return decimal.New(bps, -4)
}

// ExceedsFraction reports whether part > whole * fraction
func ExceedsFraction(part, whole *big.Int, fraction decimal.Decimal) bool {
	if !isPositive(part) || !isPositive(whole) {
		return false
	}
	limit := decimal.NewFromBigInt(whole, 0).Mul(fraction)
	return decimal.NewFromBigInt(part, 0).GreaterThan(limit)
}

// MulDiv returns floor(a * b / c), or zero when c is zero
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || !isPositive(c) {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// MarketQuote prices a trade whose fixed side is `fixed` and whose variable side the
// venue returned as `returned`. Fees are assumed to be embedded in the price.
func MarketQuote(direction types.Direction, fixed, returned *big.Int, decimalsIn, decimalsOut int32, spot decimal.Decimal, bps int64) types.Quote {
	amountIn, amountOut := fixed, returned
	if direction == types.ExactOut {
		amountIn, amountOut = returned, fixed
	}
	maxIn, minOut := Bounds(direction, amountIn, amountOut, bps)
	return types.Quote{
		FeeAmountInToken:  new(big.Int),
		FeeAmountOutToken: new(big.Int),
		MaximumInAmount:   maxIn,
		MinimumOutAmount:  minOut,
		ReturnAmount:      copyOrZero(returned),
		TokenInAmount:     copyOrZero(amountIn),
		TokenOutAmount:    copyOrZero(amountOut),
		MarketSpotPrice:   spot,
		PriceImpact:       PriceImpact(amountIn, decimalsIn, amountOut, decimalsOut, direction, spot),
	}
}

// PriceImpact measures how far the effective price of a trade is from the venue's spot
// price. For exact-in trades marketSpotPrice is quoted in sell units per buy unit; for
// exact-out trades it is quoted in buy units per sell unit, which inverts the ratio.
//
// The result is never negative: anything below MinPriceImpact is reported as
// MinPriceImpact. Degenerate input yields zero.
func PriceImpact(sell *big.Int, sellDecimals int32, buy *big.Int, buyDecimals int32, direction types.Direction, marketSpotPrice decimal.Decimal) decimal.Decimal {
	if !isPositive(sell) || !isPositive(buy) || !marketSpotPrice.IsPositive() {
		return decimal.Zero
	}

	sellScaled := normalise(sell, sellDecimals)
	buyScaled := normalise(buy, buyDecimals)
	effective := sellScaled.DivRound(buyScaled, FixedPointDecimals)
	if !effective.IsPositive() {
		return decimal.Zero
	}

	var ratio decimal.Decimal
	if direction == types.ExactIn {
		ratio = marketSpotPrice.DivRound(effective, FixedPointDecimals)
	} else {
		inverse := buyScaled.DivRound(sellScaled, FixedPointDecimals)
		ratio = inverse.DivRound(marketSpotPrice, FixedPointDecimals)
	}
	ratio = RoundSignificant(ratio, ImpactSignificantDigits)

	impact := decimal.NewFromInt(1).Sub(ratio)
	if impact.LessThan(MinPriceImpact) {
		return MinPriceImpact
	}
	return impact
}

// RoundSignificant rounds d half away from zero to the given number of significant digits
func RoundSignificant(d decimal.Decimal, digits int32) decimal.Decimal {
	if d.IsZero() || digits <= 0 {
		return d
	}
	// position of the most significant digit as a power of ten
	msd := int32(d.NumDigits()) + d.Exponent() - 1
	return d.Round(digits - 1 - msd)
}

// normalise lifts a raw amount to FixedPointDecimals fractional digits
func normalise(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(FixedPointDecimals - decimals)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
