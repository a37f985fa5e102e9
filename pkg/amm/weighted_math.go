package amm

import (
	"errors"

	"github.com/shopspring/decimal"
)

// All weighted math works on human-scaled decimals.

const mathPrecision = 36

var (
	one = decimal.NewFromInt(1)

	errInsufficientLiquidity = errors.New("insufficient liquidity")
	errBadInput              = errors.New("invalid pool math input")
)

func pow(base, exp decimal.Decimal) (decimal.Decimal, error) {
	if exp.Equal(one) {
		return base, nil
	}
	return base.PowWithPrecision(exp, mathPrecision)
}

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, mathPrecision)
}

// outGivenIn: bOut * (1 - (bIn / (bIn + aIn*(1-fee)))^(wIn/wOut))
func outGivenIn(bIn, wIn, bOut, wOut, aIn, fee decimal.Decimal) (decimal.Decimal, error) {
	if !bIn.IsPositive() || !bOut.IsPositive() || !aIn.IsPositive() || !wIn.IsPositive() || !wOut.IsPositive() {
		return decimal.Zero, errBadInput
	}
	adjusted := aIn.Mul(one.Sub(fee))
	base := div(bIn, bIn.Add(adjusted))
	p, err := pow(base, div(wIn, wOut))
	if err != nil {
		return decimal.Zero, err
	}
	out := bOut.Mul(one.Sub(p))
	if !out.IsPositive() || out.GreaterThanOrEqual(bOut) {
		return decimal.Zero, errInsufficientLiquidity
	}
	return out, nil
}

// inGivenOut: bIn * ((bOut / (bOut - aOut))^(wOut/wIn) - 1) / (1-fee)
func inGivenOut(bIn, wIn, bOut, wOut, aOut, fee decimal.Decimal) (decimal.Decimal, error) {
	if !bIn.IsPositive() || !bOut.IsPositive() || !aOut.IsPositive() || !wIn.IsPositive() || !wOut.IsPositive() {
		return decimal.Zero, errBadInput
	}
	if aOut.GreaterThanOrEqual(bOut) {
		return decimal.Zero, errInsufficientLiquidity
	}
	base := div(bOut, bOut.Sub(aOut))
	p, err := pow(base, div(wOut, wIn))
	if err != nil {
		return decimal.Zero, err
	}
	return div(bIn.Mul(p.Sub(one)), one.Sub(fee)), nil
}

// spotPrice is the marginal price in tokenIn per tokenOut, fee included
func spotPrice(bIn, wIn, bOut, wOut, fee decimal.Decimal) decimal.Decimal {
	if !bOut.IsPositive() || !wIn.IsPositive() || !one.Sub(fee).IsPositive() {
		return decimal.Zero
	}
	num := div(bIn, wIn)
	den := div(bOut, wOut)
	return div(div(num, den), one.Sub(fee))
}

// joinFeeFactor is the share of a single-token join or exit that is not charged the
// swap fee: only the part that rebalances the pool away from its weights is taxed.
func joinFeeFactor(w, fee decimal.Decimal) decimal.Decimal {
	return one.Sub(fee.Mul(one.Sub(w)))
}

// bptOutGivenTokenIn: supply * ((1 + aIn*(1 - fee*(1-w))/b)^w - 1)
func bptOutGivenTokenIn(b, w, supply, aIn, fee decimal.Decimal) (decimal.Decimal, error) {
	if !b.IsPositive() || !supply.IsPositive() || !aIn.IsPositive() || !w.IsPositive() {
		return decimal.Zero, errBadInput
	}
	ratio := one.Add(div(aIn.Mul(joinFeeFactor(w, fee)), b))
	p, err := pow(ratio, w)
	if err != nil {
		return decimal.Zero, err
	}
	out := supply.Mul(p.Sub(one))
	if !out.IsPositive() {
		return decimal.Zero, errInsufficientLiquidity
	}
	return out, nil
}

// tokenOutGivenBptIn: b * (1 - (1 - bptIn/supply)^(1/w)) * (1 - fee*(1-w))
func tokenOutGivenBptIn(b, w, supply, bptIn, fee decimal.Decimal) (decimal.Decimal, error) {
	if !b.IsPositive() || !supply.IsPositive() || !bptIn.IsPositive() || !w.IsPositive() {
		return decimal.Zero, errBadInput
	}
	if bptIn.GreaterThanOrEqual(supply) {
		return decimal.Zero, errInsufficientLiquidity
	}
	p, err := pow(one.Sub(div(bptIn, supply)), div(one, w))
	if err != nil {
		return decimal.Zero, err
	}
	out := b.Mul(one.Sub(p)).Mul(joinFeeFactor(w, fee))
	if !out.IsPositive() || out.GreaterThanOrEqual(b) {
		return decimal.Zero, errInsufficientLiquidity
	}
	return out, nil
}

// joinSpotPrice is tokens paid per BPT received at the margin
func joinSpotPrice(b, w, supply, fee decimal.Decimal) decimal.Decimal {
	den := supply.Mul(w).Mul(joinFeeFactor(w, fee))
	if !den.IsPositive() {
		return decimal.Zero
	}
	return div(b, den)
}

// exitSpotPrice is BPT paid per token received at the margin
func exitSpotPrice(b, w, supply, fee decimal.Decimal) decimal.Decimal {
	den := b.Mul(joinFeeFactor(w, fee))
	if !den.IsPositive() {
		return decimal.Zero
	}
	return div(supply.Mul(w), den)
}
