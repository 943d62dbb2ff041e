package treasury

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// valueScale anchors USD values and HYD amounts at 18 decimals; oracle
	// prices are USD per whole asset unit on the same scale.
	valueScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// collateralValue converts an asset amount into its 1e18 USD value at the
// given price, flooring.
func collateralValue(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil || amount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, valueScale)
}

// collateralAmount converts a 1e18 USD value back into asset units at the
// given price, flooring.
func collateralAmount(value, price *big.Int) *big.Int {
	if value == nil || price == nil || value.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(value, valueScale)
	return amount.Quo(amount, price)
}

// bpsShare returns amount × bps / 10000, floored.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// mintableAmount applies the tier policy: value × ltv × (1 − discount),
// floored at each step so the vault never over-mints by rounding.
func mintableAmount(value *big.Int, ltvBps, discountBps uint64) *big.Int {
	afterLTV := bpsShare(value, ltvBps)
	if discountBps == 0 {
		return afterLTV
	}
	return bpsShare(afterLTV, 10_000-discountBps)
}

// healthFactorBps computes collateralValue / debt in basis points, where
// 10000 means exactly 100%. Callers must handle zero debt before calling.
func healthFactorBps(value, debt *big.Int) *big.Int {
	hf := new(big.Int).Mul(value, basisPoints)
	return hf.Quo(hf, debt)
}

// partialRepayAmount computes the minimal debt repayment that restores the
// health factor to targetBps, given the seizure takes repay × (1 + penalty)
// worth of collateral:
//
//	(V − repay×(10000+penalty)/10000) / (D − repay) ≥ target/10000
//	⇒ repay ≥ (target×D − 10000×V) / (target − 10000 − penalty)
//
// The division rounds up so the post-liquidation health factor lands at or
// above the target. The result is clamped to [0, D].
func partialRepayAmount(value, debt *big.Int, targetBps, penaltyBps uint64) *big.Int {
	numerator := new(big.Int).Mul(debt, new(big.Int).SetUint64(targetBps))
	numerator.Sub(numerator, new(big.Int).Mul(value, basisPoints))
	if numerator.Sign() <= 0 {
		return big.NewInt(0)
	}
	denominator := new(big.Int).SetUint64(targetBps - 10_000 - penaltyBps)
	repay := new(big.Int).Add(numerator, new(big.Int).Sub(denominator, big.NewInt(1)))
	repay.Quo(repay, denominator)
	if repay.Cmp(debt) > 0 {
		return new(big.Int).Set(debt)
	}
	return repay
}
