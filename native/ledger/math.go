package ledger

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// indexScale anchors the accrual index: an index equal to indexScale means
	// one share is worth exactly one unit of balance.
	indexScale = mustBigInt("1000000000000000000") // 1e18
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// sharesFromValue converts a balance value into shares at the given index,
// rounding down. A zero result for a positive value means the value is dust
// at the current index.
func sharesFromValue(value, index *big.Int) *big.Int {
	if value == nil || value.Sign() <= 0 || index == nil || index.Sign() <= 0 {
		return big.NewInt(0)
	}
	shares := new(big.Int).Mul(value, indexScale)
	return shares.Quo(shares, index)
}

// valueFromShares converts shares into a balance value at the given index,
// rounding down.
func valueFromShares(shares, index *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || index == nil || index.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(shares, index)
	return value.Quo(value, indexScale)
}

// grownIndex applies a simple per-period interest factor to the index:
// index × (1 + rateBps/10000 × elapsed/secondsPerYear), floored. The result
// is never below the input index, so the index cannot decrease through this
// path even under adversarial rounding.
func grownIndex(index *big.Int, rateBps uint64, elapsedSeconds uint64) *big.Int {
	if index == nil || index.Sign() <= 0 {
		return new(big.Int).Set(indexScale)
	}
	if rateBps == 0 || elapsedSeconds == 0 {
		return new(big.Int).Set(index)
	}
	denominator := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	numerator := new(big.Int).Mul(new(big.Int).SetUint64(rateBps), new(big.Int).SetUint64(elapsedSeconds))
	numerator.Add(numerator, denominator)

	grown := new(big.Int).Mul(index, numerator)
	grown.Quo(grown, denominator)
	if grown.Cmp(index) < 0 {
		return new(big.Int).Set(index)
	}
	return grown
}
