package psm

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// stableScale bridges the reference stable asset's 6 decimals and the
	// ledger token's 18 decimals.
	stableScale = big.NewInt(1_000_000_000_000) // 1e12
	hydUnit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// MaxFeeBps is the hard ceiling on swap fees. Operational configurations sit
// far below it; governance cannot push either fee past this bound.
const MaxFeeBps uint64 = 10_000

// ReserveState is the singleton backing record for the peg stability module:
// the custodied reference stable reserve, the swap fees, and the running mint
// total against its cap. All amounts are base units of their respective
// tokens (1e6 stable, 1e18 HYD).
type ReserveState struct {
	ReserveBalance *big.Int
	FeeInBps       uint64
	FeeOutBps      uint64
	TotalMinted    *big.Int
	MaxMintedCap   *big.Int
}

// Normalize replaces nil amounts with zero so engine code can mutate the
// state without nil checks.
func (s *ReserveState) Normalize() {
	if s == nil {
		return
	}
	if s.ReserveBalance == nil {
		s.ReserveBalance = big.NewInt(0)
	}
	if s.TotalMinted == nil {
		s.TotalMinted = big.NewInt(0)
	}
	if s.MaxMintedCap == nil {
		s.MaxMintedCap = big.NewInt(0)
	}
}

// Clone returns a deep copy safe to hand across engine boundaries.
func (s *ReserveState) Clone() *ReserveState {
	if s == nil {
		return nil
	}
	clone := &ReserveState{FeeInBps: s.FeeInBps, FeeOutBps: s.FeeOutBps}
	if s.ReserveBalance != nil {
		clone.ReserveBalance = new(big.Int).Set(s.ReserveBalance)
	}
	if s.TotalMinted != nil {
		clone.TotalMinted = new(big.Int).Set(s.TotalMinted)
	}
	if s.MaxMintedCap != nil {
		clone.MaxMintedCap = new(big.Int).Set(s.MaxMintedCap)
	}
	return clone
}

// applyFee returns amount × (10000 − feeBps) / 10000, floored, together with
// the fee taken.
func applyFee(amount *big.Int, feeBps uint64) (*big.Int, *big.Int) {
	keepBps := new(big.Int).SetUint64(MaxFeeBps - feeBps)
	net := new(big.Int).Mul(amount, keepBps)
	net.Quo(net, basisPoints)
	fee := new(big.Int).Sub(amount, net)
	return net, fee
}
