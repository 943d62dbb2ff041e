package treasury

import (
	"errors"
	"math/big"

	"hydchain/crypto"
)

// PositionStatus tracks the lifecycle of a collateral position. Closed
// statuses are terminal; a fresh deposit against the same (owner, asset) pair
// re-creates an open position under a new identifier.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionRedeemed   PositionStatus = "redeemed"
	PositionLiquidated PositionStatus = "liquidated"
)

// TierConfig is the governance-set collateral policy for one whitelisted RWA
// asset: which risk tier it belongs to, how much HYD may be minted per unit
// of value, and the aggregate deposit cap. PerAssetCapUSD is 1e18-scaled; a
// zero cap disables the limit.
type TierConfig struct {
	Asset           string
	Tier            uint8
	LTVBps          uint64
	MintDiscountBps uint64
	PerAssetCapUSD  *big.Int
	Active          bool
}

// Normalize replaces nil amounts with zero.
func (c *TierConfig) Normalize() {
	if c == nil {
		return
	}
	if c.PerAssetCapUSD == nil {
		c.PerAssetCapUSD = big.NewInt(0)
	}
}

// Clone returns a deep copy.
func (c *TierConfig) Clone() *TierConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.PerAssetCapUSD != nil {
		clone.PerAssetCapUSD = new(big.Int).Set(c.PerAssetCapUSD)
	}
	return &clone
}

// Validate rejects configurations the vault cannot safely operate with.
func (c *TierConfig) Validate() error {
	if c == nil {
		return errors.New("treasury: nil tier config")
	}
	if c.Asset == "" {
		return errors.New("treasury: tier asset symbol required")
	}
	if c.Tier < 1 || c.Tier > 3 {
		return errors.New("treasury: tier must be 1, 2, or 3")
	}
	if c.LTVBps > 10_000 {
		return errors.New("treasury: ltv ratio above 100%")
	}
	if c.MintDiscountBps > 10_000 {
		return errors.New("treasury: mint discount above 100%")
	}
	if c.PerAssetCapUSD != nil && c.PerAssetCapUSD.Sign() < 0 {
		return errors.New("treasury: negative per-asset cap")
	}
	return nil
}

// Position is one user's collateral deposit against one asset. ValueAtMint
// accumulates the oracle value of the collateral at each mint so the original
// loan-to-value bound stays checkable after prices move; Collateral and Debt
// are live balances in asset base units and HYD respectively.
type Position struct {
	ID          string
	Owner       crypto.Address
	Asset       string
	Tier        uint8
	Collateral  *big.Int
	Debt        *big.Int
	ValueAtMint *big.Int
	CreatedAt   int64
	LastAction  int64
	Status      PositionStatus
}

// Normalize replaces nil amounts with zero and defaults the status.
func (p *Position) Normalize() {
	if p == nil {
		return
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
	if p.ValueAtMint == nil {
		p.ValueAtMint = big.NewInt(0)
	}
	if p.Status == "" {
		p.Status = PositionOpen
	}
}

// Clone returns a deep copy safe to hand across engine boundaries.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	if p.ValueAtMint != nil {
		clone.ValueAtMint = new(big.Int).Set(p.ValueAtMint)
	}
	return &clone
}

// Open reports whether the position can still be acted on.
func (p *Position) Open() bool {
	return p != nil && p.Status == PositionOpen
}

// Params are the vault's governance-tunable risk knobs. All basis-point
// values share the 10000 = 100% convention; DustDebt is 1e18-scaled HYD.
type Params struct {
	CooldownSeconds         uint64
	MinimumHoldSeconds      uint64
	RedeemFeeBps            uint64
	EarlyRedeemFeeBps       uint64
	MaxQuoteAgeSeconds      uint64
	LiquidationThresholdBps uint64
	LiquidationTargetBps    uint64
	LiquidationPenaltyBps   uint64
	LiquidatorShareBps      uint64
	ProtocolShareBps        uint64
	DustDebt                *big.Int
}

// DefaultParams returns the observed runtime configuration: 7 day cooldown,
// 30 day hold period, 0.5% + 0.3% redemption fees, 115%/125% liquidation
// band, 5% penalty split 4/1, and a 50 HYD dust threshold.
func DefaultParams() Params {
	return Params{
		CooldownSeconds:         7 * 24 * 3600,
		MinimumHoldSeconds:      30 * 24 * 3600,
		RedeemFeeBps:            50,
		EarlyRedeemFeeBps:       30,
		MaxQuoteAgeSeconds:      300,
		LiquidationThresholdBps: 11_500,
		LiquidationTargetBps:    12_500,
		LiquidationPenaltyBps:   500,
		LiquidatorShareBps:      400,
		ProtocolShareBps:        100,
		DustDebt:                new(big.Int).Mul(big.NewInt(50), valueScale),
	}
}

// Normalize fills zero-valued knobs with defaults.
func (p *Params) Normalize() {
	defaults := DefaultParams()
	if p.CooldownSeconds == 0 {
		p.CooldownSeconds = defaults.CooldownSeconds
	}
	if p.MinimumHoldSeconds == 0 {
		p.MinimumHoldSeconds = defaults.MinimumHoldSeconds
	}
	if p.MaxQuoteAgeSeconds == 0 {
		p.MaxQuoteAgeSeconds = defaults.MaxQuoteAgeSeconds
	}
	if p.LiquidationThresholdBps == 0 {
		p.LiquidationThresholdBps = defaults.LiquidationThresholdBps
	}
	if p.LiquidationTargetBps == 0 {
		p.LiquidationTargetBps = defaults.LiquidationTargetBps
	}
	if p.LiquidationPenaltyBps == 0 {
		p.LiquidationPenaltyBps = defaults.LiquidationPenaltyBps
		p.LiquidatorShareBps = defaults.LiquidatorShareBps
		p.ProtocolShareBps = defaults.ProtocolShareBps
	}
	if p.DustDebt == nil {
		p.DustDebt = new(big.Int).Set(defaults.DustDebt)
	}
}

// Validate rejects parameter sets the liquidation math cannot operate with:
// the restore target must exceed both the trigger threshold and the penalty
// factor, and the penalty split must add up.
func (p *Params) Validate() error {
	if p.LiquidationTargetBps <= p.LiquidationThresholdBps {
		return errors.New("treasury: liquidation target must exceed threshold")
	}
	if p.LiquidationTargetBps <= 10_000+p.LiquidationPenaltyBps {
		return errors.New("treasury: liquidation target must exceed penalty factor")
	}
	if p.LiquidatorShareBps+p.ProtocolShareBps != p.LiquidationPenaltyBps {
		return errors.New("treasury: penalty split does not sum to penalty")
	}
	if p.RedeemFeeBps+p.EarlyRedeemFeeBps > 10_000 {
		return errors.New("treasury: redemption fee above 100%")
	}
	if p.DustDebt != nil && p.DustDebt.Sign() < 0 {
		return errors.New("treasury: negative dust threshold")
	}
	return nil
}

// DepositResult reports the outcome of a collateral deposit.
type DepositResult struct {
	Position *Position
	Minted   *big.Int
	RWAValue *big.Int
	Price    *big.Int
}

// RedeemResult reports the outcome of a redemption.
type RedeemResult struct {
	Position           *Position
	Burned             *big.Int
	CollateralReturned *big.Int
	FeeCollateral      *big.Int
	EarlyRedemption    bool
	Closed             bool
}

// LiquidationResult reports the outcome of a liquidation.
type LiquidationResult struct {
	Position             *Position
	Repaid               *big.Int
	SeizedCollateral     *big.Int
	LiquidatorCollateral *big.Int
	ProtocolCollateral   *big.Int
	ReturnedCollateral   *big.Int
	BadDebt              *big.Int
	Partial              bool
	Closed               bool
}
