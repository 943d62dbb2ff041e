package treasury

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
	"hydchain/native/oracle"
)

var (
	errNilState             = errors.New("treasury engine: state not configured")
	errNilLedger            = errors.New("treasury engine: share ledger not configured")
	errNilOracle            = errors.New("treasury engine: price source not configured")
	errZeroAmount           = errors.New("treasury: amount must be positive")
	errUnknownAsset         = errors.New("treasury: asset has no tier configuration")
	errAssetInactive        = errors.New("treasury: asset deposits disabled")
	errStalePrice           = errors.New("treasury: oracle price stale")
	errPriceDeviation       = errors.New("treasury: oracle deviation latch set")
	errAssetCapExceeded     = errors.New("treasury: per-asset deposit cap exceeded")
	errDustMint             = errors.New("treasury: mint amount truncates to zero")
	errInsufficientBalance  = errors.New("treasury: insufficient collateral balance")
	errPositionNotFound     = errors.New("treasury: position not found")
	errPositionClosed       = errors.New("treasury: position closed")
	errCooldownActive       = errors.New("treasury: redemption cooldown active")
	errInsufficientDebt     = errors.New("treasury: redemption exceeds outstanding debt")
	errNotLiquidatable      = errors.New("treasury: health factor above liquidation threshold")
	errNotGovernance        = errors.New("treasury: caller lacks governance role")
	errInvalidTier          = errors.New("treasury: invalid tier configuration")
	errCustodyShortfall     = errors.New("treasury: module collateral balance below seizure")
)

// Exported sentinels callers are expected to match on.
var (
	ErrUnknownAsset     = errUnknownAsset
	ErrAssetInactive    = errAssetInactive
	ErrStalePrice       = errStalePrice
	ErrPriceDeviation   = errPriceDeviation
	ErrAssetCapExceeded = errAssetCapExceeded
	ErrCooldownActive   = errCooldownActive
	ErrInsufficientDebt = errInsufficientDebt
	ErrPositionNotFound = errPositionNotFound
	ErrPositionClosed   = errPositionClosed
	ErrNotLiquidatable  = errNotLiquidatable
)

// UnboundedHealthFactor is the sentinel reported for positions with zero
// debt: no price move can make them liquidatable.
var UnboundedHealthFactor = new(big.Int).Lsh(big.NewInt(1), 255)

const moduleName = "treasury"

const roleGovernance = "ROLE_GOVERNANCE"

type engineState interface {
	Position(owner crypto.Address, asset string) (*Position, bool, error)
	PutPosition(position *Position) error
	PositionList() ([]*Position, error)
	Tier(asset string) (*TierConfig, bool, error)
	PutTier(config *TierConfig) error
	TierList() ([]*TierConfig, error)
	AssetUsage(asset string) (*big.Int, error)
	SetAssetUsage(asset string, usage *big.Int) error
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	SetBalance(addr crypto.Address, symbol string, amount *big.Int) error
	HasRole(role string, addr crypto.Address) bool
}

type shareLedger interface {
	Mint(caller, to crypto.Address, value *big.Int) (*big.Int, error)
	Burn(caller, from crypto.Address, value *big.Int) (*big.Int, error)
}

// priceSource is the slice of the oracle aggregator the vault consumes. One
// quote is fetched per operation and reused for every computation inside it.
type priceSource interface {
	GetPrice(asset string) (oracle.Quote, error)
	DeviationExceeded(asset string) bool
}

// Engine is the collateral vault: it accepts whitelisted RWA deposits at
// tier-specific loan-to-value ratios, mints HYD against them, and enforces
// cooldown-gated redemption and health-factor-gated liquidation. Collateral
// is custodied under the module address, which also holds the ledger minter
// capability.
type Engine struct {
	state           engineState
	ledger          shareLedger
	oracle          priceSource
	moduleAddress   crypto.Address
	protocolFeeAddr crypto.Address
	params          Params
	pauses          nativecommon.PauseView
	clock           func() time.Time
}

// NewEngine constructs a vault engine custodying collateral under moduleAddr
// and routing protocol fees to feeAddr.
func NewEngine(moduleAddr, feeAddr crypto.Address, params Params) *Engine {
	params.Normalize()
	return &Engine{
		moduleAddress:   moduleAddr,
		protocolFeeAddr: feeAddr,
		params:          params,
		clock:           time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the share ledger the engine mints and burns through.
func (e *Engine) SetLedger(ledger shareLedger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetOracle wires the price source.
func (e *Engine) SetOracle(source priceSource) {
	if e == nil {
		return
	}
	e.oracle = source
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetParams replaces the risk parameters after validating them. Governance
// wiring calls this when the parameter store changes.
func (e *Engine) SetParams(params Params) error {
	if e == nil {
		return errNilState
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params
	return nil
}

// Params returns a copy of the active risk parameters.
func (e *Engine) Params() Params {
	params := e.params
	if params.DustDebt != nil {
		params.DustDebt = new(big.Int).Set(params.DustDebt)
	}
	return params
}

// ModuleAddress returns the collateral custodian address. It must be granted
// the minter capability on the share ledger.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// quote fetches one oracle snapshot for the operation and applies the
// staleness bound. The deviation latch blocks deposits only; liquidation and
// redemption keep working through it.
func (e *Engine) quote(op, asset string, checkDeviation bool) (oracle.Quote, error) {
	if e.oracle == nil {
		return oracle.Quote{}, errNilOracle
	}
	if checkDeviation && e.oracle.DeviationExceeded(asset) {
		return oracle.Quote{}, fault.Oracle(op, errPriceDeviation)
	}
	quote, err := e.oracle.GetPrice(asset)
	if err != nil {
		return oracle.Quote{}, fault.Oracle(op, err)
	}
	if e.params.MaxQuoteAgeSeconds > 0 {
		age := e.clock().Sub(quote.Timestamp)
		if age > time.Duration(e.params.MaxQuoteAgeSeconds)*time.Second {
			return oracle.Quote{}, fault.Oracle(op, errStalePrice)
		}
	}
	return quote, nil
}

// Deposit locks amount of the asset as collateral and mints the tier-policy
// HYD amount to the depositor. A closed position under the same (owner,
// asset) pair is replaced by a fresh open one.
func (e *Engine) Deposit(owner crypto.Address, asset string, amount *big.Int) (*DepositResult, error) {
	const op = "treasury.deposit"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}
	asset = oracle.NormalizeAsset(asset)

	tier, ok, err := e.state.Tier(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Validation(op, errUnknownAsset)
	}
	tier.Normalize()
	if !tier.Active {
		return nil, fault.State(op, errAssetInactive)
	}

	quote, err := e.quote(op, asset, true)
	if err != nil {
		return nil, err
	}

	rwaValue := collateralValue(amount, quote.Price)
	if rwaValue.Sign() == 0 {
		return nil, fault.Validation(op, errDustMint)
	}

	usage, err := e.state.AssetUsage(asset)
	if err != nil {
		return nil, err
	}
	newUsage := new(big.Int).Add(usage, rwaValue)
	if tier.PerAssetCapUSD.Sign() > 0 && newUsage.Cmp(tier.PerAssetCapUSD) > 0 {
		return nil, fault.Capacity(op, errAssetCapExceeded)
	}

	mintAmount := mintableAmount(rwaValue, tier.LTVBps, tier.MintDiscountBps)
	if mintAmount.Sign() == 0 {
		return nil, fault.Validation(op, errDustMint)
	}

	ownerBalance, err := e.state.Balance(owner, asset)
	if err != nil {
		return nil, err
	}
	if ownerBalance.Cmp(amount) < 0 {
		return nil, fault.Validation(op, errInsufficientBalance)
	}
	moduleBalance, err := e.state.Balance(e.moduleAddress, asset)
	if err != nil {
		return nil, err
	}

	now := e.clock().Unix()
	position, exists, err := e.state.Position(owner, asset)
	if err != nil {
		return nil, err
	}
	if !exists || !position.Open() {
		position = &Position{
			ID:        uuid.New().String(),
			Owner:     owner,
			Asset:     asset,
			CreatedAt: now,
			Status:    PositionOpen,
		}
	}
	position.Normalize()
	position.Tier = tier.Tier
	position.Collateral = new(big.Int).Add(position.Collateral, amount)
	position.Debt = new(big.Int).Add(position.Debt, mintAmount)
	position.ValueAtMint = new(big.Int).Add(position.ValueAtMint, rwaValue)
	position.LastAction = now

	// The mint rejects a paused ledger or a dust share conversion before the
	// custody, position, and cap-usage writes, mirroring the burn-first
	// ordering of Redeem and Liquidate.
	if _, err := e.ledger.Mint(e.moduleAddress, owner, mintAmount); err != nil {
		return nil, err
	}

	if err := e.state.SetBalance(owner, asset, new(big.Int).Sub(ownerBalance, amount)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, asset, new(big.Int).Add(moduleBalance, amount)); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.SetAssetUsage(asset, newUsage); err != nil {
		return nil, err
	}

	return &DepositResult{
		Position: position.Clone(),
		Minted:   mintAmount,
		RWAValue: rwaValue,
		Price:    new(big.Int).Set(quote.Price),
	}, nil
}

// Redeem burns hydAmount against the position and returns the proportional
// collateral minus the redemption fee. The fee doubles as an early-exit
// surcharge when the position is younger than the minimum hold period.
func (e *Engine) Redeem(owner crypto.Address, asset string, hydAmount *big.Int) (*RedeemResult, error) {
	const op = "treasury.redeem"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if hydAmount == nil || hydAmount.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}
	asset = oracle.NormalizeAsset(asset)

	position, exists, err := e.state.Position(owner, asset)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.Validation(op, errPositionNotFound)
	}
	position.Normalize()
	if !position.Open() {
		return nil, fault.State(op, errPositionClosed)
	}

	now := e.clock().Unix()
	if elapsed := now - position.LastAction; elapsed >= 0 && uint64(elapsed) < e.params.CooldownSeconds {
		return nil, fault.State(op, errCooldownActive)
	}
	if hydAmount.Cmp(position.Debt) > 0 {
		return nil, fault.Validation(op, errInsufficientDebt)
	}

	debtBefore := new(big.Int).Set(position.Debt)
	proportional := new(big.Int).Mul(position.Collateral, hydAmount)
	proportional.Quo(proportional, debtBefore)
	valueReleased := new(big.Int).Mul(position.ValueAtMint, hydAmount)
	valueReleased.Quo(valueReleased, debtBefore)

	early := false
	feeBps := e.params.RedeemFeeBps
	if held := now - position.CreatedAt; held >= 0 && uint64(held) < e.params.MinimumHoldSeconds {
		feeBps += e.params.EarlyRedeemFeeBps
		early = true
	}
	feeCollateral := bpsShare(proportional, feeBps)
	returned := new(big.Int).Sub(proportional, feeCollateral)

	// The burn enforces the caller actually holds the HYD being retired.
	if _, err := e.ledger.Burn(e.moduleAddress, owner, hydAmount); err != nil {
		return nil, err
	}

	position.Collateral = new(big.Int).Sub(position.Collateral, proportional)
	position.Debt = new(big.Int).Sub(position.Debt, hydAmount)
	position.ValueAtMint = new(big.Int).Sub(position.ValueAtMint, valueReleased)
	position.LastAction = now
	closed := position.Debt.Sign() == 0
	if closed {
		position.Status = PositionRedeemed
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	usage, err := e.state.AssetUsage(asset)
	if err != nil {
		return nil, err
	}
	usage = new(big.Int).Sub(usage, valueReleased)
	if usage.Sign() < 0 {
		usage = big.NewInt(0)
	}
	if err := e.state.SetAssetUsage(asset, usage); err != nil {
		return nil, err
	}

	// Interactions: collateral leaves module custody last.
	if err := e.moveCollateral(asset, owner, returned); err != nil {
		return nil, err
	}
	if err := e.moveCollateral(asset, e.protocolFeeAddr, feeCollateral); err != nil {
		return nil, err
	}

	return &RedeemResult{
		Position:           position.Clone(),
		Burned:             new(big.Int).Set(hydAmount),
		CollateralReturned: returned,
		FeeCollateral:      feeCollateral,
		EarlyRedemption:    early,
		Closed:             closed,
	}, nil
}

// HealthFactor recomputes the position's health from a fresh oracle read, in
// basis points (10000 = 100%). Zero-debt and closed positions report the
// unbounded sentinel.
func (e *Engine) HealthFactor(owner crypto.Address, asset string) (*big.Int, error) {
	const op = "treasury.healthFactor"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset = oracle.NormalizeAsset(asset)
	position, exists, err := e.state.Position(owner, asset)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.Validation(op, errPositionNotFound)
	}
	position.Normalize()
	if !position.Open() || position.Debt.Sign() == 0 {
		return new(big.Int).Set(UnboundedHealthFactor), nil
	}
	quote, err := e.quote(op, asset, false)
	if err != nil {
		return nil, err
	}
	value := collateralValue(position.Collateral, quote.Price)
	return healthFactorBps(value, position.Debt), nil
}

// Liquidate repays part or all of an unhealthy position's debt from the
// liquidator's HYD balance in exchange for the equivalent collateral plus
// the penalty. The health precondition is evaluated against a fresh quote
// inside the operation, so the first successful caller wins and later
// attempts fail cleanly.
func (e *Engine) Liquidate(liquidator, owner crypto.Address, asset string) (*LiquidationResult, error) {
	const op = "treasury.liquidate"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	asset = oracle.NormalizeAsset(asset)

	position, exists, err := e.state.Position(owner, asset)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.Validation(op, errPositionNotFound)
	}
	position.Normalize()
	if !position.Open() || position.Debt.Sign() == 0 {
		return nil, fault.State(op, errPositionClosed)
	}

	quote, err := e.quote(op, asset, false)
	if err != nil {
		return nil, err
	}
	value := collateralValue(position.Collateral, quote.Price)
	hf := healthFactorBps(value, position.Debt)
	if hf.Cmp(new(big.Int).SetUint64(e.params.LiquidationThresholdBps)) >= 0 {
		return nil, fault.State(op, errNotLiquidatable)
	}

	debtBefore := new(big.Int).Set(position.Debt)
	repay := new(big.Int).Set(debtBefore)
	partial := false
	if debtBefore.Cmp(e.params.DustDebt) > 0 {
		repay = partialRepayAmount(value, debtBefore, e.params.LiquidationTargetBps, e.params.LiquidationPenaltyBps)
		residual := new(big.Int).Sub(debtBefore, repay)
		if repay.Sign() > 0 && repay.Cmp(debtBefore) < 0 && residual.Cmp(e.params.DustDebt) > 0 {
			partial = true
		} else {
			// Residual at or below dust is promoted to a full liquidation.
			repay = new(big.Int).Set(debtBefore)
		}
	}

	seizeValue := bpsShare(repay, 10_000+e.params.LiquidationPenaltyBps)
	seizeCollateral := collateralAmount(seizeValue, quote.Price)
	liquidatorCollateral := collateralAmount(bpsShare(repay, 10_000+e.params.LiquidatorShareBps), quote.Price)

	badDebt := big.NewInt(0)
	if seizeCollateral.Cmp(position.Collateral) > 0 {
		// Not enough collateral to honour the full seizure: seize everything,
		// repay only the debt the collateral value covers at the penalty rate,
		// write the remainder off, and close the position.
		seizeCollateral = new(big.Int).Set(position.Collateral)
		repay = new(big.Int).Mul(value, basisPoints)
		repay.Quo(repay, new(big.Int).SetUint64(10_000+e.params.LiquidationPenaltyBps))
		if repay.Cmp(debtBefore) > 0 {
			repay = new(big.Int).Set(debtBefore)
		}
		liquidatorCollateral = new(big.Int).Mul(seizeCollateral, new(big.Int).SetUint64(10_000+e.params.LiquidatorShareBps))
		liquidatorCollateral.Quo(liquidatorCollateral, new(big.Int).SetUint64(10_000+e.params.LiquidationPenaltyBps))
		partial = false
		badDebt = new(big.Int).Sub(debtBefore, repay)
	}
	if liquidatorCollateral.Cmp(seizeCollateral) > 0 {
		liquidatorCollateral = new(big.Int).Set(seizeCollateral)
	}
	protocolCollateral := new(big.Int).Sub(seizeCollateral, liquidatorCollateral)

	moduleBalance, err := e.state.Balance(e.moduleAddress, asset)
	if err != nil {
		return nil, err
	}
	if moduleBalance.Cmp(position.Collateral) < 0 {
		return nil, fault.State(op, errCustodyShortfall)
	}

	// The burn enforces the liquidator funds the repayment.
	if _, err := e.ledger.Burn(e.moduleAddress, liquidator, repay); err != nil {
		return nil, err
	}

	valueReleased := new(big.Int).Set(position.ValueAtMint)
	returned := big.NewInt(0)
	if partial {
		valueReleased.Mul(position.ValueAtMint, repay)
		valueReleased.Quo(valueReleased, debtBefore)
		position.Collateral = new(big.Int).Sub(position.Collateral, seizeCollateral)
		position.Debt = new(big.Int).Sub(debtBefore, repay)
		position.ValueAtMint = new(big.Int).Sub(position.ValueAtMint, valueReleased)
	} else {
		// Full liquidation: seize, return any remainder to the owner, close.
		returned = new(big.Int).Sub(position.Collateral, seizeCollateral)
		position.Collateral = big.NewInt(0)
		position.Debt = big.NewInt(0)
		position.ValueAtMint = big.NewInt(0)
		position.Status = PositionLiquidated
	}
	position.LastAction = e.clock().Unix()
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	usage, err := e.state.AssetUsage(asset)
	if err != nil {
		return nil, err
	}
	usage = new(big.Int).Sub(usage, valueReleased)
	if usage.Sign() < 0 {
		usage = big.NewInt(0)
	}
	if err := e.state.SetAssetUsage(asset, usage); err != nil {
		return nil, err
	}

	// Interactions: collateral leaves module custody last.
	if err := e.moveCollateral(asset, liquidator, liquidatorCollateral); err != nil {
		return nil, err
	}
	if err := e.moveCollateral(asset, e.protocolFeeAddr, protocolCollateral); err != nil {
		return nil, err
	}
	if err := e.moveCollateral(asset, owner, returned); err != nil {
		return nil, err
	}

	return &LiquidationResult{
		Position:             position.Clone(),
		Repaid:               repay,
		SeizedCollateral:     seizeCollateral,
		LiquidatorCollateral: liquidatorCollateral,
		ProtocolCollateral:   protocolCollateral,
		ReturnedCollateral:   returned,
		BadDebt:              badDebt,
		Partial:              partial,
		Closed:               !partial,
	}, nil
}

// moveCollateral transfers amount of asset out of module custody.
func (e *Engine) moveCollateral(asset string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	moduleBalance, err := e.state.Balance(e.moduleAddress, asset)
	if err != nil {
		return err
	}
	recipientBalance, err := e.state.Balance(to, asset)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(e.moduleAddress, asset, new(big.Int).Sub(moduleBalance, amount)); err != nil {
		return err
	}
	return e.state.SetBalance(to, asset, new(big.Int).Add(recipientBalance, amount))
}

// AddOrUpdateTier installs or replaces the collateral policy for an asset.
// Governance only.
func (e *Engine) AddOrUpdateTier(caller crypto.Address, config *TierConfig) error {
	const op = "treasury.addOrUpdateTier"
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(roleGovernance, caller) {
		return fault.Authorization(op, errNotGovernance)
	}
	if config == nil {
		return fault.Validation(op, errInvalidTier)
	}
	clone := config.Clone()
	clone.Asset = oracle.NormalizeAsset(clone.Asset)
	clone.Normalize()
	if err := clone.Validate(); err != nil {
		return fault.Validation(op, err)
	}
	return e.state.PutTier(clone)
}

// SetAssetActive flips the deposit flag for an asset without touching the
// rest of its tier policy. Governance only.
func (e *Engine) SetAssetActive(caller crypto.Address, asset string, active bool) error {
	const op = "treasury.setAssetActive"
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(roleGovernance, caller) {
		return fault.Authorization(op, errNotGovernance)
	}
	asset = oracle.NormalizeAsset(asset)
	tier, ok, err := e.state.Tier(asset)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Validation(op, errUnknownAsset)
	}
	tier.Active = active
	return e.state.PutTier(tier)
}

// PositionOf returns a copy of the stored position.
func (e *Engine) PositionOf(owner crypto.Address, asset string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, exists, err := e.state.Position(owner, oracle.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errPositionNotFound
	}
	position.Normalize()
	return position.Clone(), nil
}

// Positions returns copies of every stored position, open and closed.
func (e *Engine) Positions() ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	positions, err := e.state.PositionList()
	if err != nil {
		return nil, err
	}
	cloned := make([]*Position, 0, len(positions))
	for _, position := range positions {
		position.Normalize()
		cloned = append(cloned, position.Clone())
	}
	return cloned, nil
}

// Tiers returns copies of every configured tier policy.
func (e *Engine) Tiers() ([]*TierConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tiers, err := e.state.TierList()
	if err != nil {
		return nil, err
	}
	cloned := make([]*TierConfig, 0, len(tiers))
	for _, tier := range tiers {
		tier.Normalize()
		cloned = append(cloned, tier.Clone())
	}
	return cloned, nil
}
