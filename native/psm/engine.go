package psm

import (
	"errors"
	"math/big"
	"time"

	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
)

var (
	errNilState            = errors.New("psm engine: state not configured")
	errNilLedger           = errors.New("psm engine: share ledger not configured")
	errZeroAmount          = errors.New("psm: amount must be positive")
	errDustAmount          = errors.New("psm: amount truncates below one base unit")
	errMintCapExceeded     = errors.New("psm: mint cap exceeded")
	errInsufficientReserve = errors.New("psm: insufficient reserve")
	errInsufficientStable  = errors.New("psm: insufficient stable balance")
	errInvalidParameter    = errors.New("psm: parameter outside allowed bounds")
	errNotGovernance       = errors.New("psm: caller lacks governance role")
)

// Exported sentinels callers are expected to match on.
var (
	ErrZeroAmount          = errZeroAmount
	ErrDustAmount          = errDustAmount
	ErrMintCapExceeded     = errMintCapExceeded
	ErrInsufficientReserve = errInsufficientReserve
	ErrInsufficientStable  = errInsufficientStable
	ErrInvalidParameter    = errInvalidParameter
)

const moduleName = "psm"

const roleGovernance = "ROLE_GOVERNANCE"

type engineState interface {
	PSMState() (*ReserveState, error)
	SetPSMState(state *ReserveState) error
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	SetBalance(addr crypto.Address, symbol string, amount *big.Int) error
	SwapQuota(addr crypto.Address) (nativecommon.QuotaNow, error)
	SetSwapQuota(addr crypto.Address, now nativecommon.QuotaNow) error
	HasRole(role string, addr crypto.Address) bool
}

// shareLedger is the slice of the ledger engine the PSM needs: gated supply
// mutation on behalf of its module address.
type shareLedger interface {
	Mint(caller, to crypto.Address, value *big.Int) (*big.Int, error)
	Burn(caller, from crypto.Address, value *big.Int) (*big.Int, error)
}

// SwapResult reports the amounts moved by one swap for receipts, events, and
// metrics.
type SwapResult struct {
	Direction    string
	Account      crypto.Address
	StableAmount *big.Int
	HydAmount    *big.Int
	Fee          *big.Int
	Timestamp    time.Time
}

// Swap directions recorded on results and receipts.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Engine implements the peg stability module: near-1:1 swaps between the
// whitelisted reference stable asset and HYD, bounded by fees and a global
// mint cap. The engine holds the minter capability on the share ledger via
// its module address and custodies the stable reserve under the same address.
type Engine struct {
	state         engineState
	ledger        shareLedger
	moduleAddress crypto.Address
	stableSymbol  string
	pauses        nativecommon.PauseView
	quota         nativecommon.Quota
	clock         func() time.Time
}

// NewEngine constructs a PSM engine custodying reserves under moduleAddr and
// swapping the given stable symbol.
func NewEngine(moduleAddr crypto.Address, stableSymbol string) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		stableSymbol:  stableSymbol,
		clock:         time.Now,
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

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetQuota configures the per-address swap velocity limits. A zero quota
// disables the check.
func (e *Engine) SetQuota(q nativecommon.Quota) {
	if e == nil {
		return
	}
	e.quota = q
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// ModuleAddress returns the address custodying the stable reserve. It must be
// granted the minter capability on the share ledger.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// StableSymbol returns the reference stable asset symbol the engine swaps.
func (e *Engine) StableSymbol() string { return e.stableSymbol }

func (e *Engine) ensureState() (*ReserveState, error) {
	state, err := e.state.PSMState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &ReserveState{}
	}
	state.Normalize()
	return state, nil
}

func (e *Engine) checkQuota(op string, addr crypto.Address, hydAmount *big.Int) (nativecommon.QuotaNow, bool, error) {
	if !e.quota.Enabled() {
		return nativecommon.QuotaNow{}, false, nil
	}
	prev, err := e.state.SwapQuota(addr)
	if err != nil {
		return nativecommon.QuotaNow{}, false, err
	}
	epoch := nativecommon.EpochForTimestamp(e.quota, e.clock().Unix())
	wholeTokens := new(big.Int).Quo(hydAmount, hydUnit)
	var amount uint64
	if wholeTokens.IsUint64() {
		amount = wholeTokens.Uint64()
	} else {
		amount = ^uint64(0)
	}
	next, err := nativecommon.CheckQuota(e.quota, epoch, prev, 1, amount)
	if err != nil {
		return nativecommon.QuotaNow{}, false, fault.Capacity(op, err)
	}
	return next, true, nil
}

// SwapIn pulls stableAmount of the reference stable asset from the caller,
// mints the fee-adjusted HYD equivalent, and grows the reserve. The mint cap
// is checked against the post-swap total before any state moves.
func (e *Engine) SwapIn(caller crypto.Address, stableAmount *big.Int) (*SwapResult, error) {
	const op = "psm.swapIn"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if stableAmount == nil || stableAmount.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}

	gross := new(big.Int).Mul(stableAmount, stableScale)
	hydOut, fee := applyFee(gross, state.FeeInBps)
	if hydOut.Sign() == 0 {
		return nil, fault.Validation(op, errDustAmount)
	}

	newMinted := new(big.Int).Add(state.TotalMinted, hydOut)
	if newMinted.Cmp(state.MaxMintedCap) > 0 {
		return nil, fault.Capacity(op, errMintCapExceeded)
	}

	quotaNext, quotaDirty, err := e.checkQuota(op, caller, hydOut)
	if err != nil {
		return nil, err
	}

	callerBalance, err := e.state.Balance(caller, e.stableSymbol)
	if err != nil {
		return nil, err
	}
	if callerBalance.Cmp(stableAmount) < 0 {
		return nil, fault.Validation(op, errInsufficientStable)
	}
	moduleBalance, err := e.state.Balance(e.moduleAddress, e.stableSymbol)
	if err != nil {
		return nil, err
	}

	// The mint rejects a paused ledger or a dust share conversion before any
	// reserve state moves, mirroring the burn-first ordering of SwapOut.
	if _, err := e.ledger.Mint(e.moduleAddress, caller, hydOut); err != nil {
		return nil, err
	}

	if err := e.state.SetBalance(caller, e.stableSymbol, new(big.Int).Sub(callerBalance, stableAmount)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, e.stableSymbol, new(big.Int).Add(moduleBalance, stableAmount)); err != nil {
		return nil, err
	}
	state.ReserveBalance = new(big.Int).Add(state.ReserveBalance, stableAmount)
	state.TotalMinted = newMinted
	if err := e.state.SetPSMState(state); err != nil {
		return nil, err
	}
	if quotaDirty {
		if err := e.state.SetSwapQuota(caller, quotaNext); err != nil {
			return nil, err
		}
	}

	return &SwapResult{
		Direction:    DirectionIn,
		Account:      caller,
		StableAmount: new(big.Int).Set(stableAmount),
		HydAmount:    hydOut,
		Fee:          fee,
		Timestamp:    e.clock(),
	}, nil
}

// SwapOut burns hydAmount from the caller and releases the fee-adjusted
// stable equivalent from the reserve. TotalMinted saturates at zero so yield
// distributed through the accrual index can be swapped out without
// underflowing the counter.
func (e *Engine) SwapOut(caller crypto.Address, hydAmount *big.Int) (*SwapResult, error) {
	const op = "psm.swapOut"
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

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}

	grossStable := new(big.Int).Quo(hydAmount, stableScale)
	stableOut, _ := applyFee(grossStable, state.FeeOutBps)
	if stableOut.Sign() == 0 {
		return nil, fault.Validation(op, errDustAmount)
	}
	if state.ReserveBalance.Cmp(stableOut) < 0 {
		return nil, fault.Capacity(op, errInsufficientReserve)
	}
	// The fee is the HYD value retained by the reserve after the payout.
	fee := new(big.Int).Sub(hydAmount, new(big.Int).Mul(stableOut, stableScale))

	quotaNext, quotaDirty, err := e.checkQuota(op, caller, hydAmount)
	if err != nil {
		return nil, err
	}

	// The burn rejects callers without sufficient HYD before any reserve
	// state moves.
	if _, err := e.ledger.Burn(e.moduleAddress, caller, hydAmount); err != nil {
		return nil, err
	}

	if state.TotalMinted.Cmp(hydAmount) <= 0 {
		state.TotalMinted = big.NewInt(0)
	} else {
		state.TotalMinted = new(big.Int).Sub(state.TotalMinted, hydAmount)
	}
	state.ReserveBalance = new(big.Int).Sub(state.ReserveBalance, stableOut)
	if err := e.state.SetPSMState(state); err != nil {
		return nil, err
	}
	if quotaDirty {
		if err := e.state.SetSwapQuota(caller, quotaNext); err != nil {
			return nil, err
		}
	}

	moduleBalance, err := e.state.Balance(e.moduleAddress, e.stableSymbol)
	if err != nil {
		return nil, err
	}
	if moduleBalance.Cmp(stableOut) < 0 {
		return nil, fault.Capacity(op, errInsufficientReserve)
	}
	callerBalance, err := e.state.Balance(caller, e.stableSymbol)
	if err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(e.moduleAddress, e.stableSymbol, new(big.Int).Sub(moduleBalance, stableOut)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(caller, e.stableSymbol, new(big.Int).Add(callerBalance, stableOut)); err != nil {
		return nil, err
	}

	return &SwapResult{
		Direction:    DirectionOut,
		Account:      caller,
		StableAmount: stableOut,
		HydAmount:    new(big.Int).Set(hydAmount),
		Fee:          fee,
		Timestamp:    e.clock(),
	}, nil
}

// SetFees updates both swap fees. Governance only; either fee above MaxFeeBps
// is rejected without touching the other.
func (e *Engine) SetFees(caller crypto.Address, feeInBps, feeOutBps uint64) error {
	const op = "psm.setFees"
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(roleGovernance, caller) {
		return fault.Authorization(op, errNotGovernance)
	}
	if feeInBps > MaxFeeBps || feeOutBps > MaxFeeBps {
		return fault.Validation(op, errInvalidParameter)
	}
	state, err := e.ensureState()
	if err != nil {
		return err
	}
	state.FeeInBps = feeInBps
	state.FeeOutBps = feeOutBps
	return e.state.SetPSMState(state)
}

// SetMintCap updates the global mint cap. Governance only. A zero cap
// disables minting through SwapIn entirely; lowering the cap below the
// current total blocks further mints without forcing redemptions.
func (e *Engine) SetMintCap(caller crypto.Address, cap *big.Int) error {
	const op = "psm.setMintCap"
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(roleGovernance, caller) {
		return fault.Authorization(op, errNotGovernance)
	}
	if cap == nil || cap.Sign() < 0 {
		return fault.Validation(op, errInvalidParameter)
	}
	state, err := e.ensureState()
	if err != nil {
		return err
	}
	state.MaxMintedCap = new(big.Int).Set(cap)
	return e.state.SetPSMState(state)
}

// Reserve returns a copy of the current reserve state for snapshots and the
// ops surface.
func (e *Engine) Reserve() (*ReserveState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}
