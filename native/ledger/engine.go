package ledger

import (
	"errors"
	"math/big"

	"hydchain/core/types"
	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
)

var (
	errNilState          = errors.New("ledger engine: state not configured")
	errZeroAmount        = errors.New("ledger: amount must be positive")
	errDustValue         = errors.New("ledger: value truncates to zero shares")
	errUnauthorized      = errors.New("ledger: caller lacks minter capability")
	errAccrueForbidden   = errors.New("ledger: caller lacks accrual capability")
	errInsufficientShare = errors.New("ledger: insufficient shares")
	errIndexRegression   = errors.New("ledger: accrual index may not decrease")
)

// Exported sentinels callers are expected to match on.
var (
	ErrZeroAmount        = errZeroAmount
	ErrDustValue         = errDustValue
	ErrUnauthorized      = errUnauthorized
	ErrInsufficientShare = errInsufficientShare
)

const moduleName = "ledger"

// State captures the global share supply and accrual index. TotalShares only
// moves through mint and burn; AccrualIndex only moves upward through Accrue.
type State struct {
	TotalShares  *big.Int
	AccrualIndex *big.Int
}

// Normalize installs the bootstrap values: zero shares at an index of one.
func (s *State) Normalize() {
	if s == nil {
		return
	}
	if s.TotalShares == nil {
		s.TotalShares = big.NewInt(0)
	}
	if s.AccrualIndex == nil || s.AccrualIndex.Sign() <= 0 {
		s.AccrualIndex = new(big.Int).Set(indexScale)
	}
}

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	LedgerState() (*State, error)
	SetLedgerState(state *State) error
}

// Engine is the share-based balance store every other module mints and burns
// through. Balances are derived: balance = shares × index / 1e18, floored.
type Engine struct {
	state    engineState
	minters  map[string]struct{}
	accruers map[string]struct{}
	pauses   nativecommon.PauseView
}

// NewEngine constructs a ledger engine with empty capability sets.
func NewEngine() *Engine {
	return &Engine{
		minters:  make(map[string]struct{}),
		accruers: make(map[string]struct{}),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMinter grants mint and burn capability to a module address.
func (e *Engine) SetMinter(addr crypto.Address) {
	if e == nil || addr.IsZero() {
		return
	}
	e.minters[string(addr.Bytes())] = struct{}{}
}

// SetAccruer grants accrual capability to a module address.
func (e *Engine) SetAccruer(addr crypto.Address) {
	if e == nil || addr.IsZero() {
		return
	}
	e.accruers[string(addr.Bytes())] = struct{}{}
}

func (e *Engine) isMinter(addr crypto.Address) bool {
	_, ok := e.minters[string(addr.Bytes())]
	return ok
}

func (e *Engine) isAccruer(addr crypto.Address) bool {
	_, ok := e.accruers[string(addr.Bytes())]
	return ok
}

func (e *Engine) ensureState() (*State, error) {
	state, err := e.state.LedgerState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &State{}
	}
	state.Normalize()
	return state, nil
}

// Mint converts value into shares at the current index and credits them to
// the recipient. Only addresses granted the minter capability may call it.
// The minted share amount is returned for downstream accounting.
func (e *Engine) Mint(caller, to crypto.Address, value *big.Int) (*big.Int, error) {
	const op = "ledger.mint"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if !e.isMinter(caller) {
		return nil, fault.Authorization(op, errUnauthorized)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	shares := sharesFromValue(value, state.AccrualIndex)
	if shares.Sign() == 0 {
		return nil, fault.Validation(op, errDustValue)
	}

	account, err := e.state.GetAccount(to)
	if err != nil {
		return nil, err
	}
	account.Shares = new(big.Int).Add(account.Shares, shares)
	state.TotalShares = new(big.Int).Add(state.TotalShares, shares)

	if err := e.state.PutAccount(to, account); err != nil {
		return nil, err
	}
	if err := e.state.SetLedgerState(state); err != nil {
		return nil, err
	}
	return shares, nil
}

// Burn removes the share equivalent of value from the holder. Only minter
// modules may call it. The burned share amount is returned.
func (e *Engine) Burn(caller, from crypto.Address, value *big.Int) (*big.Int, error) {
	const op = "ledger.burn"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if !e.isMinter(caller) {
		return nil, fault.Authorization(op, errUnauthorized)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	shares := sharesFromValue(value, state.AccrualIndex)
	if shares.Sign() == 0 {
		return nil, fault.Validation(op, errDustValue)
	}

	account, err := e.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	if account.Shares.Cmp(shares) < 0 {
		return nil, fault.Validation(op, errInsufficientShare)
	}
	account.Shares = new(big.Int).Sub(account.Shares, shares)
	state.TotalShares = new(big.Int).Sub(state.TotalShares, shares)

	if err := e.state.PutAccount(from, account); err != nil {
		return nil, err
	}
	if err := e.state.SetLedgerState(state); err != nil {
		return nil, err
	}
	return shares, nil
}

// Transfer moves the share equivalent of value between two holders. Supply
// and the accrual index are untouched, so the operation conserves shares
// exactly. The moved share amount is returned.
func (e *Engine) Transfer(from, to crypto.Address, value *big.Int) (*big.Int, error) {
	const op = "ledger.transfer"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fault.Validation(op, errZeroAmount)
	}

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	shares := sharesFromValue(value, state.AccrualIndex)
	if shares.Sign() == 0 {
		return nil, fault.Validation(op, errDustValue)
	}

	sender, err := e.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	if sender.Shares.Cmp(shares) < 0 {
		return nil, fault.Validation(op, errInsufficientShare)
	}
	recipient, err := e.state.GetAccount(to)
	if err != nil {
		return nil, err
	}

	sender.Shares = new(big.Int).Sub(sender.Shares, shares)
	recipient.Shares = new(big.Int).Add(recipient.Shares, shares)

	if err := e.state.PutAccount(from, sender); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(to, recipient); err != nil {
		return nil, err
	}
	return shares, nil
}

// BalanceOf derives the spendable balance for the address at the current
// accrual index.
func (e *Engine) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return valueFromShares(account.Shares, state.AccrualIndex), nil
}

// SharesOf returns the raw share holding for the address.
func (e *Engine) SharesOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Shares), nil
}

// TotalSupply derives the outstanding balance supply from total shares and
// the current index.
func (e *Engine) TotalSupply() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	return valueFromShares(state.TotalShares, state.AccrualIndex), nil
}

// TotalShares returns the global share count.
func (e *Engine) TotalShares() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(state.TotalShares), nil
}

// AccrualIndex returns the current index value.
func (e *Engine) AccrualIndex() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(state.AccrualIndex), nil
}

// Accrue grows the accrual index by a simple interest factor over the elapsed
// period, distributing yield to every holder pro rata without touching any
// share balance. This is the only path by which total supply grows without a
// matching deposit. The updated index is returned; a zero rate or period is
// a no-op.
func (e *Engine) Accrue(caller crypto.Address, rateBps uint64, elapsedSeconds uint64) (*big.Int, error) {
	const op = "ledger.accrue"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fault.State(op, err)
	}
	if !e.isAccruer(caller) {
		return nil, fault.Authorization(op, errAccrueForbidden)
	}

	state, err := e.ensureState()
	if err != nil {
		return nil, err
	}
	grown := grownIndex(state.AccrualIndex, rateBps, elapsedSeconds)
	if grown.Cmp(state.AccrualIndex) < 0 {
		return nil, fault.State(op, errIndexRegression)
	}
	if grown.Cmp(state.AccrualIndex) == 0 {
		return grown, nil
	}
	state.AccrualIndex = grown
	if err := e.state.SetLedgerState(state); err != nil {
		return nil, err
	}
	return new(big.Int).Set(grown), nil
}
