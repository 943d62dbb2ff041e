package psm

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
)

type mockState struct {
	state    *ReserveState
	balances map[string]*big.Int
	quotas   map[string]nativecommon.QuotaNow
	roles    map[string]map[string]bool
}

func newMockState() *mockState {
	return &mockState{
		balances: make(map[string]*big.Int),
		quotas:   make(map[string]nativecommon.QuotaNow),
		roles:    make(map[string]map[string]bool),
	}
}

func balanceKey(addr crypto.Address, symbol string) string {
	return symbol + "/" + string(addr.Bytes())
}

func (m *mockState) PSMState() (*ReserveState, error) { return m.state.Clone(), nil }

func (m *mockState) SetPSMState(state *ReserveState) error {
	m.state = state.Clone()
	return nil
}

func (m *mockState) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	if amount, ok := m.balances[balanceKey(addr, symbol)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	m.balances[balanceKey(addr, symbol)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) SwapQuota(addr crypto.Address) (nativecommon.QuotaNow, error) {
	return m.quotas[string(addr.Bytes())], nil
}

func (m *mockState) SetSwapQuota(addr crypto.Address, now nativecommon.QuotaNow) error {
	m.quotas[string(addr.Bytes())] = now
	return nil
}

func (m *mockState) HasRole(role string, addr crypto.Address) bool {
	return m.roles[role][string(addr.Bytes())]
}

func (m *mockState) grantRole(role string, addr crypto.Address) {
	if m.roles[role] == nil {
		m.roles[role] = make(map[string]bool)
	}
	m.roles[role][string(addr.Bytes())] = true
}

// mockLedger mints and burns against simple balance maps, mirroring the share
// ledger contract.
type mockLedger struct {
	minter   crypto.Address
	balances map[string]*big.Int
	minted   *big.Int
	burned   *big.Int
	mintErr  error
}

func newMockLedger(minter crypto.Address) *mockLedger {
	return &mockLedger{
		minter:   minter,
		balances: make(map[string]*big.Int),
		minted:   big.NewInt(0),
		burned:   big.NewInt(0),
	}
}

func (m *mockLedger) balanceOf(addr crypto.Address) *big.Int {
	if amount, ok := m.balances[string(addr.Bytes())]; ok {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

func (m *mockLedger) Mint(caller, to crypto.Address, value *big.Int) (*big.Int, error) {
	if m.mintErr != nil {
		return nil, m.mintErr
	}
	if !caller.Equal(m.minter) {
		return nil, errors.New("mock ledger: unauthorized")
	}
	m.balances[string(to.Bytes())] = new(big.Int).Add(m.balanceOf(to), value)
	m.minted = new(big.Int).Add(m.minted, value)
	return new(big.Int).Set(value), nil
}

func (m *mockLedger) Burn(caller, from crypto.Address, value *big.Int) (*big.Int, error) {
	if !caller.Equal(m.minter) {
		return nil, errors.New("mock ledger: unauthorized")
	}
	balance := m.balanceOf(from)
	if balance.Cmp(value) < 0 {
		return nil, errors.New("mock ledger: insufficient balance")
	}
	m.balances[string(from.Bytes())] = new(big.Int).Sub(balance, value)
	m.burned = new(big.Int).Add(m.burned, value)
	return new(big.Int).Set(value), nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.HYDPrefix, raw)
}

const stableSymbol = "USDR"

func hyd(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), hydUnit)
}

func stable(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockLedger) {
	t.Helper()
	module := makeAddress(0xAA)
	state := newMockState()
	state.state = &ReserveState{FeeInBps: 10, FeeOutBps: 10, MaxMintedCap: hyd(1_000_000)}
	ledger := newMockLedger(module)
	engine := NewEngine(module, stableSymbol)
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetClock(func() time.Time { return time.Unix(1_750_000_000, 0).UTC() })
	return engine, state, ledger
}

func TestSwapInMintsFeeAdjusted(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	user := makeAddress(0x01)
	state.SetBalance(user, stableSymbol, stable(100))

	result, err := engine.SwapIn(user, stable(100))
	if err != nil {
		t.Fatalf("swap in: %v", err)
	}
	// 100 × 1e12 × (1 − 0.001) = 99.9 HYD.
	expected, _ := new(big.Int).SetString("99900000000000000000", 10)
	if result.HydAmount.Cmp(expected) != 0 {
		t.Fatalf("unexpected hyd out %s", result.HydAmount)
	}
	if ledger.balanceOf(user).Cmp(expected) != 0 {
		t.Fatalf("ledger balance mismatch %s", ledger.balanceOf(user))
	}

	reserve, _ := engine.Reserve()
	if reserve.ReserveBalance.Cmp(stable(100)) != 0 {
		t.Fatalf("reserve not credited: %s", reserve.ReserveBalance)
	}
	if reserve.TotalMinted.Cmp(expected) != 0 {
		t.Fatalf("totalMinted mismatch: %s", reserve.TotalMinted)
	}

	// Reserve coverage: reserve × 1e12 ≥ totalMinted.
	scaled := new(big.Int).Mul(reserve.ReserveBalance, stableScale)
	if scaled.Cmp(reserve.TotalMinted) < 0 {
		t.Fatalf("reserve coverage broken: %s < %s", scaled, reserve.TotalMinted)
	}

	balance, _ := state.Balance(user, stableSymbol)
	if balance.Sign() != 0 {
		t.Fatalf("stable not pulled from caller: %s", balance)
	}
}

func TestSwapInRejectsZeroAndInsufficient(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	user := makeAddress(0x01)

	_, err := engine.SwapIn(user, big.NewInt(0))
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if !fault.Is(err, fault.CategoryValidation) {
		t.Fatalf("expected validation category")
	}
	if _, err := engine.SwapIn(user, stable(5)); !errors.Is(err, ErrInsufficientStable) {
		t.Fatalf("expected ErrInsufficientStable, got %v", err)
	}
}

func TestSwapInEnforcesMintCap(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	user := makeAddress(0x01)
	state.state.MaxMintedCap = hyd(50)
	state.SetBalance(user, stableSymbol, stable(100))

	if _, err := engine.SwapIn(user, stable(100)); !errors.Is(err, ErrMintCapExceeded) {
		t.Fatalf("expected ErrMintCapExceeded, got %v", err)
	}
	if category, ok := fault.CategoryOf(mustSwapErr(engine, user, stable(100))); !ok || category != fault.CategoryCapacity {
		t.Fatalf("expected capacity fault")
	}
	// Nothing moved on the failed path.
	balance, _ := state.Balance(user, stableSymbol)
	if balance.Cmp(stable(100)) != 0 {
		t.Fatalf("caller balance mutated on failure: %s", balance)
	}
}

func TestSwapInMintFailureLeavesReserveUntouched(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	user := makeAddress(0x01)
	state.SetBalance(user, stableSymbol, stable(500))
	engine.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: 10, EpochSeconds: 3600})
	ledger.mintErr = errors.New("mock ledger: halted")

	if _, err := engine.SwapIn(user, stable(100)); err == nil {
		t.Fatalf("expected mint failure to surface")
	}

	// The mint runs before any reserve effect, so a rejected mint leaves the
	// caller balance, reserve accounting, and quota window untouched.
	balance, _ := state.Balance(user, stableSymbol)
	if balance.Cmp(stable(500)) != 0 {
		t.Fatalf("caller balance mutated on failed mint: %s", balance)
	}
	reserve, _ := engine.Reserve()
	if reserve.ReserveBalance.Sign() != 0 {
		t.Fatalf("reserve credited on failed mint: %s", reserve.ReserveBalance)
	}
	if reserve.TotalMinted.Sign() != 0 {
		t.Fatalf("totalMinted advanced on failed mint: %s", reserve.TotalMinted)
	}
	if ledger.balanceOf(user).Sign() != 0 {
		t.Fatalf("shares credited on failed mint: %s", ledger.balanceOf(user))
	}
	quota, _ := state.SwapQuota(user)
	if quota.ReqCount != 0 {
		t.Fatalf("quota recorded on failed mint: %d", quota.ReqCount)
	}
}

func mustSwapErr(engine *Engine, user crypto.Address, amount *big.Int) error {
	_, err := engine.SwapIn(user, amount)
	return err
}

func TestSwapOutRoundTrip(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	user := makeAddress(0x01)
	state.SetBalance(user, stableSymbol, stable(1000))

	in, err := engine.SwapIn(user, stable(1000))
	if err != nil {
		t.Fatalf("swap in: %v", err)
	}

	out, err := engine.SwapOut(user, in.HydAmount)
	if err != nil {
		t.Fatalf("swap out: %v", err)
	}
	expectedStable := new(big.Int).Quo(in.HydAmount, stableScale)
	expectedStable, _ = applyFee(expectedStable, 10)
	if out.StableAmount.Cmp(expectedStable) != 0 {
		t.Fatalf("unexpected stable out %s want %s", out.StableAmount, expectedStable)
	}
	if ledger.balanceOf(user).Sign() != 0 {
		t.Fatalf("hyd not burned: %s", ledger.balanceOf(user))
	}

	reserve, _ := engine.Reserve()
	if reserve.TotalMinted.Sign() != 0 {
		t.Fatalf("totalMinted should saturate to zero, got %s", reserve.TotalMinted)
	}
	scaled := new(big.Int).Mul(reserve.ReserveBalance, stableScale)
	if scaled.Cmp(reserve.TotalMinted) < 0 {
		t.Fatalf("reserve coverage broken after round trip")
	}

	balance, _ := state.Balance(user, stableSymbol)
	if balance.Cmp(expectedStable) != 0 {
		t.Fatalf("caller stable mismatch: %s", balance)
	}
}

func TestSwapOutRejectsDustAndReserveShortfall(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	user := makeAddress(0x01)

	// Below one stable base unit after scaling.
	ledger.balances[string(user.Bytes())] = big.NewInt(1_000)
	if _, err := engine.SwapOut(user, big.NewInt(1_000)); !errors.Is(err, ErrDustAmount) {
		t.Fatalf("expected ErrDustAmount, got %v", err)
	}

	// Reserve empty but user holds HYD (e.g. received via transfer).
	ledger.balances[string(user.Bytes())] = hyd(10)
	state.state.ReserveBalance = big.NewInt(0)
	if _, err := engine.SwapOut(user, hyd(10)); !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
}

func TestSetFeesGovernanceOnly(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	governor := makeAddress(0x0F)
	outsider := makeAddress(0x10)
	state.grantRole(roleGovernance, governor)

	if err := engine.SetFees(outsider, 10, 10); err == nil {
		t.Fatalf("expected authorization rejection")
	} else if category, _ := fault.CategoryOf(err); category != fault.CategoryAuthorization {
		t.Fatalf("expected authorization fault, got %v", err)
	}
	if err := engine.SetFees(governor, MaxFeeBps+1, 10); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if err := engine.SetFees(governor, 25, 35); err != nil {
		t.Fatalf("set fees: %v", err)
	}
	reserve, _ := engine.Reserve()
	if reserve.FeeInBps != 25 || reserve.FeeOutBps != 35 {
		t.Fatalf("fees not applied: %+v", reserve)
	}
}

func TestSetMintCapGovernanceOnly(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	governor := makeAddress(0x0F)
	state.grantRole(roleGovernance, governor)

	if err := engine.SetMintCap(makeAddress(0x10), hyd(1)); err == nil {
		t.Fatalf("expected authorization rejection")
	}
	if err := engine.SetMintCap(governor, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for nil cap, got %v", err)
	}
	if err := engine.SetMintCap(governor, hyd(123)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	reserve, _ := engine.Reserve()
	if reserve.MaxMintedCap.Cmp(hyd(123)) != 0 {
		t.Fatalf("cap not applied: %s", reserve.MaxMintedCap)
	}
}

func TestSwapQuotaEnforced(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	user := makeAddress(0x01)
	state.SetBalance(user, stableSymbol, stable(10_000))
	engine.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 3600})

	for i := 0; i < 2; i++ {
		if _, err := engine.SwapIn(user, stable(10)); err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
	}
	_, err := engine.SwapIn(user, stable(10))
	if !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}
	if category, _ := fault.CategoryOf(err); category != fault.CategoryCapacity {
		t.Fatalf("quota rejection should be a capacity fault")
	}
}

func TestSwapPausedModule(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	user := makeAddress(0x01)
	state.SetBalance(user, stableSymbol, stable(10))
	pauses := nativecommon.NewPauseSet()
	pauses.SetPaused(moduleName, true)
	engine.SetPauses(pauses)

	if _, err := engine.SwapIn(user, stable(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection, got %v", err)
	}
}
