package core

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"hydchain/config"
	"hydchain/core/types"
	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
	"hydchain/native/oracle"
	"hydchain/storage"
)

func testAddr(tail byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = tail
	return crypto.NewAddress(crypto.HYDPrefix, buf)
}

func hyd(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func stable(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

type nodeFixture struct {
	t    *testing.T
	node *Node
	now  time.Time

	governor   crypto.Address
	user       crypto.Address
	liquidator crypto.Address
}

func defaultGenesis(f *nodeFixture) *config.Genesis {
	return &config.Genesis{
		ChainName:    "hyd-test",
		StableSymbol: "USDR",
		Roles: map[string][]crypto.Address{
			"ROLE_GOVERNANCE": {f.governor},
			"ROLE_PAUSER":     {f.governor},
		},
		Alloc: []config.GenesisAlloc{
			{
				Address: f.user,
				Balances: map[string]string{
					"USDR":  stable(500).String(),
					"TBILL": hyd(1000).String(),
				},
			},
			{Address: f.liquidator, Hyd: hyd(700).String()},
		},
		PSM: &config.GenesisPSM{
			FeeInBps:     10,
			FeeOutBps:    10,
			MaxMintedCap: hyd(1_000_000).String(),
		},
		Treasury: &config.GenesisTreasury{
			Tiers: []config.GenesisTier{
				{Asset: "TBILL", Tier: 1, LTVBps: 6000, Active: true},
			},
		},
		Oracle: &config.GenesisOracle{
			MaxQuoteAgeSeconds: 300,
			ManualPrices:       map[string]string{"TBILL": "1.00"},
		},
	}
}

func newNodeFixture(t *testing.T, cfg Config, mutate func(*config.Genesis)) *nodeFixture {
	t.Helper()
	f := &nodeFixture{
		t:          t,
		now:        time.Unix(1_750_000_000, 0).UTC(),
		governor:   testAddr(0x01),
		user:       testAddr(0x02),
		liquidator: testAddr(0x03),
	}
	node, err := NewNode(storage.NewMemDB(), cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetClock(func() time.Time { return f.now })
	f.node = node

	genesis := defaultGenesis(f)
	if mutate != nil {
		mutate(genesis)
	}
	if err := node.ApplyGenesis(genesis); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	return f
}

func (f *nodeFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// setPrice installs a bootstrap quote and refreshes the aggregator. The
// refresh error is returned so tests can exercise the deviation latch.
func (f *nodeFixture) setPrice(asset, value string) error {
	f.t.Helper()
	price, err := oracle.ParsePrice(value)
	if err != nil {
		f.t.Fatalf("parse price: %v", err)
	}
	f.node.bootstrapFeed.Set(asset, price)
	return f.node.oracle.Refresh(context.Background(), asset)
}

func findEvent(events []types.Event, eventType string) *types.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

func TestApplyGenesisOnce(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)

	balance, err := f.node.BalanceOf(f.liquidator)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(hyd(700)) != 0 {
		t.Fatalf("genesis mint: got %s", balance)
	}
	stableBalance, err := f.node.state.Balance(f.user, "USDR")
	if err != nil {
		t.Fatalf("stable balance: %v", err)
	}
	if stableBalance.Cmp(stable(500)) != 0 {
		t.Fatalf("genesis stable alloc: got %s", stableBalance)
	}
	tiers, err := f.node.Tiers()
	if err != nil || len(tiers) != 1 || tiers[0].Asset != "TBILL" {
		t.Fatalf("genesis tiers: %v %v", tiers, err)
	}

	if err := f.node.ApplyGenesis(defaultGenesis(f)); !errors.Is(err, ErrGenesisApplied) {
		t.Fatalf("second apply: got %v", err)
	}
}

func TestSwapRoundTripThroughNode(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)
	ctx := context.Background()

	receipt, err := f.node.SwapIn(ctx, f.user, stable(100))
	if err != nil {
		t.Fatalf("swap in: %v", err)
	}
	wantHyd, _ := new(big.Int).SetString("99900000000000000000", 10)
	if receipt.HydAmount.Cmp(wantHyd) != 0 {
		t.Fatalf("swap in output: got %s want %s", receipt.HydAmount, wantHyd)
	}
	balance, err := f.node.BalanceOf(f.user)
	if err != nil || balance.Cmp(wantHyd) != 0 {
		t.Fatalf("post-swap balance: %s %v", balance, err)
	}
	reserve, err := f.node.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.ReserveBalance.Cmp(stable(100)) != 0 {
		t.Fatalf("reserve balance: got %s", reserve.ReserveBalance)
	}
	if reserve.TotalMinted.Cmp(wantHyd) != 0 {
		t.Fatalf("total minted: got %s", reserve.TotalMinted)
	}

	out, err := f.node.SwapOut(ctx, f.user, hyd(50))
	if err != nil {
		t.Fatalf("swap out: %v", err)
	}
	if out.StableAmount.Cmp(big.NewInt(49_950_000)) != 0 {
		t.Fatalf("swap out stable: got %s", out.StableAmount)
	}
	userStable, err := f.node.state.Balance(f.user, "USDR")
	if err != nil {
		t.Fatalf("user stable: %v", err)
	}
	want := new(big.Int).Add(stable(400), big.NewInt(49_950_000))
	if userStable.Cmp(want) != 0 {
		t.Fatalf("user stable after round trip: got %s want %s", userStable, want)
	}

	events := f.node.Events(0)
	if findEvent(events, "psm.swap_in") == nil || findEvent(events, "psm.swap_out") == nil {
		t.Fatalf("swap events missing from journal: %v", events)
	}

	csvData, checksum, next, err := f.node.ExportReceiptsCSV("", 10)
	if err != nil {
		t.Fatalf("receipts export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two receipts, got %d lines", len(lines))
	}
	if checksum == "" || next != "" {
		t.Fatalf("unexpected export metadata: checksum=%q next=%q", checksum, next)
	}
}

func TestVaultLifecycleThroughNode(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)
	ctx := context.Background()

	var sunk []types.Event
	f.node.SetEventSink(func(event types.Event) { sunk = append(sunk, event) })

	deposit, err := f.node.Deposit(ctx, f.user, "tbill", hyd(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if deposit.Minted.Cmp(hyd(600)) != 0 {
		t.Fatalf("minted: got %s want %s", deposit.Minted, hyd(600))
	}
	hf, err := f.node.HealthFactor(f.user, "TBILL")
	if err != nil || hf.Cmp(big.NewInt(16_666)) != 0 {
		t.Fatalf("initial health factor: %s %v", hf, err)
	}

	// A 34% crash trips the deviation latch; the outlier is discarded until
	// governance reviews and clears it.
	if err := f.setPrice("TBILL", "0.66"); err != nil {
		t.Fatalf("crash refresh: %v", err)
	}
	if !f.node.oracle.DeviationExceeded("TBILL") {
		t.Fatalf("latch should trip on the crash")
	}
	if _, err := f.node.Deposit(ctx, f.user, "TBILL", hyd(1)); err == nil {
		t.Fatalf("deposit must be blocked while the latch is set")
	}
	if err := f.node.ClearDeviation(f.user, "TBILL"); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("clear from non-governance: got %v", err)
	}
	if err := f.node.ClearDeviation(f.governor, "TBILL"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.setPrice("TBILL", "0.66"); err != nil {
		t.Fatalf("post-clear refresh: %v", err)
	}

	hf, err = f.node.HealthFactor(f.user, "TBILL")
	if err != nil || hf.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("crashed health factor: %s %v", hf, err)
	}

	result, err := f.node.Liquidate(ctx, f.liquidator, f.user, "TBILL")
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.Partial {
		t.Fatalf("expected partial liquidation")
	}
	if result.Repaid.Cmp(hyd(450)) != 0 {
		t.Fatalf("repaid: got %s want %s", result.Repaid, hyd(450))
	}
	if result.BadDebt.Sign() != 0 {
		t.Fatalf("no bad debt expected, got %s", result.BadDebt)
	}
	if result.Position.Debt.Cmp(hyd(150)) != 0 {
		t.Fatalf("residual debt: got %s", result.Position.Debt)
	}

	liquidatorBalance, err := f.node.BalanceOf(f.liquidator)
	if err != nil || liquidatorBalance.Cmp(hyd(250)) != 0 {
		t.Fatalf("liquidator balance: %s %v", liquidatorBalance, err)
	}
	seized, err := f.node.state.Balance(f.liquidator, "TBILL")
	if err != nil || seized.Sign() <= 0 {
		t.Fatalf("liquidator collateral: %s %v", seized, err)
	}

	hf, err = f.node.HealthFactor(f.user, "TBILL")
	if err != nil || hf.Cmp(big.NewInt(12_500)) < 0 {
		t.Fatalf("health factor after liquidation: %s %v", hf, err)
	}

	event := findEvent(f.node.Events(0), "treasury.liquidated")
	if event == nil {
		t.Fatalf("liquidation event missing")
	}
	if event.Attribute("badDebt") != "0" || event.Attribute("partial") != "true" {
		t.Fatalf("liquidation event attributes: %v", event.Attributes)
	}
	if findEvent(sunk, "treasury.liquidated") == nil {
		t.Fatalf("liquidation event never reached the sink")
	}
}

func TestPauseGating(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)
	ctx := context.Background()

	if err := f.node.SetPaused(f.user, "psm", true); !errors.Is(err, ErrNotPauser) {
		t.Fatalf("pause from non-pauser: got %v", err)
	}
	if err := f.node.SetPaused(f.governor, "psm", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.node.SwapIn(ctx, f.user, stable(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("swap while paused: got %v", err)
	}
	if err := f.node.SetPaused(f.governor, "psm", false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := f.node.SwapIn(ctx, f.user, stable(10)); err != nil {
		t.Fatalf("swap after resume: %v", err)
	}

	if err := f.node.SetTreasuryParams(f.user, f.node.vault.Params()); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("treasury params from non-governance: got %v", err)
	}
}

func TestLedgerPauseBlocksMintsWithoutSideEffects(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)
	ctx := context.Background()

	if err := f.node.SetPaused(f.governor, "ledger", true); err != nil {
		t.Fatalf("pause ledger: %v", err)
	}

	// Pausing only the share ledger rejects the mint inside a swap; no
	// reserve state or stable balance may move on the failed path.
	if _, err := f.node.SwapIn(ctx, f.user, stable(100)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("swap with paused ledger: got %v", err)
	}
	stableBalance, err := f.node.state.Balance(f.user, "USDR")
	if err != nil || stableBalance.Cmp(stable(500)) != 0 {
		t.Fatalf("stable balance moved on failed swap: %s %v", stableBalance, err)
	}
	reserve, err := f.node.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.ReserveBalance.Sign() != 0 || reserve.TotalMinted.Sign() != 0 {
		t.Fatalf("reserve mutated on failed swap: %+v", reserve)
	}

	// Same for the vault: the deposit fails before custody and position
	// writes.
	if _, err := f.node.Deposit(ctx, f.user, "TBILL", hyd(1000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("deposit with paused ledger: got %v", err)
	}
	collateral, err := f.node.state.Balance(f.user, "TBILL")
	if err != nil || collateral.Cmp(hyd(1000)) != 0 {
		t.Fatalf("collateral moved on failed deposit: %s %v", collateral, err)
	}
	positions, err := f.node.Positions()
	if err != nil || len(positions) != 0 {
		t.Fatalf("position persisted on failed deposit: %v %v", positions, err)
	}

	if err := f.node.SetPaused(f.governor, "ledger", false); err != nil {
		t.Fatalf("resume ledger: %v", err)
	}
	if _, err := f.node.SwapIn(ctx, f.user, stable(100)); err != nil {
		t.Fatalf("swap after resume: %v", err)
	}
}

func TestGenesisOracleThresholdsGovernTheTracker(t *testing.T) {
	f := newNodeFixture(t, Config{}, func(genesis *config.Genesis) {
		genesis.Oracle.AlertBps = 9_000
		genesis.Oracle.PauseBps = 10_000
	})

	// A 6% move stays far below the configured pause threshold: the quote is
	// accepted, the latch stays open, and deposits keep working.
	if err := f.setPrice("TBILL", "0.94"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.node.oracle.DeviationExceeded("TBILL") {
		t.Fatalf("latch tripped below the configured pause threshold")
	}
	quote, err := f.node.oracle.GetPrice("TBILL")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want, _ := oracle.ParsePrice("0.94")
	if quote.Price.Cmp(want) != 0 {
		t.Fatalf("moved quote not accepted: %s", quote.Price)
	}
	if _, err := f.node.Deposit(context.Background(), f.user, "TBILL", hyd(10)); err != nil {
		t.Fatalf("deposit under loose thresholds: %v", err)
	}
}

func TestDeviationLatchSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	f := &nodeFixture{
		t:          t,
		now:        time.Unix(1_750_000_000, 0).UTC(),
		governor:   testAddr(0x01),
		user:       testAddr(0x02),
		liquidator: testAddr(0x03),
	}
	node, err := NewNode(db, Config{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetClock(func() time.Time { return f.now })
	f.node = node
	if err := node.ApplyGenesis(defaultGenesis(f)); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	if err := f.setPrice("TBILL", "0.66"); err != nil {
		t.Fatalf("crash refresh: %v", err)
	}
	if !f.node.oracle.DeviationExceeded("TBILL") {
		t.Fatalf("latch should trip on the crash")
	}

	// A fresh node over the same database restores the latch, so deposits
	// stay blocked until governance reviews the move.
	restarted, err := NewNode(db, Config{})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	restarted.SetClock(func() time.Time { return f.now })
	if !restarted.oracle.DeviationExceeded("TBILL") {
		t.Fatalf("latch lost across restart")
	}
	price, err := oracle.ParsePrice("1.00")
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	restarted.bootstrapFeed.Set("TBILL", price)
	if err := restarted.oracle.Refresh(context.Background(), "TBILL"); err != nil {
		t.Fatalf("refresh after restart: %v", err)
	}
	if _, err := restarted.Deposit(context.Background(), f.user, "TBILL", hyd(1)); err == nil {
		t.Fatalf("deposit must stay blocked while the restored latch is set")
	}

	// Clearing the latch also clears the persisted snapshot.
	if err := restarted.ClearDeviation(f.governor, "TBILL"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	third, err := NewNode(db, Config{})
	if err != nil {
		t.Fatalf("third node: %v", err)
	}
	if third.oracle.DeviationExceeded("TBILL") {
		t.Fatalf("cleared latch must not be restored")
	}
}

func TestAccrualSchedule(t *testing.T) {
	f := newNodeFixture(t, Config{}, nil)

	if err := f.node.SetAccrualSchedule(f.governor, 500, 86_400); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	// One exact year at 500 bps grows every balance by 5%.
	f.advance(31_536_000 * time.Second)
	index, err := f.node.Accrue()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	wantIndex, _ := new(big.Int).SetString("1050000000000000000", 10)
	if index.Cmp(wantIndex) != 0 {
		t.Fatalf("accrual index: got %s want %s", index, wantIndex)
	}
	balance, err := f.node.BalanceOf(f.liquidator)
	if err != nil || balance.Cmp(hyd(735)) != 0 {
		t.Fatalf("accrued balance: %s %v", balance, err)
	}

	// No elapsed time means no index movement.
	index, err = f.node.Accrue()
	if err != nil || index != nil {
		t.Fatalf("zero-elapsed accrue: %v %v", index, err)
	}
}

func TestSwapQuotaEnforced(t *testing.T) {
	f := newNodeFixture(t, Config{}, func(g *config.Genesis) {
		g.PSM.Quota = config.GenesisQuota{MaxRequestsPerEpoch: 2, EpochSeconds: 3600}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.node.SwapIn(ctx, f.user, stable(10)); err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
	}
	_, err := f.node.SwapIn(ctx, f.user, stable(10))
	if err == nil {
		t.Fatalf("third swap must exhaust the quota")
	}
	if category, ok := fault.CategoryOf(err); !ok || category != fault.CategoryCapacity {
		t.Fatalf("quota fault category: %v %v", category, err)
	}

	// A new epoch resets the window.
	f.advance(3601 * time.Second)
	if _, err := f.node.SwapIn(ctx, f.user, stable(10)); err != nil {
		t.Fatalf("swap in next epoch: %v", err)
	}

	// Governance can widen the quota mid-epoch.
	if err := f.node.SetPSMQuota(f.governor, nativecommon.Quota{MaxRequestsPerEpoch: 10, EpochSeconds: 3600}); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	if _, err := f.node.SwapIn(ctx, f.user, stable(10)); err != nil {
		t.Fatalf("swap after quota raise: %v", err)
	}
}
