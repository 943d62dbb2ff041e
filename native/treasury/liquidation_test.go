package treasury

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"hydchain/crypto"
)

// liquidationFixture funds an open 1000-unit, 600-HYD-debt position plus a
// liquidator holding enough HYD to repay it outright.
func liquidationFixture(t *testing.T) (*fixture, crypto.Address, crypto.Address) {
	t.Helper()
	f := newFixture(t)
	owner := makeAddress(0x01)
	liquidator := makeAddress(0x02)

	f.state.SetBalance(owner, assetSymbol, units(1000))
	if _, err := f.engine.Deposit(owner, assetSymbol, units(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Mint(f.module, liquidator, units(700)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}
	return f, owner, liquidator
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)

	// HF 166.66% at $1.00.
	if _, err := f.engine.Liquidate(liquidator, owner, assetSymbol); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}

	// HF exactly 115.00% is still above the strict trigger.
	f.oracle.set(assetSymbol, "0.69")
	if _, err := f.engine.Liquidate(liquidator, owner, assetSymbol); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable at the boundary, got %v", err)
	}
}

func TestLiquidatePartialRestoresTarget(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)

	// $0.66: value 660, debt 600 ⇒ HF 110.00%. The minimal repayment that
	// restores 125% with a 5% penalty is exactly 450 HYD.
	f.oracle.set(assetSymbol, "0.66")
	result, err := f.engine.Liquidate(liquidator, owner, assetSymbol)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.Partial || result.Closed {
		t.Fatalf("expected partial liquidation: %+v", result)
	}
	if result.Repaid.Cmp(units(450)) != 0 {
		t.Fatalf("expected 450 HYD repaid, got %s", result.Repaid)
	}
	if result.Position.Debt.Cmp(units(150)) != 0 {
		t.Fatalf("expected 150 HYD residual debt, got %s", result.Position.Debt)
	}
	if result.BadDebt.Sign() != 0 {
		t.Fatalf("no bad debt expected, got %s", result.BadDebt)
	}

	// Seized value matches repay × 1.05 up to flooring.
	price, _ := f.oracle.GetPrice(assetSymbol)
	seizedValue := collateralValue(result.SeizedCollateral, price.Price)
	bound := bpsShare(units(450), 10_500)
	diff := new(big.Int).Sub(bound, seizedValue)
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
		t.Fatalf("seized value %s not within 1 of %s", seizedValue, bound)
	}

	// Penalty split: liquidator and protocol shares partition the seizure.
	split := new(big.Int).Add(result.LiquidatorCollateral, result.ProtocolCollateral)
	if split.Cmp(result.SeizedCollateral) != 0 {
		t.Fatalf("split %s does not partition seizure %s", split, result.SeizedCollateral)
	}
	if result.LiquidatorCollateral.Cmp(result.ProtocolCollateral) <= 0 {
		t.Fatalf("liquidator share must dominate protocol share")
	}

	liquidatorBalance, _ := f.state.Balance(liquidator, assetSymbol)
	if liquidatorBalance.Cmp(result.LiquidatorCollateral) != 0 {
		t.Fatalf("liquidator collateral not delivered")
	}
	if f.ledger.balanceOf(liquidator).Cmp(units(250)) != 0 {
		t.Fatalf("liquidator HYD not burned: %s", f.ledger.balanceOf(liquidator))
	}

	// The survivor must sit at or above the restore target.
	hf, err := f.engine.HealthFactor(owner, assetSymbol)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(big.NewInt(12_500)) < 0 {
		t.Fatalf("post-liquidation health %s below 12500", hf)
	}
}

func TestLiquidateDustDebtGoesFull(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x01)
	liquidator := makeAddress(0x02)

	// 80 units at $1.00 mint 48 HYD, below the 50 HYD dust floor.
	f.state.SetBalance(owner, assetSymbol, units(80))
	if _, err := f.engine.Deposit(owner, assetSymbol, units(80)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Mint(f.module, liquidator, units(48)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}

	f.oracle.set(assetSymbol, "0.66")
	result, err := f.engine.Liquidate(liquidator, owner, assetSymbol)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Partial || !result.Closed {
		t.Fatalf("dust debt must liquidate in full: %+v", result)
	}
	if result.Repaid.Cmp(units(48)) != 0 {
		t.Fatalf("expected full 48 HYD repaid, got %s", result.Repaid)
	}
	if result.Position.Status != PositionLiquidated {
		t.Fatalf("expected liquidated status, got %s", result.Position.Status)
	}
	if result.ReturnedCollateral.Sign() <= 0 {
		t.Fatalf("solvent full liquidation must return the remainder to the owner")
	}
	ownerBalance, _ := f.state.Balance(owner, assetSymbol)
	if ownerBalance.Cmp(result.ReturnedCollateral) != 0 {
		t.Fatalf("owner remainder not delivered")
	}

	usage, _ := f.state.AssetUsage(assetSymbol)
	if usage.Sign() != 0 {
		t.Fatalf("asset usage should release on close, got %s", usage)
	}
}

func TestLiquidateDustResidualPromotedToFull(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)

	// $0.635: value 635, HF 105.83%. The partial formula asks for 575 HYD,
	// leaving a 25 HYD residual below the dust floor, so the whole position
	// goes instead.
	f.oracle.set(assetSymbol, "0.635")
	result, err := f.engine.Liquidate(liquidator, owner, assetSymbol)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Partial || !result.Closed {
		t.Fatalf("dust residual must promote to a full liquidation: %+v", result)
	}
	if result.Repaid.Cmp(units(600)) != 0 {
		t.Fatalf("expected full 600 HYD repaid, got %s", result.Repaid)
	}
	if result.BadDebt.Sign() != 0 {
		t.Fatalf("no bad debt expected, got %s", result.BadDebt)
	}
	if result.Position.Status != PositionLiquidated {
		t.Fatalf("expected liquidated status, got %s", result.Position.Status)
	}
}

func TestLiquidateCollateralShortfallWritesOffBadDebt(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)

	// $0.30: value 300 against 600 debt. The whole collateral cannot cover
	// the penalty-rated seizure, so everything is seized, the repayment is
	// clamped to 300/1.05 and the unpaid remainder becomes bad debt.
	f.oracle.set(assetSymbol, "0.30")
	result, err := f.engine.Liquidate(liquidator, owner, assetSymbol)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Partial || !result.Closed {
		t.Fatalf("shortfall must close the position: %+v", result)
	}
	if result.SeizedCollateral.Cmp(units(1000)) != 0 {
		t.Fatalf("expected full collateral seizure, got %s", result.SeizedCollateral)
	}
	if result.ReturnedCollateral.Sign() != 0 {
		t.Fatalf("nothing should return to the owner in a shortfall")
	}

	expectedRepay := new(big.Int).Mul(units(300), big.NewInt(10_000))
	expectedRepay.Quo(expectedRepay, big.NewInt(10_500))
	if result.Repaid.Cmp(expectedRepay) != 0 {
		t.Fatalf("expected repay %s, got %s", expectedRepay, result.Repaid)
	}
	expectedBadDebt := new(big.Int).Sub(units(600), expectedRepay)
	if result.BadDebt.Cmp(expectedBadDebt) != 0 {
		t.Fatalf("expected bad debt %s, got %s", expectedBadDebt, result.BadDebt)
	}

	// Pro-rata split of the seized collateral: 10400/10500 to the liquidator.
	expectedLiquidator := new(big.Int).Mul(units(1000), big.NewInt(10_400))
	expectedLiquidator.Quo(expectedLiquidator, big.NewInt(10_500))
	if result.LiquidatorCollateral.Cmp(expectedLiquidator) != 0 {
		t.Fatalf("expected liquidator share %s, got %s", expectedLiquidator, result.LiquidatorCollateral)
	}
	split := new(big.Int).Add(result.LiquidatorCollateral, result.ProtocolCollateral)
	if split.Cmp(units(1000)) != 0 {
		t.Fatalf("split %s does not partition the seizure", split)
	}

	if result.Position.Debt.Sign() != 0 || result.Position.Status != PositionLiquidated {
		t.Fatalf("write-off must zero the debt and close: %+v", result.Position)
	}
}

func TestLiquidateOracleHandling(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)
	f.oracle.set(assetSymbol, "0.66")

	// Stale quotes block liquidation outright.
	f.oracle.timestamp = f.now.Add(-10 * time.Minute)
	if _, err := f.engine.Liquidate(liquidator, owner, assetSymbol); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	f.oracle.timestamp = f.now

	// The deviation latch pauses deposits but must not shield unhealthy
	// positions from liquidation.
	f.oracle.paused[assetSymbol] = true
	if _, err := f.engine.Liquidate(liquidator, owner, assetSymbol); err != nil {
		t.Fatalf("liquidate through deviation latch: %v", err)
	}
}

func TestLiquidateClosedPosition(t *testing.T) {
	f, owner, liquidator := liquidationFixture(t)
	f.advance(31 * 24 * time.Hour)
	if _, err := f.engine.Redeem(owner, assetSymbol, units(600)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := f.engine.Liquidate(liquidator, owner, assetSymbol); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("expected ErrPositionClosed, got %v", err)
	}
}
