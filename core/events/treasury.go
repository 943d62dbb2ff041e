package events

import (
	"math/big"
	"strconv"

	"hydchain/core/types"
	"hydchain/crypto"
)

const (
	// TypeTreasuryDeposited is emitted when collateral locks and HYD mints.
	TypeTreasuryDeposited = "treasury.deposited"
	// TypeTreasuryRedeemed is emitted when HYD burns and collateral releases.
	TypeTreasuryRedeemed = "treasury.redeemed"
	// TypeTreasuryLiquidated is emitted when a position is liquidated.
	TypeTreasuryLiquidated = "treasury.liquidated"
	// TypeTreasuryTierUpdated is emitted when governance changes a tier policy.
	TypeTreasuryTierUpdated = "treasury.tier_updated"
)

type TreasuryDeposited struct {
	PositionID string
	Owner      crypto.Address
	Asset      string
	Amount     *big.Int
	RWAValue   *big.Int
	Minted     *big.Int
}

func (TreasuryDeposited) EventType() string { return TypeTreasuryDeposited }

func (e TreasuryDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryDeposited,
		Attributes: map[string]string{
			"positionId": e.PositionID,
			"owner":      e.Owner.String(),
			"asset":      normalizeAsset(e.Asset),
			"amount":     amountString(e.Amount),
			"rwaValue":   amountString(e.RWAValue),
			"minted":     amountString(e.Minted),
		},
	}
}

type TreasuryRedeemed struct {
	PositionID         string
	Owner              crypto.Address
	Asset              string
	Burned             *big.Int
	CollateralReturned *big.Int
	Fee                *big.Int
	Early              bool
	Closed             bool
}

func (TreasuryRedeemed) EventType() string { return TypeTreasuryRedeemed }

func (e TreasuryRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryRedeemed,
		Attributes: map[string]string{
			"positionId":         e.PositionID,
			"owner":              e.Owner.String(),
			"asset":              normalizeAsset(e.Asset),
			"burned":             amountString(e.Burned),
			"collateralReturned": amountString(e.CollateralReturned),
			"fee":                amountString(e.Fee),
			"early":              strconv.FormatBool(e.Early),
			"closed":             strconv.FormatBool(e.Closed),
		},
	}
}

type TreasuryLiquidated struct {
	PositionID       string
	Owner            crypto.Address
	Liquidator       crypto.Address
	Asset            string
	Repaid           *big.Int
	SeizedCollateral *big.Int
	BadDebt          *big.Int
	Partial          bool
}

func (TreasuryLiquidated) EventType() string { return TypeTreasuryLiquidated }

func (e TreasuryLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryLiquidated,
		Attributes: map[string]string{
			"positionId":       e.PositionID,
			"owner":            e.Owner.String(),
			"liquidator":       e.Liquidator.String(),
			"asset":            normalizeAsset(e.Asset),
			"repaid":           amountString(e.Repaid),
			"seizedCollateral": amountString(e.SeizedCollateral),
			"badDebt":          amountString(e.BadDebt),
			"partial":          strconv.FormatBool(e.Partial),
		},
	}
}

type TreasuryTierUpdated struct {
	Caller crypto.Address
	Asset  string
	Tier   uint8
	LTVBps uint64
	Active bool
}

func (TreasuryTierUpdated) EventType() string { return TypeTreasuryTierUpdated }

func (e TreasuryTierUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryTierUpdated,
		Attributes: map[string]string{
			"caller": e.Caller.String(),
			"asset":  normalizeAsset(e.Asset),
			"tier":   strconv.FormatUint(uint64(e.Tier), 10),
			"ltvBps": strconv.FormatUint(e.LTVBps, 10),
			"active": strconv.FormatBool(e.Active),
		},
	}
}
