package events

import (
	"math/big"
	"strconv"

	"hydchain/core/types"
	"hydchain/crypto"
)

const (
	// TypePSMSwapIn is emitted when stable enters the reserve and HYD mints.
	TypePSMSwapIn = "psm.swap_in"
	// TypePSMSwapOut is emitted when HYD burns and stable leaves the reserve.
	TypePSMSwapOut = "psm.swap_out"
	// TypePSMParamsUpdated is emitted when governance changes fees or cap.
	TypePSMParamsUpdated = "psm.params_updated"
)

type PSMSwap struct {
	Direction    string
	Account      crypto.Address
	StableAmount *big.Int
	HydAmount    *big.Int
	Fee          *big.Int
	ReceiptID    string
}

func (e PSMSwap) EventType() string {
	if e.Direction == "out" {
		return TypePSMSwapOut
	}
	return TypePSMSwapIn
}

func (e PSMSwap) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"account":      e.Account.String(),
			"stableAmount": amountString(e.StableAmount),
			"hydAmount":    amountString(e.HydAmount),
			"fee":          amountString(e.Fee),
			"receiptId":    e.ReceiptID,
		},
	}
}

type PSMParamsUpdated struct {
	Caller       crypto.Address
	FeeInBps     uint64
	FeeOutBps    uint64
	MaxMintedCap *big.Int
}

func (PSMParamsUpdated) EventType() string { return TypePSMParamsUpdated }

func (e PSMParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePSMParamsUpdated,
		Attributes: map[string]string{
			"caller":       e.Caller.String(),
			"feeInBps":     strconv.FormatUint(e.FeeInBps, 10),
			"feeOutBps":    strconv.FormatUint(e.FeeOutBps, 10),
			"maxMintedCap": amountString(e.MaxMintedCap),
		},
	}
}
