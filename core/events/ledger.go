package events

import (
	"math/big"
	"strconv"

	"hydchain/core/types"
	"hydchain/crypto"
)

const (
	// TypeLedgerMinted is emitted when a module mints HYD to an account.
	TypeLedgerMinted = "ledger.minted"
	// TypeLedgerTransferred is emitted on a share-conserving transfer.
	TypeLedgerTransferred = "ledger.transferred"
	// TypeLedgerAccrued is emitted when the accrual index grows.
	TypeLedgerAccrued = "ledger.accrued"
)

type LedgerMinted struct {
	Module crypto.Address
	To     crypto.Address
	Value  *big.Int
	Shares *big.Int
}

func (LedgerMinted) EventType() string { return TypeLedgerMinted }

func (e LedgerMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerMinted,
		Attributes: map[string]string{
			"module": e.Module.String(),
			"to":     e.To.String(),
			"value":  amountString(e.Value),
			"shares": amountString(e.Shares),
		},
	}
}

type LedgerTransferred struct {
	From   crypto.Address
	To     crypto.Address
	Value  *big.Int
	Shares *big.Int
}

func (LedgerTransferred) EventType() string { return TypeLedgerTransferred }

func (e LedgerTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerTransferred,
		Attributes: map[string]string{
			"from":   e.From.String(),
			"to":     e.To.String(),
			"value":  amountString(e.Value),
			"shares": amountString(e.Shares),
		},
	}
}

type LedgerAccrued struct {
	RateBps        uint64
	ElapsedSeconds uint64
	NewIndex       *big.Int
}

func (LedgerAccrued) EventType() string { return TypeLedgerAccrued }

func (e LedgerAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerAccrued,
		Attributes: map[string]string{
			"rateBps":        strconv.FormatUint(e.RateBps, 10),
			"elapsedSeconds": strconv.FormatUint(e.ElapsedSeconds, 10),
			"newIndex":       amountString(e.NewIndex),
		},
	}
}
