package state

import (
	"fmt"

	"hydchain/native/ledger"
)

type storedLedgerState struct {
	TotalShares  string
	AccrualIndex string
}

// LedgerState loads the global share supply record. A missing record returns
// nil so the engine installs its bootstrap values.
func (m *Manager) LedgerState() (*ledger.State, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var stored storedLedgerState
	ok, err := m.get(ledgerStateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	totalShares, err := decodeAmount("ledger total shares", stored.TotalShares)
	if err != nil {
		return nil, err
	}
	index, err := decodeAmount("ledger accrual index", stored.AccrualIndex)
	if err != nil {
		return nil, err
	}
	return &ledger.State{TotalShares: totalShares, AccrualIndex: index}, nil
}

// SetLedgerState persists the global share supply record.
func (m *Manager) SetLedgerState(state *ledger.State) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if state == nil {
		return fmt.Errorf("state: ledger state must not be nil")
	}
	state.Normalize()
	if state.TotalShares.Sign() < 0 {
		return fmt.Errorf("state: negative total shares")
	}
	return m.put(ledgerStateKey, &storedLedgerState{
		TotalShares:  encodeAmount(state.TotalShares),
		AccrualIndex: encodeAmount(state.AccrualIndex),
	})
}
