package state

import (
	"fmt"

	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/psm"
)

type storedReserveState struct {
	ReserveBalance string
	FeeInBps       uint64
	FeeOutBps      uint64
	TotalMinted    string
	MaxMintedCap   string
}

type storedSwapQuota struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// PSMState loads the peg stability module's reserve record. A missing record
// returns nil so the engine installs zeroed bootstrap state.
func (m *Manager) PSMState() (*psm.ReserveState, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var stored storedReserveState
	ok, err := m.get(psmStateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	reserve, err := decodeAmount("psm reserve", stored.ReserveBalance)
	if err != nil {
		return nil, err
	}
	minted, err := decodeAmount("psm minted", stored.TotalMinted)
	if err != nil {
		return nil, err
	}
	cap, err := decodeAmount("psm mint cap", stored.MaxMintedCap)
	if err != nil {
		return nil, err
	}
	return &psm.ReserveState{
		ReserveBalance: reserve,
		FeeInBps:       stored.FeeInBps,
		FeeOutBps:      stored.FeeOutBps,
		TotalMinted:    minted,
		MaxMintedCap:   cap,
	}, nil
}

// SetPSMState persists the reserve record.
func (m *Manager) SetPSMState(state *psm.ReserveState) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if state == nil {
		return fmt.Errorf("state: psm state must not be nil")
	}
	state.Normalize()
	if state.ReserveBalance.Sign() < 0 || state.TotalMinted.Sign() < 0 {
		return fmt.Errorf("state: negative psm balance")
	}
	return m.put(psmStateKey, &storedReserveState{
		ReserveBalance: encodeAmount(state.ReserveBalance),
		FeeInBps:       state.FeeInBps,
		FeeOutBps:      state.FeeOutBps,
		TotalMinted:    encodeAmount(state.TotalMinted),
		MaxMintedCap:   encodeAmount(state.MaxMintedCap),
	})
}

// SwapQuota loads the swap velocity counters for an address. Missing entries
// default to zeroed counters.
func (m *Manager) SwapQuota(addr crypto.Address) (nativecommon.QuotaNow, error) {
	if m == nil {
		return nativecommon.QuotaNow{}, fmt.Errorf("state manager unavailable")
	}
	var stored storedSwapQuota
	ok, err := m.get(swapQuotaKey(addr.Bytes()), &stored)
	if err != nil || !ok {
		return nativecommon.QuotaNow{}, err
	}
	return nativecommon.QuotaNow{
		ReqCount:   stored.ReqCount,
		AmountUsed: stored.AmountUsed,
		EpochID:    stored.EpochID,
	}, nil
}

// SetSwapQuota persists the swap velocity counters for an address.
func (m *Manager) SetSwapQuota(addr crypto.Address, now nativecommon.QuotaNow) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return m.put(swapQuotaKey(addr.Bytes()), &storedSwapQuota{
		ReqCount:   now.ReqCount,
		AmountUsed: now.AmountUsed,
		EpochID:    now.EpochID,
	})
}
