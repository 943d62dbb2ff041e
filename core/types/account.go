package types

import "math/big"

// Account is the per-address ledger record. HYD holdings are stored as raw
// shares; the spendable balance is shares scaled by the global accrual index,
// so the stored number never changes when yield is distributed. Collateral
// token balances live in separate per-asset state slots, not here.
type Account struct {
	Nonce  uint64   `json:"nonce"`
	Shares *big.Int `json:"shares"`
}

// Normalize replaces nil amounts with zero so callers can mutate the account
// without nil checks at every site.
func (a *Account) Normalize() {
	if a == nil {
		return
	}
	if a.Shares == nil {
		a.Shares = big.NewInt(0)
	}
}

// Clone returns a deep copy safe to hand across engine boundaries.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.Shares != nil {
		clone.Shares = new(big.Int).Set(a.Shares)
	}
	return clone
}
