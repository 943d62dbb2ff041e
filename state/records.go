package state

import (
	"fmt"
	"math/big"
)

// Stored records mirror engine types with RLP-friendly fields: big amounts as
// decimal strings, timestamps as uint64 seconds. The mirrors never leave this
// package.

func encodeAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func decodeAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt %s amount %q", field, raw)
	}
	return amount, nil
}
