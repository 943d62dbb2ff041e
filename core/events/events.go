package events

import (
	"math/big"
	"strings"

	"hydchain/core/types"
)

// Emittable is implemented by every typed event in this package.
type Emittable interface {
	EventType() string
	Event() *types.Event
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
