package state

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Every key is keccak-hashed before it reaches the backing store so layout
// changes never leak into persisted data. Singleton keys are hashed once at
// init; composite keys are hashed by their builders.
var (
	accountPrefix    = []byte("account:")
	balancePrefix    = []byte("balance:")
	rolePrefix       = []byte("role:")
	paramPrefix      = []byte("params:")
	positionPrefix   = []byte("position:")
	tierPrefix       = []byte("tier:")
	assetUsagePrefix = []byte("tier/usage:")
	swapQuotaPrefix  = []byte("psm/quota:")

	accountIndexKey  = ethcrypto.Keccak256([]byte("account/index"))
	ledgerStateKey   = ethcrypto.Keccak256([]byte("ledger/state"))
	psmStateKey      = ethcrypto.Keccak256([]byte("psm/state"))
	positionIndexKey = ethcrypto.Keccak256([]byte("position/index"))
	tierIndexKey     = ethcrypto.Keccak256([]byte("tier/index"))
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(symbol string, addr []byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, 0, len(rolePrefix)+len(role))
	buf = append(buf, rolePrefix...)
	buf = append(buf, role...)
	return ethcrypto.Keccak256(buf)
}

func paramKey(name string) []byte {
	buf := make([]byte, 0, len(paramPrefix)+len(name))
	buf = append(buf, paramPrefix...)
	buf = append(buf, name...)
	return ethcrypto.Keccak256(buf)
}

func positionKey(symbol string, owner []byte) []byte {
	buf := make([]byte, 0, len(positionPrefix)+len(symbol)+1+len(owner))
	buf = append(buf, positionPrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner...)
	return ethcrypto.Keccak256(buf)
}

func tierKey(symbol string) []byte {
	buf := make([]byte, 0, len(tierPrefix)+len(symbol))
	buf = append(buf, tierPrefix...)
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}

func assetUsageKey(symbol string) []byte {
	buf := make([]byte, 0, len(assetUsagePrefix)+len(symbol))
	buf = append(buf, assetUsagePrefix...)
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}

func swapQuotaKey(addr []byte) []byte {
	buf := make([]byte, 0, len(swapQuotaPrefix)+len(addr))
	buf = append(buf, swapQuotaPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
