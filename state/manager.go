package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"hydchain/core/types"
	"hydchain/crypto"
	"hydchain/storage"
)

// Roles gating privileged operations across the engine.
const (
	RoleGovernance = "ROLE_GOVERNANCE"
	RolePauser     = "ROLE_PAUSER"
)

// Manager persists every piece of engine state as RLP records under
// keccak-hashed keys in a storage.Database. It implements the narrow state
// interfaces each native engine declares; the engines never see the manager
// type itself.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// get loads and decodes a record, reporting presence without treating a
// missing key as an error.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// --- Accounts ---

// GetAccount loads the ledger account for the address, returning a zeroed
// account when none has been persisted yet.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	account := new(types.Account)
	ok, err := m.get(accountKey(addr.Bytes()), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		account = &types.Account{}
	}
	account.Normalize()
	return account, nil
}

// PutAccount persists the account and records the address in the holder index
// so exports can enumerate balances without scanning the keyspace.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	account.Normalize()
	if account.Shares.Sign() < 0 {
		return fmt.Errorf("state: negative share balance")
	}
	if _, overflow := uint256.FromBig(account.Shares); overflow {
		return fmt.Errorf("state: share balance overflow")
	}
	if err := m.put(accountKey(addr.Bytes()), account); err != nil {
		return err
	}
	return m.appendIndex(accountIndexKey, addr.Bytes())
}

// AccountList returns every address that has ever held an account, sorted by
// raw address bytes for deterministic exports.
func (m *Manager) AccountList() ([]crypto.Address, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var raw [][]byte
	if err := m.getList(accountIndexKey, &raw); err != nil {
		return nil, err
	}
	sort.Slice(raw, func(i, j int) bool { return bytes.Compare(raw[i], raw[j]) < 0 })
	addrs := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		if len(b) != 20 {
			continue
		}
		addrs = append(addrs, crypto.NewAddress(crypto.HYDPrefix, b))
	}
	return addrs, nil
}

// --- Asset balances (reference stable + collateral tokens) ---

// Balance retrieves the token balance of an account for the given asset
// symbol. Missing entries default to zero.
func (m *Manager) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("state: asset symbol required")
	}
	amount := new(big.Int)
	ok, err := m.get(balanceKey(normalized, addr.Bytes()), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetBalance overwrites the token balance of an account.
func (m *Manager) SetBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("state: asset symbol required")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %s", normalized)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("state: balance overflow for %s", normalized)
	}
	return m.put(balanceKey(normalized, addr.Bytes()), amount)
}

// --- Roles ---

// SetRole associates an address with a role. Duplicate grants are ignored and
// the member list stays sorted for determinism.
func (m *Manager) SetRole(role string, addr crypto.Address) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if role == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	key := roleKey(role)
	var members [][]byte
	if _, err := m.get(key, &members); err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr.Bytes()) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr.Bytes()...))
	sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i], members[j]) < 0 })
	return m.put(key, members)
}

// HasRole reports whether the address holds the role. Read failures degrade
// to false, which is the safe answer for an authorization check.
func (m *Manager) HasRole(role string, addr crypto.Address) bool {
	if m == nil || addr.IsZero() {
		return false
	}
	var members [][]byte
	ok, err := m.get(roleKey(role), &members)
	if err != nil || !ok {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr.Bytes()) {
			return true
		}
	}
	return false
}

// RoleMembers returns all addresses granted the role.
func (m *Manager) RoleMembers(role string) ([]crypto.Address, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var members [][]byte
	if _, err := m.get(roleKey(role), &members); err != nil {
		return nil, err
	}
	addrs := make([]crypto.Address, 0, len(members))
	for _, member := range members {
		if len(member) != 20 {
			continue
		}
		addrs = append(addrs, crypto.NewAddress(crypto.HYDPrefix, member))
	}
	return addrs, nil
}

// --- Parameter store ---

// ParamStoreSet persists a raw governance parameter payload.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if name == "" {
		return fmt.Errorf("state: parameter name required")
	}
	return m.put(paramKey(name), value)
}

// ParamStoreGet retrieves a raw governance parameter payload.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	if name == "" {
		return nil, false, fmt.Errorf("state: parameter name required")
	}
	var value []byte
	ok, err := m.get(paramKey(name), &value)
	if err != nil || !ok {
		return nil, ok, err
	}
	return value, true, nil
}

// --- Generic KV helpers ---

// KVPut stores the RLP encoding of value under the keccak hash of key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.put(kvKey(key), value)
}

// KVGet decodes the value stored under key into out, reporting presence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.get(kvKey(key), out)
}

// KVAppend appends value to the byte-slice list stored under key, ignoring
// duplicates so indexes stay deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.appendIndex(kvKey(key), value)
}

// KVGetList decodes the byte-slice list stored under key into out. A missing
// key yields an empty slice rather than nil.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.getList(kvKey(key), out)
}

// appendIndex and getList operate on pre-hashed keys so internal indexes and
// the exported KV surface share one implementation.
func (m *Manager) appendIndex(hashedKey []byte, value []byte) error {
	var list [][]byte
	if _, err := m.get(hashedKey, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.put(hashedKey, list)
}

func (m *Manager) getList(hashedKey []byte, out interface{}) error {
	ok, err := m.get(hashedKey, out)
	if err != nil {
		return err
	}
	if !ok {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}
