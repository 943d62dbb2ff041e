package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"hydchain/crypto"
	"hydchain/native/treasury"
)

type storedPosition struct {
	ID          string
	Owner       []byte
	Asset       string
	Tier        uint8
	Collateral  string
	Debt        string
	ValueAtMint string
	CreatedAt   uint64
	LastAction  uint64
	Status      string
}

type storedTier struct {
	Asset           string
	Tier            uint8
	LTVBps          uint64
	MintDiscountBps uint64
	PerAssetCapUSD  string
	Active          bool
}

func (s *storedPosition) toPosition() (*treasury.Position, error) {
	collateral, err := decodeAmount("position collateral", s.Collateral)
	if err != nil {
		return nil, err
	}
	debt, err := decodeAmount("position debt", s.Debt)
	if err != nil {
		return nil, err
	}
	valueAtMint, err := decodeAmount("position value", s.ValueAtMint)
	if err != nil {
		return nil, err
	}
	if len(s.Owner) != 20 {
		return nil, fmt.Errorf("state: corrupt position owner for %s", s.ID)
	}
	position := &treasury.Position{
		ID:          s.ID,
		Owner:       crypto.NewAddress(crypto.HYDPrefix, s.Owner),
		Asset:       s.Asset,
		Tier:        s.Tier,
		Collateral:  collateral,
		Debt:        debt,
		ValueAtMint: valueAtMint,
		CreatedAt:   int64(s.CreatedAt),
		LastAction:  int64(s.LastAction),
		Status:      treasury.PositionStatus(s.Status),
	}
	position.Normalize()
	return position, nil
}

// Position loads the collateral position for an (owner, asset) pair.
func (m *Manager) Position(owner crypto.Address, asset string) (*treasury.Position, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(asset)
	if normalized == "" {
		return nil, false, fmt.Errorf("state: asset symbol required")
	}
	var stored storedPosition
	ok, err := m.get(positionKey(normalized, owner.Bytes()), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	position, err := stored.toPosition()
	if err != nil {
		return nil, false, err
	}
	return position, true, nil
}

// PutPosition persists the position and records it in the position index so
// exports and snapshots can enumerate the book.
func (m *Manager) PutPosition(position *treasury.Position) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if position == nil {
		return fmt.Errorf("state: position must not be nil")
	}
	normalized := normalizeSymbol(position.Asset)
	if normalized == "" {
		return fmt.Errorf("state: position asset symbol required")
	}
	position.Normalize()
	if position.Collateral.Sign() < 0 || position.Debt.Sign() < 0 {
		return fmt.Errorf("state: negative position amounts")
	}
	stored := &storedPosition{
		ID:          position.ID,
		Owner:       append([]byte(nil), position.Owner.Bytes()...),
		Asset:       normalized,
		Tier:        position.Tier,
		Collateral:  encodeAmount(position.Collateral),
		Debt:        encodeAmount(position.Debt),
		ValueAtMint: encodeAmount(position.ValueAtMint),
		CreatedAt:   uint64(position.CreatedAt),
		LastAction:  uint64(position.LastAction),
		Status:      string(position.Status),
	}
	if err := m.put(positionKey(normalized, position.Owner.Bytes()), stored); err != nil {
		return err
	}
	entry := make([]byte, 0, len(normalized)+1+20)
	entry = append(entry, normalized...)
	entry = append(entry, ':')
	entry = append(entry, position.Owner.Bytes()...)
	return m.appendIndex(positionIndexKey, entry)
}

// PositionList returns every persisted position, open and closed, sorted by
// (asset, owner) for deterministic exports.
func (m *Manager) PositionList() ([]*treasury.Position, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var entries [][]byte
	if err := m.getList(positionIndexKey, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i], entries[j]) < 0 })
	positions := make([]*treasury.Position, 0, len(entries))
	for _, entry := range entries {
		sep := bytes.IndexByte(entry, ':')
		if sep < 1 || len(entry)-sep-1 != 20 {
			continue
		}
		asset := string(entry[:sep])
		owner := crypto.NewAddress(crypto.HYDPrefix, entry[sep+1:])
		position, ok, err := m.Position(owner, asset)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, position)
		}
	}
	return positions, nil
}

// Tier loads the collateral policy for an asset.
func (m *Manager) Tier(asset string) (*treasury.TierConfig, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(asset)
	if normalized == "" {
		return nil, false, fmt.Errorf("state: asset symbol required")
	}
	var stored storedTier
	ok, err := m.get(tierKey(normalized), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	cap, err := decodeAmount("tier cap", stored.PerAssetCapUSD)
	if err != nil {
		return nil, false, err
	}
	return &treasury.TierConfig{
		Asset:           stored.Asset,
		Tier:            stored.Tier,
		LTVBps:          stored.LTVBps,
		MintDiscountBps: stored.MintDiscountBps,
		PerAssetCapUSD:  cap,
		Active:          stored.Active,
	}, true, nil
}

// PutTier persists the collateral policy and records the asset in the tier
// index.
func (m *Manager) PutTier(config *treasury.TierConfig) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if config == nil {
		return fmt.Errorf("state: tier config must not be nil")
	}
	normalized := normalizeSymbol(config.Asset)
	if normalized == "" {
		return fmt.Errorf("state: tier asset symbol required")
	}
	config.Normalize()
	stored := &storedTier{
		Asset:           normalized,
		Tier:            config.Tier,
		LTVBps:          config.LTVBps,
		MintDiscountBps: config.MintDiscountBps,
		PerAssetCapUSD:  encodeAmount(config.PerAssetCapUSD),
		Active:          config.Active,
	}
	if err := m.put(tierKey(normalized), stored); err != nil {
		return err
	}
	return m.appendIndex(tierIndexKey, []byte(normalized))
}

// TierList returns every configured collateral policy sorted by asset symbol.
func (m *Manager) TierList() ([]*treasury.TierConfig, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var entries [][]byte
	if err := m.getList(tierIndexKey, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i], entries[j]) < 0 })
	tiers := make([]*treasury.TierConfig, 0, len(entries))
	for _, entry := range entries {
		tier, ok, err := m.Tier(string(entry))
		if err != nil {
			return nil, err
		}
		if ok {
			tiers = append(tiers, tier)
		}
	}
	return tiers, nil
}

// AssetUsage returns the aggregate deposited USD value for an asset. Missing
// entries default to zero.
func (m *Manager) AssetUsage(asset string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(asset)
	if normalized == "" {
		return nil, fmt.Errorf("state: asset symbol required")
	}
	usage := new(big.Int)
	ok, err := m.get(assetUsageKey(normalized), usage)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return usage, nil
}

// SetAssetUsage overwrites the aggregate deposited USD value for an asset.
func (m *Manager) SetAssetUsage(asset string, usage *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized := normalizeSymbol(asset)
	if normalized == "" {
		return fmt.Errorf("state: asset symbol required")
	}
	if usage == nil {
		usage = big.NewInt(0)
	}
	if usage.Sign() < 0 {
		return fmt.Errorf("state: negative asset usage for %s", normalized)
	}
	return m.put(assetUsageKey(normalized), usage)
}
