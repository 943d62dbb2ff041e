package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hydchain/crypto"
	nativecommon "hydchain/native/common"
)

// GenesisAlloc seeds one account: HYD in base units plus arbitrary token
// balances (reference stable, collateral assets) keyed by symbol.
type GenesisAlloc struct {
	Address  crypto.Address    `yaml:"address"`
	Hyd      string            `yaml:"hyd,omitempty"`
	Balances map[string]string `yaml:"balances,omitempty"`
}

// GenesisQuota seeds the per-address swap velocity limits.
type GenesisQuota struct {
	MaxRequestsPerEpoch uint32 `yaml:"maxRequestsPerEpoch,omitempty"`
	MaxAmountPerEpoch   uint64 `yaml:"maxAmountPerEpoch,omitempty"`
	EpochSeconds        uint32 `yaml:"epochSeconds,omitempty"`
}

// Quota converts the genesis payload into the engine's quota type.
func (q GenesisQuota) Quota() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: q.MaxRequestsPerEpoch,
		MaxAmountPerEpoch:   q.MaxAmountPerEpoch,
		EpochSeconds:        q.EpochSeconds,
	}
}

// GenesisPSM seeds the peg stability module settings.
type GenesisPSM struct {
	FeeInBps     uint64       `yaml:"feeInBps"`
	FeeOutBps    uint64       `yaml:"feeOutBps"`
	MaxMintedCap string       `yaml:"maxMintedCap"`
	Quota        GenesisQuota `yaml:"quota,omitempty"`
}

// GenesisTier seeds one collateral tier policy.
type GenesisTier struct {
	Asset           string `yaml:"asset"`
	Tier            uint8  `yaml:"tier"`
	LTVBps          uint64 `yaml:"ltvBps"`
	MintDiscountBps uint64 `yaml:"mintDiscountBps,omitempty"`
	PerAssetCapUSD  string `yaml:"perAssetCapUSD,omitempty"`
	Active          bool   `yaml:"active"`
}

// GenesisTreasury seeds the vault risk parameters and tier table.
type GenesisTreasury struct {
	CooldownSeconds         uint64        `yaml:"cooldownSeconds,omitempty"`
	MinimumHoldSeconds      uint64        `yaml:"minimumHoldSeconds,omitempty"`
	RedeemFeeBps            uint64        `yaml:"redeemFeeBps,omitempty"`
	EarlyRedeemFeeBps       uint64        `yaml:"earlyRedeemFeeBps,omitempty"`
	LiquidationThresholdBps uint64        `yaml:"liquidationThresholdBps,omitempty"`
	LiquidationTargetBps    uint64        `yaml:"liquidationTargetBps,omitempty"`
	LiquidationPenaltyBps   uint64        `yaml:"liquidationPenaltyBps,omitempty"`
	LiquidatorShareBps      uint64        `yaml:"liquidatorShareBps,omitempty"`
	ProtocolShareBps        uint64        `yaml:"protocolShareBps,omitempty"`
	DustDebt                string        `yaml:"dustDebt,omitempty"`
	Tiers                   []GenesisTier `yaml:"tiers,omitempty"`
}

// GenesisOracle seeds the oracle settings and bootstrap manual prices.
type GenesisOracle struct {
	MaxQuoteAgeSeconds uint64            `yaml:"maxQuoteAgeSeconds,omitempty"`
	AlertBps           uint64            `yaml:"alertBps,omitempty"`
	PauseBps           uint64            `yaml:"pauseBps,omitempty"`
	ManualPrices       map[string]string `yaml:"manualPrices,omitempty"`
}

// GenesisAccrual seeds the yield schedule.
type GenesisAccrual struct {
	RateBps         uint64 `yaml:"rateBps"`
	IntervalSeconds uint64 `yaml:"intervalSeconds"`
}

// Genesis is the YAML bootstrap document applied once against an empty state
// database.
type Genesis struct {
	ChainName    string                      `yaml:"chainName"`
	StableSymbol string                      `yaml:"stableSymbol"`
	Roles        map[string][]crypto.Address `yaml:"roles,omitempty"`
	Alloc        []GenesisAlloc              `yaml:"alloc,omitempty"`
	PSM          *GenesisPSM                 `yaml:"psm,omitempty"`
	Treasury     *GenesisTreasury            `yaml:"treasury,omitempty"`
	Oracle       *GenesisOracle              `yaml:"oracle,omitempty"`
	Accrual      *GenesisAccrual             `yaml:"accrual,omitempty"`
	Pauses       map[string]bool             `yaml:"pauses,omitempty"`
}

// LoadGenesis reads and validates the YAML genesis document at path. Unknown
// fields are rejected.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseGenesis(raw)
}

// ParseGenesis decodes and validates a YAML genesis document.
func ParseGenesis(raw []byte) (*Genesis, error) {
	genesis := &Genesis{}
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(genesis); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	return genesis, nil
}

// Validate checks amounts parse and the structural invariants hold.
func (g *Genesis) Validate() error {
	if g == nil {
		return fmt.Errorf("genesis: document required")
	}
	if strings.TrimSpace(g.StableSymbol) == "" {
		return fmt.Errorf("genesis: stableSymbol required")
	}
	for i, alloc := range g.Alloc {
		if alloc.Address.IsZero() {
			return fmt.Errorf("genesis: alloc %d has no address", i)
		}
		if _, err := ParseAmount(alloc.Hyd); err != nil {
			return fmt.Errorf("genesis: alloc %d hyd: %w", i, err)
		}
		for symbol, amount := range alloc.Balances {
			if strings.TrimSpace(symbol) == "" {
				return fmt.Errorf("genesis: alloc %d has a blank balance symbol", i)
			}
			if _, err := ParseAmount(amount); err != nil {
				return fmt.Errorf("genesis: alloc %d balance %s: %w", i, symbol, err)
			}
		}
	}
	if g.PSM != nil {
		if _, err := ParseAmount(g.PSM.MaxMintedCap); err != nil {
			return fmt.Errorf("genesis: psm maxMintedCap: %w", err)
		}
	}
	if g.Treasury != nil {
		if _, err := ParseAmount(g.Treasury.DustDebt); err != nil {
			return fmt.Errorf("genesis: treasury dustDebt: %w", err)
		}
		for i, tier := range g.Treasury.Tiers {
			if strings.TrimSpace(tier.Asset) == "" {
				return fmt.Errorf("genesis: tier %d has no asset", i)
			}
			if tier.Tier < 1 || tier.Tier > 3 {
				return fmt.Errorf("genesis: tier %d for %s out of range", i, tier.Asset)
			}
			if tier.LTVBps > 10_000 {
				return fmt.Errorf("genesis: tier %d for %s ltv above 100%%", i, tier.Asset)
			}
			if _, err := ParseAmount(tier.PerAssetCapUSD); err != nil {
				return fmt.Errorf("genesis: tier %d cap: %w", i, err)
			}
		}
	}
	return nil
}

// ParseAmount parses a decimal base-unit amount string. Empty strings are
// zero; negative amounts are rejected.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return amount, nil
}
