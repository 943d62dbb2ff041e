package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" || cfg.NetworkName != "hyd-local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OraclePollSeconds != 30 || cfg.GatewayRateBurst != 100 {
		t.Fatalf("derived defaults not applied: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if _, err := os.Stat(cfg.GovernorKeystorePath); err != nil {
		t.Fatalf("keystore not created: %v", err)
	}

	// Reload parses the persisted file.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.GovernorKeystorePath != cfg.GovernorKeystorePath {
		t.Fatalf("keystore path changed on reload")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "ListenAddress = \":8080\"\nGovernorKey = \"deadbeef\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestParseGenesis(t *testing.T) {
	doc := `
chainName: hyd-local
stableSymbol: USDR
roles:
  ROLE_GOVERNANCE:
    - hyd1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqp6uv2pr
alloc:
  - address: hyd1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqp6uv2pr
    hyd: "1000000000000000000000"
    balances:
      USDR: "500000000"
psm:
  feeInBps: 10
  feeOutBps: 10
  maxMintedCap: "250000000000000000000000000"
  quota:
    maxRequestsPerEpoch: 30
    epochSeconds: 3600
treasury:
  redeemFeeBps: 50
  tiers:
    - asset: TBILL
      tier: 1
      ltvBps: 6000
      active: true
oracle:
  maxQuoteAgeSeconds: 300
  manualPrices:
    TBILL: "1.00"
accrual:
  rateBps: 250
  intervalSeconds: 86400
pauses:
  psm: false
`
	genesis, err := ParseGenesis([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if genesis.StableSymbol != "USDR" || len(genesis.Alloc) != 1 {
		t.Fatalf("unexpected genesis: %+v", genesis)
	}
	if genesis.PSM.Quota.MaxRequestsPerEpoch != 30 {
		t.Fatalf("quota not decoded: %+v", genesis.PSM)
	}
	if len(genesis.Treasury.Tiers) != 1 || genesis.Treasury.Tiers[0].Asset != "TBILL" {
		t.Fatalf("tiers not decoded: %+v", genesis.Treasury)
	}
	if genesis.Oracle.ManualPrices["TBILL"] != "1.00" {
		t.Fatalf("manual prices not decoded")
	}
}

func TestParseGenesisRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "stableSymbol: USDR\nbogus: 1\n",
		"missing stable": "chainName: x\n",
		"bad amount": `
stableSymbol: USDR
alloc:
  - address: hyd1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqp6uv2pr
    hyd: "not-a-number"
`,
		"tier out of range": `
stableSymbol: USDR
treasury:
  tiers:
    - asset: TBILL
      tier: 9
      ltvBps: 6000
`,
	}
	for name, doc := range cases {
		if _, err := ParseGenesis([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("  42  ")
	if err != nil || amount.Int64() != 42 {
		t.Fatalf("parse: %s %v", amount, err)
	}
	if zero, err := ParseAmount(""); err != nil || zero.Sign() != 0 {
		t.Fatalf("empty must be zero: %s %v", zero, err)
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Fatalf("negative must fail")
	}
}
