package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hydchain/crypto"

	"github.com/BurntSushi/toml"
)

// OracleFeed names one remote price endpoint polled by the daemon.
type OracleFeed struct {
	Name     string `toml:"Name"`
	Endpoint string `toml:"Endpoint"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Environment string `toml:"Environment"`
	// Headers carries collector auth as "key=value,key=value" pairs.
	Headers string `toml:"Headers"`
}

// LogFile configures the optional rotated log file sink.
type LogFile struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type Config struct {
	ListenAddress        string       `toml:"ListenAddress"`
	DataDir              string       `toml:"DataDir"`
	GenesisFile          string       `toml:"GenesisFile"`
	GovernorKeystorePath string       `toml:"GovernorKeystorePath"`
	NetworkName          string       `toml:"NetworkName"`
	ExportDir            string       `toml:"ExportDir"`
	AuditLogPath         string       `toml:"AuditLogPath"`
	OraclePollSeconds    int          `toml:"OraclePollSeconds"`
	OracleRequestsPerSec int          `toml:"OracleRequestsPerSec"`
	OracleFeeds          []OracleFeed `toml:"OracleFeeds"`
	GatewayRatePerSecond float64      `toml:"GatewayRatePerSecond"`
	GatewayRateBurst     int          `toml:"GatewayRateBurst"`
	WebhookURL           string       `toml:"WebhookURL"`
	WebhookSecret        string       `toml:"WebhookSecret"`
	Telemetry            Telemetry    `toml:"Telemetry"`
	LogFile              LogFile      `toml:"LogFile"`
}

// Load reads the configuration at path, creating a default file (and a fresh
// governor keystore next to it) when none exists. Unknown keys are rejected so
// typos fail loudly instead of silently falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./hyd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "hyd-local"
	}
	if strings.TrimSpace(cfg.ExportDir) == "" {
		cfg.ExportDir = filepath.Join(cfg.DataDir, "exports")
	}
	if strings.TrimSpace(cfg.AuditLogPath) == "" {
		cfg.AuditLogPath = filepath.Join(cfg.DataDir, "params-audit.db")
	}
	if cfg.OraclePollSeconds <= 0 {
		cfg.OraclePollSeconds = 30
	}
	if cfg.OracleRequestsPerSec <= 0 {
		cfg.OracleRequestsPerSec = 4
	}
	if cfg.GatewayRatePerSecond <= 0 {
		cfg.GatewayRatePerSecond = 50
	}
	if cfg.GatewayRateBurst <= 0 {
		cfg.GatewayRateBurst = 100
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.GovernorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.GovernorKeystorePath != keystorePath {
		cfg.GovernorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./hyd-data",
		GenesisFile:   "",
		NetworkName:   "hyd-local",
	}
	cfg.GovernorKeystorePath = keystorePath
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "governor.keystore")
}
