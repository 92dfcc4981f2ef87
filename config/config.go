package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from TOML.
type Config struct {
	// ListenAddress serves the admin endpoints (/healthz, /metrics, /status,
	// /admin/price).
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogFile       string `toml:"LogFile"`
	Env           string `toml:"Env"`

	Protocol ProtocolConfig `toml:"protocol"`
}

// ProtocolConfig carries the governable protocol constants as decimal
// strings (wad semantics), fixed for a session.
type ProtocolConfig struct {
	MCR                string `toml:"MCR"`
	CCR                string `toml:"CCR"`
	LiquidationBonus   string `toml:"LiquidationBonus"`
	GasCompCap         string `toml:"GasCompCap"`
	MinDebt            string `toml:"MinDebt"`
	MintFeeFloor       string `toml:"MintFeeFloor"`
	MintFeeCeil        string `toml:"MintFeeCeil"`
	RedemptionFeeFloor string `toml:"RedemptionFeeFloor"`
	RedemptionFeeCeil  string `toml:"RedemptionFeeCeil"`
	TargetDebt         string `toml:"TargetDebt"`
	// CollateralDustWei is the remnant threshold swept on redemption, in
	// raw wei.
	CollateralDustWei uint64 `toml:"CollateralDustWei"`
}

// Load reads the configuration from the given path, writing the defaults
// when the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, cfg)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the session defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: ":8645",
		DataDir:       "./zkusd-data",
		Env:           "dev",
		Protocol: ProtocolConfig{
			MCR:                "1.5",
			CCR:                "1.5",
			LiquidationBonus:   "0.1",
			GasCompCap:         "0.005",
			MinDebt:            "200",
			MintFeeFloor:       "0.005",
			MintFeeCeil:        "0.05",
			RedemptionFeeFloor: "0.005",
			RedemptionFeeCeil:  "0.05",
			TargetDebt:         "1000000",
			CollateralDustWei:  1_000_000,
		},
	}
}

func createDefault(path string, cfg *Config) (*Config, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
