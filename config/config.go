package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"curvemarket/crypto"
)

// MarketConfig declares the genesis parameters for the bonding-curve market.
// Prices and amounts are decimal strings in the smallest unit so arbitrary
// precision survives the TOML round trip.
type MarketConfig struct {
	AssetToken      string `toml:"AssetToken"`
	SettlementToken string `toml:"SettlementToken"`
	BasePrice       string `toml:"BasePrice"`
	Slope           string `toml:"Slope"`
	FeeBps          uint32 `toml:"FeeBps"`
	FeeRecipient    string `toml:"FeeRecipient"`
	Owner           string `toml:"Owner"`
}

// GenesisBalance funds an account at first boot. The market vault's asset
// reserve is funded the same way.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
	// Vault redirects the credit to the market's reserve account; Address is
	// ignored when set.
	Vault bool `toml:"Vault,omitempty"`
}

type Config struct {
	RPCAddress     string           `toml:"RPCAddress"`
	GatewayAddress string           `toml:"GatewayAddress"`
	DataDir        string           `toml:"DataDir"`
	Market         MarketConfig     `toml:"Market"`
	Genesis        []GenesisBalance `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a commented
// default when none exists.
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
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		GatewayAddress: ":8080",
		DataDir:        "./curvemarket-data",
		Market: MarketConfig{
			AssetToken:      "CRV",
			SettlementToken: "USDX",
			BasePrice:       "1000",
			Slope:           "100",
			FeeBps:          250,
		},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAmount parses a non-negative decimal string into a big integer.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid amount %q", raw)
	}
	return value, nil
}

// ParseAddress decodes a bech32 account address.
func ParseAddress(raw string) ([20]byte, error) {
	return crypto.DecodeAddress(raw)
}
