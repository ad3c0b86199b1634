package config

import (
	"fmt"
	"strings"
)

const maxFeeBps = 1000

// Validate rejects configurations the engine would refuse at genesis, so
// operators learn about bad parameters at boot rather than at deploy time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	m := cfg.Market
	asset := strings.TrimSpace(m.AssetToken)
	settlement := strings.TrimSpace(m.SettlementToken)
	if asset == "" || settlement == "" {
		return fmt.Errorf("config: market token pair required")
	}
	if strings.EqualFold(asset, settlement) {
		return fmt.Errorf("config: asset and settlement tokens must differ")
	}
	if m.FeeBps > maxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds cap %d", m.FeeBps, maxFeeBps)
	}
	if _, err := ParseAmount(m.BasePrice); err != nil {
		return fmt.Errorf("config: BasePrice: %w", err)
	}
	if _, err := ParseAmount(m.Slope); err != nil {
		return fmt.Errorf("config: Slope: %w", err)
	}
	if strings.TrimSpace(m.FeeRecipient) != "" {
		if _, err := ParseAddress(m.FeeRecipient); err != nil {
			return fmt.Errorf("config: FeeRecipient: %w", err)
		}
	}
	if strings.TrimSpace(m.Owner) != "" {
		if _, err := ParseAddress(m.Owner); err != nil {
			return fmt.Errorf("config: Owner: %w", err)
		}
	}
	for i, balance := range cfg.Genesis {
		if _, err := ParseAmount(balance.Amount); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
		if strings.TrimSpace(balance.Token) == "" {
			return fmt.Errorf("config: Genesis[%d]: token required", i)
		}
		if !balance.Vault {
			if _, err := ParseAddress(balance.Address); err != nil {
				return fmt.Errorf("config: Genesis[%d]: %w", i, err)
			}
		}
	}
	return nil
}
