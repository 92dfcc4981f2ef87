package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/protocol"
)

// Validate checks the node settings and parses every protocol constant.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := c.Protocol.Params(); err != nil {
		return err
	}
	return nil
}

// Params parses the decimal protocol constants into wad parameters.
func (p ProtocolConfig) Params() (protocol.Params, error) {
	out := protocol.Params{CollateralDustThreshold: uint256.NewInt(p.CollateralDustWei)}
	fields := []struct {
		name  string
		value string
		dst   **uint256.Int
	}{
		{"MCR", p.MCR, &out.MCR},
		{"CCR", p.CCR, &out.CCR},
		{"LiquidationBonus", p.LiquidationBonus, &out.LiquidationBonus},
		{"GasCompCap", p.GasCompCap, &out.GasCompCapRate},
		{"MinDebt", p.MinDebt, &out.MinDebt},
		{"MintFeeFloor", p.MintFeeFloor, &out.MintFeeFloor},
		{"MintFeeCeil", p.MintFeeCeil, &out.MintFeeCeil},
		{"RedemptionFeeFloor", p.RedemptionFeeFloor, &out.RedemptionFeeFloor},
		{"RedemptionFeeCeil", p.RedemptionFeeCeil, &out.RedemptionFeeCeil},
		{"TargetDebt", p.TargetDebt, &out.TargetDebt},
	}
	for _, field := range fields {
		parsed, err := fixedpoint.WadFromDecimal(field.value)
		if err != nil {
			return protocol.Params{}, fmt.Errorf("config: protocol.%s: %w", field.name, err)
		}
		*field.dst = parsed
	}
	if out.MCR.Cmp(fixedpoint.WAD) < 0 {
		return protocol.Params{}, fmt.Errorf("config: protocol.MCR must be at least 1")
	}
	if out.CCR.Cmp(fixedpoint.WAD) < 0 {
		return protocol.Params{}, fmt.Errorf("config: protocol.CCR must be at least 1")
	}
	if out.MintFeeFloor.Cmp(out.MintFeeCeil) > 0 {
		return protocol.Params{}, fmt.Errorf("config: protocol mint fee floor above ceiling")
	}
	if out.RedemptionFeeFloor.Cmp(out.RedemptionFeeCeil) > 0 {
		return protocol.Params{}, fmt.Errorf("config: protocol redemption fee floor above ceiling")
	}
	if out.MinDebt.IsZero() {
		return protocol.Params{}, fmt.Errorf("config: protocol.MinDebt must be positive")
	}
	return out, nil
}
