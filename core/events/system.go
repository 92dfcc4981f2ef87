package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"zkusd/core/types"
)

const (
	TypeRedemption          = "redemption.executed"
	TypeRecoveryModeChanged = "recovery.mode_changed"
	TypeBaseRateUpdated     = "fees.base_rate_updated"
)

type Redemption struct {
	Account          types.AccountKey
	TokensRedeemed   *uint256.Int
	CollateralPaid   *uint256.Int
	CollateralFee    *uint256.Int
	PositionsTouched uint64
}

func (Redemption) EventType() string { return TypeRedemption }

func (e Redemption) Event() *types.Event {
	return &types.Event{
		Type: TypeRedemption,
		Attributes: map[string]string{
			"account":          e.Account.String(),
			"tokensRedeemed":   amountAttr(e.TokensRedeemed),
			"collateralPaid":   amountAttr(e.CollateralPaid),
			"collateralFee":    amountAttr(e.CollateralFee),
			"positionsTouched": strconv.FormatUint(e.PositionsTouched, 10),
		},
	}
}

type RecoveryModeChanged struct {
	From string
	To   string
	// TCR is the decimal total collateral ratio; "inf" when debt is zero.
	TCR string
}

func (RecoveryModeChanged) EventType() string { return TypeRecoveryModeChanged }

func (e RecoveryModeChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeRecoveryModeChanged,
		Attributes: map[string]string{
			"from": e.From,
			"to":   e.To,
			"tcr":  e.TCR,
		},
	}
}

type BaseRateUpdated struct {
	BaseRate *uint256.Int
}

func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

func (e BaseRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBaseRateUpdated,
		Attributes: map[string]string{
			"baseRate": amountAttr(e.BaseRate),
		},
	}
}
