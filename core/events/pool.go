package events

import (
	"github.com/holiman/uint256"

	"zkusd/core/types"
)

const (
	TypeStabilityPoolDeposit     = "pool.deposit"
	TypeStabilityPoolWithdraw    = "pool.withdraw"
	TypeStabilityPoolGainClaimed = "pool.gain_claimed"
)

type StabilityPoolDeposit struct {
	Account types.AccountKey
	Amount  *uint256.Int
	// Deposit is the resulting compounded deposit.
	Deposit *uint256.Int
}

func (StabilityPoolDeposit) EventType() string { return TypeStabilityPoolDeposit }

func (e StabilityPoolDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityPoolDeposit,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  amountAttr(e.Amount),
			"deposit": amountAttr(e.Deposit),
		},
	}
}

type StabilityPoolWithdraw struct {
	Account types.AccountKey
	Amount  *uint256.Int
	Deposit *uint256.Int
}

func (StabilityPoolWithdraw) EventType() string { return TypeStabilityPoolWithdraw }

func (e StabilityPoolWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityPoolWithdraw,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  amountAttr(e.Amount),
			"deposit": amountAttr(e.Deposit),
		},
	}
}

type StabilityPoolGainClaimed struct {
	Account types.AccountKey
	Gain    *uint256.Int
}

func (StabilityPoolGainClaimed) EventType() string { return TypeStabilityPoolGainClaimed }

func (e StabilityPoolGainClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityPoolGainClaimed,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"gain":    amountAttr(e.Gain),
		},
	}
}
