package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"zkusd/core/types"
)

const (
	// TypeCDPOpened is emitted when a new position is opened.
	TypeCDPOpened = "cdp.opened"
	// TypeCDPClosed is emitted when an owner closes a zero-debt position.
	TypeCDPClosed = "cdp.closed"
	// TypeCDPLiquidated is emitted once per liquidated position.
	TypeCDPLiquidated = "cdp.liquidated"
	// TypeCollateralDeposited is emitted on position top-ups.
	TypeCollateralDeposited = "cdp.collateral_deposited"
	// TypeCollateralWithdrawn is emitted on collateral withdrawals.
	TypeCollateralWithdrawn = "cdp.collateral_withdrawn"
	// TypeDebtMinted is emitted when a position mints additional debt.
	TypeDebtMinted = "cdp.debt_minted"
	// TypeDebtRepaid is emitted when debt is repaid against a position.
	TypeDebtRepaid = "cdp.debt_repaid"
)

func amountAttr(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type CDPOpened struct {
	ID         uint64
	Owner      types.AccountKey
	Collateral *uint256.Int
	Debt       *uint256.Int
	Fee        *uint256.Int
}

func (CDPOpened) EventType() string { return TypeCDPOpened }

func (e CDPOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeCDPOpened,
		Attributes: map[string]string{
			"cdpId":      strconv.FormatUint(e.ID, 10),
			"owner":      e.Owner.String(),
			"collateral": amountAttr(e.Collateral),
			"debt":       amountAttr(e.Debt),
			"fee":        amountAttr(e.Fee),
		},
	}
}

type CDPClosed struct {
	ID                 uint64
	Owner              types.AccountKey
	CollateralReturned *uint256.Int
}

func (CDPClosed) EventType() string { return TypeCDPClosed }

func (e CDPClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeCDPClosed,
		Attributes: map[string]string{
			"cdpId":      strconv.FormatUint(e.ID, 10),
			"owner":      e.Owner.String(),
			"collateral": amountAttr(e.CollateralReturned),
		},
	}
}

type CDPLiquidated struct {
	ID                uint64
	Owner             types.AccountKey
	Debt              *uint256.Int
	Collateral        *uint256.Int
	DebtOffset        *uint256.Int
	DebtRedistributed *uint256.Int
	GasCompensation   *uint256.Int
}

func (CDPLiquidated) EventType() string { return TypeCDPLiquidated }

func (e CDPLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeCDPLiquidated,
		Attributes: map[string]string{
			"cdpId":             strconv.FormatUint(e.ID, 10),
			"owner":             e.Owner.String(),
			"debt":              amountAttr(e.Debt),
			"collateral":        amountAttr(e.Collateral),
			"debtOffset":        amountAttr(e.DebtOffset),
			"debtRedistributed": amountAttr(e.DebtRedistributed),
			"gasCompensation":   amountAttr(e.GasCompensation),
		},
	}
}

type CollateralDeposited struct {
	ID     uint64
	From   types.AccountKey
	Amount *uint256.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"cdpId":  strconv.FormatUint(e.ID, 10),
			"from":   e.From.String(),
			"amount": amountAttr(e.Amount),
		},
	}
}

type CollateralWithdrawn struct {
	ID     uint64
	Owner  types.AccountKey
	Amount *uint256.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralWithdrawn,
		Attributes: map[string]string{
			"cdpId":  strconv.FormatUint(e.ID, 10),
			"owner":  e.Owner.String(),
			"amount": amountAttr(e.Amount),
		},
	}
}

type DebtMinted struct {
	ID     uint64
	Owner  types.AccountKey
	Amount *uint256.Int
	Fee    *uint256.Int
}

func (DebtMinted) EventType() string { return TypeDebtMinted }

func (e DebtMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtMinted,
		Attributes: map[string]string{
			"cdpId":  strconv.FormatUint(e.ID, 10),
			"owner":  e.Owner.String(),
			"amount": amountAttr(e.Amount),
			"fee":    amountAttr(e.Fee),
		},
	}
}

type DebtRepaid struct {
	ID     uint64
	From   types.AccountKey
	Amount *uint256.Int
}

func (DebtRepaid) EventType() string { return TypeDebtRepaid }

func (e DebtRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtRepaid,
		Attributes: map[string]string{
			"cdpId":  strconv.FormatUint(e.ID, 10),
			"from":   e.From.String(),
			"amount": amountAttr(e.Amount),
		},
	}
}
