package protocol

import (
	"github.com/holiman/uint256"

	"zkusd/core/recovery"
	"zkusd/core/types"
)

// GetCDP returns a copy of the position.
func (m *Machine) GetCDP(id uint64) (*types.CDP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.cdps.Get(id)
}

// GetTCR returns the total collateral ratio at the oracle's current price;
// the boolean is false for infinite TCR (zero system debt).
func (m *Machine) GetTCR() (*uint256.Int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, _, err := m.oracle.Current()
	if err != nil {
		return nil, false, err
	}
	return m.st.systemTCR(price)
}

// GetMode returns the current admission regime.
func (m *Machine) GetMode() recovery.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.recovery.Mode()
}

// ModeHistory returns the retained mode transitions, oldest first.
func (m *Machine) ModeHistory() []recovery.Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.recovery.History()
}

// GetTotalSupply returns the token supply.
func (m *Machine) GetTotalSupply() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ledger.TotalSupply()
}

// BalanceOf returns the token balance of an account.
func (m *Machine) BalanceOf(account types.AccountKey) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ledger.BalanceOf(account)
}

// Transfer moves tokens between externally-owned accounts. The caller has
// already authenticated the sender.
func (m *Machine) Transfer(from, to types.AccountKey, amount *uint256.Int) error {
	return m.apply("transfer", func(ctx *opContext) error {
		return ctx.st.ledger.Transfer(from, to, amount)
	})
}

// Approve sets a spender allowance for the owner.
func (m *Machine) Approve(owner, spender types.AccountKey, amount *uint256.Int) error {
	return m.apply("approve", func(ctx *opContext) error {
		ctx.st.ledger.Approve(owner, spender, amount)
		return nil
	})
}

// TransferFrom spends an allowance to move tokens on the owner's behalf.
func (m *Machine) TransferFrom(spender, from, to types.AccountKey, amount *uint256.Int) error {
	return m.apply("transfer_from", func(ctx *opContext) error {
		return ctx.st.ledger.TransferFrom(spender, from, to, amount)
	})
}

// PoolStatus summarizes the stability pool globals.
type PoolStatus struct {
	TotalDeposits    *uint256.Int
	CollateralBuffer *uint256.Int
	Product          *uint256.Int
	Epoch            uint64
	Scale            uint64
}

// GetPoolStatus returns the stability pool globals.
func (m *Machine) GetPoolStatus() PoolStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	epoch, scale := m.st.pool.EpochScale()
	return PoolStatus{
		TotalDeposits:    m.st.pool.TotalDeposits(),
		CollateralBuffer: m.st.pool.CollateralBuffer(),
		Product:          m.st.pool.Product(),
		Epoch:            epoch,
		Scale:            scale,
	}
}

// PoolCompoundedDeposit returns the account's deposit after absorbed losses.
func (m *Machine) PoolCompoundedDeposit(account types.AccountKey) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.pool.CompoundedDeposit(account)
}

// PoolPendingGain returns the account's claimable collateral gain.
func (m *Machine) PoolPendingGain(account types.AccountKey) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.pool.PendingGain(account)
}

// FeeStatus summarizes the fee engine state.
type FeeStatus struct {
	BaseRate           *uint256.Int
	LastFeeOpTime      uint64
	LastRedemptionTime uint64
	Mints              uint64
	Redemptions        uint64
	Liquidations       uint64
}

// GetFeeStatus returns the fee engine state and statistics counters.
func (m *Machine) GetFeeStatus() FeeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mints, redemptions, liquidations := m.st.fees.Counters()
	return FeeStatus{
		BaseRate:           m.st.fees.BaseRate(),
		LastFeeOpTime:      m.st.fees.LastFeeOpTime(),
		LastRedemptionTime: m.st.fees.LastRedemptionTime(),
		Mints:              mints,
		Redemptions:        redemptions,
		Liquidations:       liquidations,
	}
}

// TreasuryBalances returns the protocol-held token and collateral balances.
func (m *Machine) TreasuryBalances() (tokens, collateral *uint256.Int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ledger.BalanceOf(TreasuryAccount), new(uint256.Int).Set(m.st.treasuryColl)
}

// TotalCollateral returns the vault aggregate.
func (m *Machine) TotalCollateral() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.vault.TotalCollateral()
}

// Height returns the current block height.
func (m *Machine) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}
