package protocol

import (
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"zkusd/core/cdp"
	"zkusd/core/fees"
	"zkusd/core/fixedpoint"
	"zkusd/core/recovery"
	"zkusd/core/stability"
	"zkusd/core/token"
	"zkusd/core/types"
	"zkusd/core/vault"
)

// moduleAccount derives the reserved ledger key for a protocol-owned
// account from a stable label.
func moduleAccount(name string) types.AccountKey {
	digest := blake3.Sum256([]byte("zkusd/module/" + name))
	return types.AccountKey(digest)
}

var (
	// PoolAccount holds the stability pool's token deposits.
	PoolAccount = moduleAccount("stability-pool")
	// TreasuryAccount accrues protocol fees in tokens.
	TreasuryAccount = moduleAccount("treasury")
)

// state bundles every authoritative entity set. Operations run against a
// deep clone and the machine swaps the pointer only after the invariant
// check passes, so a failed transition can never leak partial writes.
type state struct {
	ledger   *token.Ledger
	vault    *vault.Vault
	cdps     *cdp.Manager
	pool     *stability.Pool
	fees     *fees.Engine
	recovery *recovery.Manager
	// treasuryColl is protocol-held collateral swept out of the vault
	// (redemption fees, dust sweeps), pending external custody.
	treasuryColl *uint256.Int
}

func newState(feeParams fees.Params, genesisTime uint64) *state {
	return &state{
		ledger:       token.NewLedger(),
		vault:        vault.NewVault(),
		cdps:         cdp.NewManager(),
		pool:         stability.NewPool(),
		fees:         fees.NewEngine(feeParams, genesisTime),
		recovery:     recovery.NewManager(),
		treasuryColl: new(uint256.Int),
	}
}

func (s *state) clone() *state {
	return &state{
		ledger:       s.ledger.Clone(),
		vault:        s.vault.Clone(),
		cdps:         s.cdps.Clone(),
		pool:         s.pool.Clone(),
		fees:         s.fees.Clone(),
		recovery:     s.recovery.Clone(),
		treasuryColl: fixedpoint.Clone(s.treasuryColl),
	}
}

// systemDebt is the debt the whole active set owes, including
// redistribution amounts not yet folded into individual positions.
func (s *state) systemDebt() *uint256.Int {
	debt := s.cdps.TotalActiveDebt()
	sum, err := fixedpoint.Add(debt, s.cdps.PendingRedistributionDebt())
	if err != nil {
		panic(err)
	}
	return sum
}

// systemCollateral is the collateral backing the active set, including
// unapplied redistribution collateral.
func (s *state) systemCollateral() *uint256.Int {
	coll := s.cdps.TotalActiveCollateral()
	sum, err := fixedpoint.Add(coll, s.cdps.PendingRedistributionCollateral())
	if err != nil {
		panic(err)
	}
	return sum
}

// systemTCR evaluates the total collateral ratio at the given price; the
// boolean is false for infinite TCR (zero debt).
func (s *state) systemTCR(price *uint256.Int) (*uint256.Int, bool, error) {
	return recovery.ComputeTCR(s.systemCollateral(), s.systemDebt(), price)
}
