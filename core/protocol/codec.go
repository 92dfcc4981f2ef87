package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"zkusd/core/fees"
	"zkusd/core/recovery"
	"zkusd/core/stability"
	"zkusd/core/types"
)

// The persisted state layout is a single canonical byte stream: a fixed
// header followed by length-prefixed sections in fixed order. All integers
// are big-endian fixed-width; wads are 32-byte big-endian words. The same
// section encoding feeds the state root, so a snapshot is verifiable
// against the header root on restore.

const (
	snapshotMagic   uint32 = 0x5a4b5553 // "ZKUS"
	snapshotVersion uint16 = 1
)

var ErrCorruptSnapshot = errors.New("protocol: corrupt snapshot")

type canonicalWriter struct {
	buf bytes.Buffer
}

func (w *canonicalWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *canonicalWriter) u16(v uint16) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *canonicalWriter) u32(v uint32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *canonicalWriter) u64(v uint64) { _ = binary.Write(&w.buf, binary.BigEndian, v) }

func (w *canonicalWriter) amount(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	word := v.Bytes32()
	w.buf.Write(word[:])
}

func (w *canonicalWriter) key(k types.AccountKey) { w.buf.Write(k[:]) }

func (w *canonicalWriter) bytes() []byte { return w.buf.Bytes() }

// encodeSections serializes the full entity set in the fixed section order:
// vault, fees, recovery, token ledger, CDPs by id, pool globals, pool
// deposits by account, redistribution accumulators.
func encodeSections(st *state) [][]byte {
	sections := make([][]byte, 0, 8)

	var vaultSec canonicalWriter
	vaultSec.amount(st.vault.TotalCollateral())
	vaultSec.amount(st.vault.PendingLiquidation())
	vaultSec.amount(st.treasuryColl)
	sections = append(sections, vaultSec.bytes())

	var feeSec canonicalWriter
	mints, redemptions, liquidations := st.fees.Counters()
	feeSec.amount(st.fees.BaseRate())
	feeSec.u64(st.fees.LastFeeOpTime())
	feeSec.u64(st.fees.LastRedemptionTime())
	feeSec.u64(mints)
	feeSec.u64(redemptions)
	feeSec.u64(liquidations)
	sections = append(sections, feeSec.bytes())

	var recSec canonicalWriter
	history := st.recovery.History()
	recSec.u8(uint8(st.recovery.Mode()))
	recSec.u32(uint32(len(history)))
	for _, transition := range history {
		recSec.u64(transition.Block)
		recSec.u8(uint8(transition.From))
		recSec.u8(uint8(transition.To))
		if transition.TCR == nil {
			recSec.u8(0)
		} else {
			recSec.u8(1)
			recSec.amount(transition.TCR)
		}
	}
	sections = append(sections, recSec.bytes())

	var ledgerSec canonicalWriter
	accounts := st.ledger.Accounts()
	ledgerSec.amount(st.ledger.TotalSupply())
	ledgerSec.u32(uint32(len(accounts)))
	for _, account := range accounts {
		ledgerSec.key(account)
		ledgerSec.amount(st.ledger.BalanceOf(account))
	}
	allowances := st.ledger.AllowanceEntries()
	ledgerSec.u32(uint32(len(allowances)))
	for _, entry := range allowances {
		ledgerSec.key(entry.Owner)
		ledgerSec.key(entry.Spender)
		ledgerSec.amount(entry.Amount)
	}
	sections = append(sections, ledgerSec.bytes())

	var cdpSec canonicalWriter
	positions := st.cdps.All()
	cdpSec.u64(st.cdps.NextID())
	cdpSec.u32(uint32(len(positions)))
	for _, position := range positions {
		cdpSec.u64(position.ID)
		cdpSec.key(position.Owner)
		cdpSec.amount(position.Collateral)
		cdpSec.amount(position.Debt)
		cdpSec.u8(uint8(position.Status))
		cdpSec.u64(position.CreatedAtBlock)
		cdpSec.amount(position.RewardSnapshotDebt)
		cdpSec.amount(position.RewardSnapshotColl)
	}
	sections = append(sections, cdpSec.bytes())

	var poolSec canonicalWriter
	epoch, scale := st.pool.EpochScale()
	sums := st.pool.SumEntries()
	poolSec.amount(st.pool.Product())
	poolSec.u64(epoch)
	poolSec.u64(scale)
	poolSec.amount(st.pool.TotalDeposits())
	poolSec.amount(st.pool.CollateralBuffer())
	poolSec.u32(uint32(len(sums)))
	for _, entry := range sums {
		poolSec.u64(entry.Key.Epoch)
		poolSec.u64(entry.Key.Scale)
		poolSec.amount(entry.Sum)
	}
	sections = append(sections, poolSec.bytes())

	var depositSec canonicalWriter
	depositors := st.pool.Depositors()
	depositSec.u32(uint32(len(depositors)))
	for _, account := range depositors {
		deposit := st.pool.DepositFor(account)
		depositSec.key(account)
		depositSec.amount(deposit.Initial)
		depositSec.amount(deposit.P)
		depositSec.amount(deposit.S)
		depositSec.u64(deposit.Epoch)
		depositSec.u64(deposit.Scale)
	}
	sections = append(sections, depositSec.bytes())

	var redistSec canonicalWriter
	lDebt, lColl := st.cdps.Accumulators()
	redistSec.amount(lDebt)
	redistSec.amount(lColl)
	redistSec.amount(st.cdps.PendingRedistributionDebt())
	redistSec.amount(st.cdps.PendingRedistributionCollateral())
	sections = append(sections, redistSec.bytes())

	return sections
}

// Snapshot returns the canonical byte encoding of the full state, suitable
// for persistence and for byte-exact comparison between instances.
func (m *Machine) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := encodeSections(m.st)
	root := sectionsDigest(sections)

	var out canonicalWriter
	out.u32(snapshotMagic)
	out.u16(snapshotVersion)
	out.u64(m.height)
	out.u64(m.opSeq)
	out.buf.Write(root[:])
	for _, section := range sections {
		out.u32(uint32(len(section)))
		out.buf.Write(section)
	}
	return out.bytes()
}

type canonicalReader struct {
	data []byte
	off  int
}

func (r *canonicalReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, ErrCorruptSnapshot
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *canonicalReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *canonicalReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *canonicalReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *canonicalReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *canonicalReader) amount() (*uint256.Int, error) {
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

func (r *canonicalReader) key() (types.AccountKey, error) {
	var key types.AccountKey
	b, err := r.take(32)
	if err != nil {
		return key, err
	}
	copy(key[:], b)
	return key, nil
}

// Restore replaces the machine state with the decoded snapshot, verifying
// the embedded root against the re-encoded sections.
func (m *Machine) Restore(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &canonicalReader{data: data}
	magic, err := r.u32()
	if err != nil {
		return err
	}
	if magic != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	version, err := r.u16()
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}
	height, err := r.u64()
	if err != nil {
		return err
	}
	opSeq, err := r.u64()
	if err != nil {
		return err
	}
	rootBytes, err := r.take(32)
	if err != nil {
		return err
	}
	var expectedRoot [32]byte
	copy(expectedRoot[:], rootBytes)

	sections := make([][]byte, 0, 8)
	for i := 0; i < 8; i++ {
		length, err := r.u32()
		if err != nil {
			return err
		}
		section, err := r.take(int(length))
		if err != nil {
			return err
		}
		sections = append(sections, section)
	}
	if r.off != len(data) {
		return fmt.Errorf("%w: trailing bytes", ErrCorruptSnapshot)
	}

	st, err := decodeSections(sections, feeParams(m.params))
	if err != nil {
		return err
	}
	if sectionsDigest(encodeSections(st)) != expectedRoot {
		return fmt.Errorf("%w: root mismatch", ErrCorruptSnapshot)
	}

	m.st = st
	m.height = height
	m.opSeq = opSeq
	m.lastRoot = expectedRoot
	return nil
}

func decodeSections(sections [][]byte, feeParams fees.Params) (*state, error) {
	st := newState(feeParams, 0)

	vaultSec := &canonicalReader{data: sections[0]}
	total, err := vaultSec.amount()
	if err != nil {
		return nil, err
	}
	pending, err := vaultSec.amount()
	if err != nil {
		return nil, err
	}
	treasury, err := vaultSec.amount()
	if err != nil {
		return nil, err
	}
	st.vault.Restore(total, pending)
	st.treasuryColl = treasury

	feeSec := &canonicalReader{data: sections[1]}
	baseRate, err := feeSec.amount()
	if err != nil {
		return nil, err
	}
	lastFeeOp, err := feeSec.u64()
	if err != nil {
		return nil, err
	}
	lastRedemption, err := feeSec.u64()
	if err != nil {
		return nil, err
	}
	mints, err := feeSec.u64()
	if err != nil {
		return nil, err
	}
	redemptions, err := feeSec.u64()
	if err != nil {
		return nil, err
	}
	liquidations, err := feeSec.u64()
	if err != nil {
		return nil, err
	}
	st.fees.Restore(baseRate, lastFeeOp, lastRedemption, mints, redemptions, liquidations)

	recSec := &canonicalReader{data: sections[2]}
	modeByte, err := recSec.u8()
	if err != nil {
		return nil, err
	}
	historyLen, err := recSec.u32()
	if err != nil {
		return nil, err
	}
	history := make([]recovery.Transition, 0, historyLen)
	for i := uint32(0); i < historyLen; i++ {
		block, err := recSec.u64()
		if err != nil {
			return nil, err
		}
		from, err := recSec.u8()
		if err != nil {
			return nil, err
		}
		to, err := recSec.u8()
		if err != nil {
			return nil, err
		}
		hasTCR, err := recSec.u8()
		if err != nil {
			return nil, err
		}
		transition := recovery.Transition{
			Block: block,
			From:  recovery.Mode(from),
			To:    recovery.Mode(to),
		}
		if hasTCR == 1 {
			tcr, err := recSec.amount()
			if err != nil {
				return nil, err
			}
			transition.TCR = tcr
		}
		history = append(history, transition)
	}
	st.recovery.RestoreState(recovery.Mode(modeByte), history)

	ledgerSec := &canonicalReader{data: sections[3]}
	supply, err := ledgerSec.amount()
	if err != nil {
		return nil, err
	}
	accountCount, err := ledgerSec.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < accountCount; i++ {
		account, err := ledgerSec.key()
		if err != nil {
			return nil, err
		}
		balance, err := ledgerSec.amount()
		if err != nil {
			return nil, err
		}
		if err := st.ledger.SetBalance(account, balance); err != nil {
			return nil, err
		}
	}
	if st.ledger.TotalSupply().Cmp(supply) != 0 {
		return nil, fmt.Errorf("%w: supply mismatch", ErrCorruptSnapshot)
	}
	allowanceCount, err := ledgerSec.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < allowanceCount; i++ {
		owner, err := ledgerSec.key()
		if err != nil {
			return nil, err
		}
		spender, err := ledgerSec.key()
		if err != nil {
			return nil, err
		}
		amount, err := ledgerSec.amount()
		if err != nil {
			return nil, err
		}
		st.ledger.Approve(owner, spender, amount)
	}

	cdpSec := &canonicalReader{data: sections[4]}
	nextID, err := cdpSec.u64()
	if err != nil {
		return nil, err
	}
	cdpCount, err := cdpSec.u32()
	if err != nil {
		return nil, err
	}
	positions := make([]*types.CDP, 0, cdpCount)
	for i := uint32(0); i < cdpCount; i++ {
		position := &types.CDP{}
		if position.ID, err = cdpSec.u64(); err != nil {
			return nil, err
		}
		if position.Owner, err = cdpSec.key(); err != nil {
			return nil, err
		}
		if position.Collateral, err = cdpSec.amount(); err != nil {
			return nil, err
		}
		if position.Debt, err = cdpSec.amount(); err != nil {
			return nil, err
		}
		statusByte, err := cdpSec.u8()
		if err != nil {
			return nil, err
		}
		position.Status = types.CDPStatus(statusByte)
		if position.CreatedAtBlock, err = cdpSec.u64(); err != nil {
			return nil, err
		}
		if position.RewardSnapshotDebt, err = cdpSec.amount(); err != nil {
			return nil, err
		}
		if position.RewardSnapshotColl, err = cdpSec.amount(); err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}

	poolSec := &canonicalReader{data: sections[5]}
	product, err := poolSec.amount()
	if err != nil {
		return nil, err
	}
	epoch, err := poolSec.u64()
	if err != nil {
		return nil, err
	}
	scale, err := poolSec.u64()
	if err != nil {
		return nil, err
	}
	totalDeposits, err := poolSec.amount()
	if err != nil {
		return nil, err
	}
	collBuffer, err := poolSec.amount()
	if err != nil {
		return nil, err
	}
	sumCount, err := poolSec.u32()
	if err != nil {
		return nil, err
	}
	sums := make([]stability.SumEntry, 0, sumCount)
	for i := uint32(0); i < sumCount; i++ {
		sumEpoch, err := poolSec.u64()
		if err != nil {
			return nil, err
		}
		sumScale, err := poolSec.u64()
		if err != nil {
			return nil, err
		}
		sum, err := poolSec.amount()
		if err != nil {
			return nil, err
		}
		sums = append(sums, stability.SumEntry{
			Key: stability.ScaleKey{Epoch: sumEpoch, Scale: sumScale},
			Sum: sum,
		})
	}

	depositSec := &canonicalReader{data: sections[6]}
	depositCount, err := depositSec.u32()
	if err != nil {
		return nil, err
	}
	deposits := make(map[types.AccountKey]*stability.Deposit, depositCount)
	for i := uint32(0); i < depositCount; i++ {
		account, err := depositSec.key()
		if err != nil {
			return nil, err
		}
		deposit := &stability.Deposit{}
		if deposit.Initial, err = depositSec.amount(); err != nil {
			return nil, err
		}
		if deposit.P, err = depositSec.amount(); err != nil {
			return nil, err
		}
		if deposit.S, err = depositSec.amount(); err != nil {
			return nil, err
		}
		if deposit.Epoch, err = depositSec.u64(); err != nil {
			return nil, err
		}
		if deposit.Scale, err = depositSec.u64(); err != nil {
			return nil, err
		}
		deposits[account] = deposit
	}
	st.pool.RestoreState(product, epoch, scale, totalDeposits, collBuffer, sums, deposits)

	redistSec := &canonicalReader{data: sections[7]}
	lDebt, err := redistSec.amount()
	if err != nil {
		return nil, err
	}
	lColl, err := redistSec.amount()
	if err != nil {
		return nil, err
	}
	pendingDebt, err := redistSec.amount()
	if err != nil {
		return nil, err
	}
	pendingColl, err := redistSec.amount()
	if err != nil {
		return nil, err
	}
	if err := st.cdps.RestoreState(positions, nextID, lDebt, lColl, pendingDebt, pendingColl); err != nil {
		return nil, err
	}

	return st, nil
}
