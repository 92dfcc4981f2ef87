// Package protocol implements the deterministic state machine at the heart
// of the stablecoin core. A single Machine value owns the entity set; every
// operation runs atomically against a working clone under an exclusive
// lock, is recovery-gated, invariant-checked, and only then committed. The
// machine is pure with respect to the outside world: the oracle, clock,
// event sink, and proof requester are injected capabilities.
package protocol

import (
	"math/big"
	"strconv"
	"sync"

	"github.com/holiman/uint256"

	"zkusd/core/events"
	"zkusd/core/fees"
	"zkusd/core/liquidation"
	"zkusd/core/redemption"
	"zkusd/observability"
)

// Machine is the single owning container for protocol state. Callers thread
// the instance; there are no process-wide singletons.
type Machine struct {
	mu sync.RWMutex

	params Params
	st     *state

	oracle PriceOracle
	clock  Clock
	sink   events.Emitter
	proofs ProofRequester

	liquidator *liquidation.Engine
	redeemer   *redemption.Engine

	height   uint64
	opSeq    uint64
	lastRoot [32]byte
}

// NewMachine constructs a machine with empty state anchored at the clock's
// current time. Event sink and proof requester default to no-ops.
func NewMachine(params Params, oracle PriceOracle, clock Clock) *Machine {
	cloned := params.Clone()
	m := &Machine{
		params: cloned,
		oracle: oracle,
		clock:  clock,
		sink:   events.NoopEmitter{},
		proofs: NoopProofRequester{},
		liquidator: liquidation.NewEngine(
			cloned.LiquidationBonus, cloned.GasCompCapRate),
		redeemer: redemption.NewEngine(cloned.MCR, cloned.MinDebt),
	}
	m.st = newState(feeParams(cloned), clock.Now())
	m.lastRoot = m.rootOf(m.st)
	return m
}

func feeParams(p Params) fees.Params {
	return fees.Params{
		MintFeeFloor:       p.MintFeeFloor,
		MintFeeCeil:        p.MintFeeCeil,
		RedemptionFeeFloor: p.RedemptionFeeFloor,
		RedemptionFeeCeil:  p.RedemptionFeeCeil,
		TargetDebt:         p.TargetDebt,
	}
}

// SetEventSink wires the downstream event consumer.
func (m *Machine) SetEventSink(sink events.Emitter) {
	if m == nil || sink == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// SetProofRequester wires the proving subsystem.
func (m *Machine) SetProofRequester(proofs ProofRequester) {
	if m == nil || proofs == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs = proofs
}

// SetBlockHeight records the height stamped on events and transitions.
func (m *Machine) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = height
}

// opContext carries one operation's working state, the price read at entry,
// and the events collected during dispatch.
type opContext struct {
	st     *state
	price  *uint256.Int
	now    uint64
	events []events.Event
}

func (ctx *opContext) emit(event events.Event) {
	ctx.events = append(ctx.events, event)
}

// apply runs one operation end to end: read the oracle once, evaluate the
// recovery mode against the fresh price, dispatch against a working clone,
// re-evaluate the mode, check the conservation invariants, and commit.
// Validation and solvency failures leave the committed state untouched.
func (m *Machine) apply(opName string, fn func(ctx *opContext) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, _, err := m.oracle.Current()
	if err != nil {
		observability.Protocol().RecordOp(opName, "stale_price")
		return err
	}

	work := m.st.clone()
	ctx := &opContext{st: work, price: price, now: m.clock.Now()}

	// The price may have moved since the last operation; refresh the mode
	// before any gate consults it.
	if err := m.evaluateRecovery(ctx); err != nil {
		observability.Protocol().RecordOp(opName, "error")
		return err
	}

	if err := fn(ctx); err != nil {
		observability.Protocol().RecordOp(opName, "rejected")
		return err
	}

	if err := m.evaluateRecovery(ctx); err != nil {
		observability.Protocol().RecordOp(opName, "error")
		return err
	}
	if err := m.checkInvariants(work); err != nil {
		observability.Protocol().RecordOp(opName, "invariant_violation")
		return err
	}

	preRoot := m.lastRoot
	m.st = work
	m.opSeq++
	m.lastRoot = m.rootOf(work)

	for _, event := range ctx.events {
		payload := event.Event()
		payload.Attributes["height"] = strconv.FormatUint(m.height, 10)
		payload.Attributes["opId"] = strconv.FormatUint(m.opSeq, 10)
		m.sink.Emit(payload)
	}
	m.proofs.Submit(Transition{
		Height:   m.height,
		OpID:     m.opSeq,
		Op:       opName,
		PreRoot:  preRoot,
		PostRoot: m.lastRoot,
	})
	observability.Protocol().RecordOp(opName, "applied")
	m.recordGauges(work)
	return nil
}

// evaluateRecovery recomputes the TCR at the operation's price and flips
// the mode when it crosses the critical ratio.
func (m *Machine) evaluateRecovery(ctx *opContext) error {
	tcr, finite, err := ctx.st.systemTCR(ctx.price)
	if err != nil {
		return err
	}
	var observed *uint256.Int
	if finite {
		observed = tcr
	}
	changed, from := ctx.st.recovery.Evaluate(observed, m.params.CCR, m.height)
	if changed {
		display := "inf"
		if finite {
			display = tcr.Dec()
		}
		ctx.emit(events.RecoveryModeChanged{
			From: from.String(),
			To:   ctx.st.recovery.Mode().String(),
			TCR:  display,
		})
	}
	return nil
}

func (m *Machine) recordGauges(st *state) {
	mode := 0.0
	if st.recovery.Mode() != 0 {
		mode = 1.0
	}
	observability.Protocol().SetSystemGauges(observability.SystemGauges{
		BaseRate:     wadToFloat(st.fees.BaseRate()),
		RecoveryMode: mode,
		ActiveCDPs:   float64(st.cdps.ActiveCount()),
		PoolDeposits: wadToFloat(st.pool.TotalDeposits()),
		TotalSupply:  wadToFloat(st.ledger.TotalSupply()),
	})
}

// wadToFloat is for metrics display only and never feeds back into state.
func wadToFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f / 1e18
}

// tcrAtLeast compares two possibly-infinite ratios; a nil value means
// infinite and dominates every finite ratio.
func tcrAtLeast(a *uint256.Int, aFinite bool, b *uint256.Int, bFinite bool) bool {
	switch {
	case !aFinite:
		return true
	case !bFinite:
		return false
	default:
		return a.Cmp(b) >= 0
	}
}
