// Package recovery evaluates the total collateral ratio and drives the
// Normal/Recovery mode switch that tightens admission rules when the system
// is undercollateralized.
package recovery

import (
	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
)

// Mode is the protocol admission regime.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeRecovery
)

func (m Mode) String() string {
	if m == ModeRecovery {
		return "recovery"
	}
	return "normal"
}

// historyCap bounds the retained mode-transition records.
const historyCap = 32

// Transition records one mode change.
type Transition struct {
	Block uint64
	From  Mode
	To    Mode
	// TCR is the total collateral ratio that triggered the change; nil
	// records an infinite ratio (zero debt).
	TCR *uint256.Int
}

// Clone deep-copies the record.
func (t Transition) Clone() Transition {
	clone := Transition{Block: t.Block, From: t.From, To: t.To}
	if t.TCR != nil {
		clone.TCR = fixedpoint.Clone(t.TCR)
	}
	return clone
}

// Manager holds the current mode and a bounded transition history.
type Manager struct {
	mode    Mode
	history []Transition
}

// NewManager starts in Normal mode with empty history.
func NewManager() *Manager {
	return &Manager{}
}

// ComputeTCR returns wdiv(wmul(totalCollateral, price), totalDebt); the
// boolean is false when totalDebt is zero, meaning infinite TCR.
func ComputeTCR(totalCollateral, totalDebt, price *uint256.Int) (*uint256.Int, bool, error) {
	if totalDebt == nil || totalDebt.IsZero() {
		return nil, false, nil
	}
	value, err := fixedpoint.WMul(totalCollateral, price)
	if err != nil {
		return nil, false, err
	}
	tcr, err := fixedpoint.WDiv(value, totalDebt)
	if err != nil {
		return nil, false, err
	}
	return tcr, true, nil
}

// Evaluate updates the mode from the supplied TCR (nil meaning infinite)
// against the critical ratio, recording any transition at the given block.
// It reports whether the mode changed and the previous mode.
func (m *Manager) Evaluate(tcr *uint256.Int, ccr *uint256.Int, block uint64) (changed bool, from Mode) {
	next := ModeNormal
	if tcr != nil && tcr.Cmp(ccr) < 0 {
		next = ModeRecovery
	}
	if next == m.mode {
		return false, m.mode
	}
	from = m.mode
	var observed *uint256.Int
	if tcr != nil {
		observed = fixedpoint.Clone(tcr)
	}
	m.history = append(m.history, Transition{Block: block, From: from, To: next, TCR: observed})
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	m.mode = next
	return true, from
}

// Mode returns the current admission regime.
func (m *Manager) Mode() Mode { return m.mode }

// History returns a copy of the retained transitions, oldest first.
func (m *Manager) History() []Transition {
	out := make([]Transition, 0, len(m.history))
	for _, t := range m.history {
		out = append(out, t.Clone())
	}
	return out
}

// RestoreState overwrites mode and history; snapshot restoration only.
func (m *Manager) RestoreState(mode Mode, history []Transition) {
	m.mode = mode
	m.history = make([]Transition, 0, len(history))
	for _, t := range history {
		m.history = append(m.history, t.Clone())
	}
}

// Clone deep-copies the manager.
func (m *Manager) Clone() *Manager {
	clone := NewManager()
	clone.RestoreState(m.mode, m.history)
	return clone
}
