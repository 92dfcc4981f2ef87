package protocol

import (
	"github.com/holiman/uint256"
)

// PriceOracle supplies the attested BTC/USD price. The state machine reads
// it once per operation and threads the same price through the whole
// transition. Implementations return ErrStalePrice (or an error wrapping
// it) when no fresh attestation is available.
type PriceOracle interface {
	Current() (price *uint256.Int, timestamp uint64, err error)
}

// Clock provides the current time in seconds. It is injected so tests and
// replaying nodes control time deterministically.
type Clock interface {
	Now() uint64
}

// Transition is the record handed to the proving subsystem after each
// committed operation.
type Transition struct {
	Height   uint64
	OpID     uint64
	Op       string
	PreRoot  [32]byte
	PostRoot [32]byte
}

// ProofRequester receives transition records for proof generation. Submit
// must not block; the core fires and forgets.
type ProofRequester interface {
	Submit(Transition)
}

// NoopProofRequester discards all transitions.
type NoopProofRequester struct{}

// Submit implements the ProofRequester interface.
func (NoopProofRequester) Submit(Transition) {}
