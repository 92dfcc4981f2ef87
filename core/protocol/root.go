package protocol

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// rootDomain separates the state root from every other blake3 use in the
// system.
var rootDomain = []byte("zkusd/state/v1\x00")

// sectionsDigest hashes the canonical sections under the domain tag. Each
// section is length-prefixed so section boundaries cannot be confused.
func sectionsDigest(sections [][]byte) [32]byte {
	hasher := blake3.New(32, nil)
	hasher.Write(rootDomain)
	var length [4]byte
	for _, section := range sections {
		binary.BigEndian.PutUint32(length[:], uint32(len(section)))
		hasher.Write(length[:])
		hasher.Write(section)
	}
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

func (m *Machine) rootOf(st *state) [32]byte {
	return sectionsDigest(encodeSections(st))
}

// StateRoot returns the root of the committed state.
func (m *Machine) StateRoot() [32]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRoot
}
