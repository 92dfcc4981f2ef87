package types

import (
	"bytes"
	"encoding/hex"
)

// AccountKey is the opaque 32-byte identifier for a protocol participant.
// The core never interprets the key; ownership checks are byte comparisons
// and the caller is responsible for authenticating the operator.
type AccountKey [32]byte

// AccountKeyFromBytes copies b into an AccountKey. Inputs shorter than 32
// bytes are left-padded with zeroes; longer inputs keep the trailing 32 bytes.
func AccountKeyFromBytes(b []byte) AccountKey {
	var key AccountKey
	if len(b) > len(key) {
		b = b[len(b)-len(key):]
	}
	copy(key[len(key)-len(b):], b)
	return key
}

// Bytes returns a copy of the raw key bytes.
func (k AccountKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

// IsZero reports whether the key is the all-zero sentinel.
func (k AccountKey) IsZero() bool {
	var zero AccountKey
	return bytes.Equal(k[:], zero[:])
}

func (k AccountKey) String() string {
	return hex.EncodeToString(k[:])
}
