package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"

	"zkusd/core/types"
)

// Bech32Prefix is the human-readable prefix for rendered account keys.
const Bech32Prefix = "zusd"

// EncodeAccountKey renders a 32-byte account key as a bech32 string.
func EncodeAccountKey(key types.AccountKey) (string, error) {
	conv, err := bech32.ConvertBits(key[:], 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("error converting bits: %w", err)
	}
	encoded, err := bech32.Encode(Bech32Prefix, conv)
	if err != nil {
		return "", fmt.Errorf("error encoding bech32: %w", err)
	}
	return encoded, nil
}

// DecodeAccountKey parses a bech32 account key string.
func DecodeAccountKey(value string) (types.AccountKey, error) {
	var key types.AccountKey
	prefix, decoded, err := bech32.Decode(value)
	if err != nil {
		return key, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != Bech32Prefix {
		return key, fmt.Errorf("unexpected prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return key, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != len(key) {
		return key, fmt.Errorf("account key must be %d bytes long, got %d", len(key), len(conv))
	}
	copy(key[:], conv)
	return key, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// AccountKey derives the opaque account key as the blake3 digest of the
// uncompressed public key.
func (k *PublicKey) AccountKey() types.AccountKey {
	digest := blake3.Sum256(crypto.FromECDSAPub(k.PublicKey))
	return types.AccountKey(digest)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
