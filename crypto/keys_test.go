package crypto

import (
	"strings"
	"testing"
)

func TestAccountKeyRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	key := priv.PubKey().AccountKey()

	encoded, err := EncodeAccountKey(key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(encoded, Bech32Prefix+"1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := DecodeAccountKey(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != key {
		t.Fatalf("round trip mismatch")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(priv.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().AccountKey() != priv.PubKey().AccountKey() {
		t.Fatalf("restored key derives a different account")
	}
}

func TestDecodeRejectsForeignPrefix(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	encoded, err := EncodeAccountKey(priv.PubKey().AccountKey())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tampered := "nhb" + strings.TrimPrefix(encoded, Bech32Prefix)
	if _, err := DecodeAccountKey(tampered); err == nil {
		t.Fatalf("expected prefix rejection")
	}
}
