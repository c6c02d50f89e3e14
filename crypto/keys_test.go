package crypto

import (
	"bytes"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 20)
	addr := NewAddress(SBLPrefix, payload)

	encoded := addr.String()
	if encoded == "" {
		t.Fatalf("empty bech32 encoding")
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded.String(), encoded)
	}
	if decoded.Prefix() != SBLPrefix {
		t.Fatalf("prefix = %s, want %s", decoded.Prefix(), SBLPrefix)
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not-bech32", "sbl1qqqq"} {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected failure for %q", input)
		}
	}
}

func TestAddressZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Fatalf("uninitialised address should be zero")
	}
	zeroPayload := NewAddress(SBLPrefix, make([]byte, 20))
	if !zeroPayload.IsZero() {
		t.Fatalf("all-zero payload should be zero")
	}
	addr := NewAddress(SBLPrefix, bytes.Repeat([]byte{0x01}, 20))
	if addr.IsZero() {
		t.Fatalf("non-zero payload reported zero")
	}
}

func TestKeyDerivesAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if len(addr.Bytes()) != 20 {
		t.Fatalf("address payload = %d bytes, want 20", len(addr.Bytes()))
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.PubKey().Address().Equal(addr) {
		t.Fatalf("restored key derives a different address")
	}
}
