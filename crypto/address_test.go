package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}
	addr := NewAddress(MarketPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(MarketPrefix)+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded[:], raw) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, raw)
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	raw := make([]byte, 20)
	encoded := NewAddress(AddressPrefix("other"), raw).String()
	if _, err := DecodeAddress(encoded); err == nil {
		t.Fatal("expected prefix rejection")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "crv1", "not-bech32", "crv1qqqq"} {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestNewAddressPanicsOnShortInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on short address")
		}
	}()
	NewAddress(MarketPrefix, []byte{0x01})
}
