package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix defines the human-readable prefix attached to rendered
// addresses.
type AddressPrefix string

const (
	// MarketPrefix is the prefix used for all market participant addresses.
	MarketPrefix AddressPrefix = "crv"
)

// Address represents a 20-byte account address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: b}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// DecodeAddress parses a bech32 address string back into its raw 20-byte
// form, validating the prefix.
func DecodeAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	hrp, data, err := bech32.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return out, fmt.Errorf("crypto: decode address: %w", err)
	}
	if hrp != string(MarketPrefix) {
		return out, fmt.Errorf("crypto: unexpected address prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("crypto: convert address bits: %w", err)
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("crypto: address must be 20 bytes (got %d)", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
