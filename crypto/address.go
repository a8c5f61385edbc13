package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the bech32 human-readable part of an identity.
type AddressPrefix string

const (
	// AccountPrefix marks wallet identities: admins, buyers and beneficiaries.
	AccountPrefix AddressPrefix = "vv"
	// CustodyPrefix marks keyless derived identities such as vaults and reserves.
	CustodyPrefix AddressPrefix = "vvc"
)

const rawLength = 20

// Address is a raw 20-byte identity tagged with the prefix it renders under.
// The prefix is presentation only; two addresses with equal Raw values are the
// same identity.
type Address struct {
	prefix AddressPrefix
	raw    [rawLength]byte
}

// FromRaw renders raw as a wallet identity.
func FromRaw(raw [20]byte) Address {
	return Address{prefix: AccountPrefix, raw: raw}
}

// CustodyFromRaw renders raw as a derived custody identity.
func CustodyFromRaw(raw [20]byte) Address {
	return Address{prefix: CustodyPrefix, raw: raw}
}

// Raw returns the identity bytes.
func (a Address) Raw() [20]byte { return a.raw }

// Prefix returns the human-readable part used by String.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// String encodes the address as bech32, falling back to hex if encoding fails.
func (a Address) String() string {
	words, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err == nil {
		var encoded string
		if encoded, err = bech32.Encode(string(a.prefix), words); err == nil {
			return encoded
		}
	}
	return "0x" + hex.EncodeToString(a.raw[:])
}

// DecodeAddress parses a bech32 identity carrying one of the known prefixes.
func DecodeAddress(s string) (Address, error) {
	hrp, words, err := bech32.Decode(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	prefix := AddressPrefix(hrp)
	if prefix != AccountPrefix && prefix != CustodyPrefix {
		return Address{}, fmt.Errorf("unsupported address prefix %q", hrp)
	}
	data, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("regroup address bits: %w", err)
	}
	if len(data) != rawLength {
		return Address{}, fmt.Errorf("address must decode to %d bytes, got %d", rawLength, len(data))
	}
	out := Address{prefix: prefix}
	copy(out.raw[:], data)
	return out, nil
}

// ParseRaw decodes either prefix into the raw identity.
func ParseRaw(s string) ([20]byte, error) {
	addr, err := DecodeAddress(s)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.raw, nil
}
