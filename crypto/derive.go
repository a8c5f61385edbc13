package crypto

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds accepted by a derivation.
	MaxSeeds = 16
	// MaxSeedLength bounds the byte length of an individual seed.
	MaxSeedLength = 32
)

var derivedMarker = []byte("DerivedAuthority")

var (
	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLength
	// or more than MaxSeeds seeds are supplied.
	ErrMaxSeedLengthExceeded = errors.New("crypto: derivation seeds exceed limits")
	// ErrOnCurve is returned when a derivation lands on a valid secp256k1 point.
	ErrOnCurve = errors.New("crypto: derived address is on curve")
	// ErrNoViableBump is returned when no bump in [0,255] yields an off-curve
	// address.
	ErrNoViableBump = errors.New("crypto: unable to find a viable bump")
)

// CreateDerivedAddress reconstructs the keyless authority identified by the
// program, seeds and bump. Addresses that could have a private key (the digest is
// a valid compressed secp256k1 X coordinate) are rejected.
func CreateDerivedAddress(program [20]byte, seeds [][]byte, bump uint8) ([20]byte, error) {
	var out [20]byte
	if len(seeds) > MaxSeeds-1 {
		return out, ErrMaxSeedLengthExceeded
	}
	parts := make([][]byte, 0, len(seeds)+3)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return out, fmt.Errorf("%w: seed of %d bytes", ErrMaxSeedLengthExceeded, len(seed))
		}
		parts = append(parts, seed)
	}
	parts = append(parts, []byte{bump}, program[:], derivedMarker)
	digest := ethcrypto.Keccak256(parts...)
	if onCurve(digest) {
		return out, ErrOnCurve
	}
	copy(out[:], digest[12:])
	return out, nil
}

// FindDerivedAddress returns the first off-curve derived address searching the
// bump from 255 downwards, together with the bump that produced it.
func FindDerivedAddress(program [20]byte, seeds ...[]byte) ([20]byte, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateDerivedAddress(program, seeds, uint8(bump))
		if err == nil {
			return addr, uint8(bump), nil
		}
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		return [20]byte{}, 0, err
	}
	return [20]byte{}, 0, ErrNoViableBump
}

// VerifyDerivedAddress recomputes the authority and compares it with expected.
func VerifyDerivedAddress(program [20]byte, seeds [][]byte, bump uint8, expected [20]byte) bool {
	addr, err := CreateDerivedAddress(program, seeds, bump)
	if err != nil {
		return false
	}
	return addr == expected
}

func onCurve(digest []byte) bool {
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, digest...)
	_, err := ethcrypto.DecompressPubkey(compressed)
	return err == nil
}

// ProgramID derives a stable 20-byte program identifier from a name.
func ProgramID(name string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("program:"+name))[12:])
	return out
}
