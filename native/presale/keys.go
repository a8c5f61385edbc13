package presale

import (
	"encoding/binary"

	"vestvault/core/state"
	"vestvault/crypto"
)

const nsVault = "vault"

// ProgramID is the program under which vault authorities are derived.
var ProgramID = crypto.ProgramID("presale")

var vaultSeedPrefix = []byte("vault")

func vaultSeeds(mint [20]byte, index uint64) [][]byte {
	idx := make([]byte, 8)
	binary.LittleEndian.PutUint64(idx, index)
	return [][]byte{vaultSeedPrefix, mint[:], idx}
}

// VaultAddress returns the derived address and bump of the vault for
// (mint, index).
func VaultAddress(mint [20]byte, index uint64) ([20]byte, uint8, error) {
	return crypto.FindDerivedAddress(ProgramID, vaultSeeds(mint, index)...)
}

func vaultKey(addr [20]byte) []byte {
	return state.RecordKey(nsVault, addr[:])
}
