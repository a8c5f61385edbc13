package vesting

import (
	"fmt"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/state"
	"vestvault/crypto"
)

const (
	nsVestingAccount = "vesting"
	nsReserve        = "reserve"
)

// ProgramID is the program under which vesting authorities are derived.
var ProgramID = crypto.ProgramID("vesting")

var reserveSeedPrefix = []byte("reserve")

func validateReserveType(reserveType string) error {
	if reserveType == "" || len(reserveType) > MaxReserveTypeLength {
		return fmt.Errorf("%w: reserve type must be 1-%d bytes", custodyerrors.ErrInvalidArgument, MaxReserveTypeLength)
	}
	if len(reserveType) > crypto.MaxSeedLength {
		return fmt.Errorf("%w: reserve type longer than %d bytes cannot seed an address", custodyerrors.ErrInvalidArgument, crypto.MaxSeedLength)
	}
	return nil
}

// VestingAccountAddress derives the vesting account of reserveType.
func VestingAccountAddress(reserveType string) ([20]byte, uint8, error) {
	if err := validateReserveType(reserveType); err != nil {
		return [20]byte{}, 0, err
	}
	return crypto.FindDerivedAddress(ProgramID, []byte(reserveType))
}

// ReserveAddress derives the reserve of beneficiary under a vesting account.
func ReserveAddress(vestingAccount, beneficiary [20]byte) ([20]byte, uint8, error) {
	return crypto.FindDerivedAddress(ProgramID, reserveSeedPrefix, vestingAccount[:], beneficiary[:])
}

func vestingKey(addr [20]byte) []byte {
	return state.RecordKey(nsVestingAccount, addr[:])
}

func reserveKey(addr [20]byte) []byte {
	return state.RecordKey(nsReserve, addr[:])
}
