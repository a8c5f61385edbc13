package config

import (
	"fmt"

	"vestvault/core/state"
	"vestvault/crypto"
)

var genesisMarkerKey = state.RecordKey("meta", []byte("genesis"))

// Apply seeds mgr with the genesis ledger once. It reports false when the
// database was already initialised.
func Apply(mgr *state.Manager, g *Genesis) (bool, error) {
	applied := false
	err := mgr.Update(func(txn *state.Txn) error {
		done, err := txn.HasRecord(genesisMarkerKey)
		if err != nil || done {
			return err
		}
		for _, bal := range g.Balances {
			addr, err := crypto.ParseRaw(bal.Address)
			if err != nil {
				return err
			}
			if err := txn.SetNativeBalance(addr, bal.Amount); err != nil {
				return err
			}
		}
		for _, mint := range g.Mints {
			if err := applyMint(txn, mint); err != nil {
				return fmt.Errorf("genesis mint %s: %w", mint.Address, err)
			}
		}
		if err := txn.PutRecord(genesisMarkerKey, true); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func applyMint(txn *state.Txn, mint Mint) error {
	addr, err := crypto.ParseRaw(mint.Address)
	if err != nil {
		return err
	}
	authority, err := crypto.ParseRaw(mint.Authority)
	if err != nil {
		return err
	}
	if err := txn.CreateMint(addr, mint.Decimals, authority); err != nil {
		return err
	}
	for _, alloc := range mint.Allocations {
		owner, err := crypto.ParseRaw(alloc.Owner)
		if err != nil {
			return err
		}
		// The mint authority pays the account deposits.
		ata, err := txn.CreateAssociatedTokenAccount(authority, owner, addr)
		if err != nil {
			return err
		}
		if err := txn.MintTo(addr, ata, authority, alloc.Amount); err != nil {
			return err
		}
	}
	return nil
}
