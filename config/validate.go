package config

import (
	"fmt"

	"vestvault/crypto"
)

// ValidateGenesis checks addresses, duplicates and quota coherence.
func ValidateGenesis(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("genesis: nil")
	}
	if len(g.Admins) == 0 {
		return fmt.Errorf("genesis: at least one admin required")
	}
	for _, admin := range g.Admins {
		if _, err := crypto.ParseRaw(admin); err != nil {
			return fmt.Errorf("genesis: admin %q: %w", admin, err)
		}
	}
	seen := make(map[string]struct{}, len(g.Mints))
	for i, mint := range g.Mints {
		if _, err := crypto.ParseRaw(mint.Address); err != nil {
			return fmt.Errorf("genesis: mints[%d].Address: %w", i, err)
		}
		if _, err := crypto.ParseRaw(mint.Authority); err != nil {
			return fmt.Errorf("genesis: mints[%d].Authority: %w", i, err)
		}
		if _, dup := seen[mint.Address]; dup {
			return fmt.Errorf("genesis: duplicate mint %s", mint.Address)
		}
		seen[mint.Address] = struct{}{}
		if mint.Decimals > 18 {
			return fmt.Errorf("genesis: mints[%d].Decimals %d exceeds 18", i, mint.Decimals)
		}
		for j, alloc := range mint.Allocations {
			if _, err := crypto.ParseRaw(alloc.Owner); err != nil {
				return fmt.Errorf("genesis: mints[%d].Allocations[%d].Owner: %w", i, j, err)
			}
		}
	}
	for i, bal := range g.Balances {
		if _, err := crypto.ParseRaw(bal.Address); err != nil {
			return fmt.Errorf("genesis: balances[%d].Address: %w", i, err)
		}
	}
	if g.Quota.MaxTokensPerEpoch > 0 && g.Quota.EpochSeconds == 0 {
		return fmt.Errorf("genesis: quota EpochSeconds must be set when MaxTokensPerEpoch is")
	}
	return nil
}
