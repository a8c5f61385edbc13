package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"vestvault/crypto"
	"vestvault/native/common"
)

// Load decodes and validates a genesis file. Unknown keys are rejected so typos
// do not silently drop allocations.
func Load(path string) (*Genesis, error) {
	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Authority builds the admin policy from the configured admins.
func (g *Genesis) Authority() (*common.Authority, error) {
	admins := make([][20]byte, 0, len(g.Admins))
	for _, raw := range g.Admins {
		addr, err := crypto.ParseRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", raw, err)
		}
		admins = append(admins, addr)
	}
	return common.NewAuthority(admins...)
}

// PurchaseQuota converts the quota section.
func (g *Genesis) PurchaseQuota() common.Quota {
	return common.Quota{MaxTokensPerEpoch: g.Quota.MaxTokensPerEpoch, EpochSeconds: g.Quota.EpochSeconds}
}
