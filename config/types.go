package config

// Genesis is the initial ledger a fresh custody database is seeded from.
type Genesis struct {
	// Admins lists the bech32 identities accepted by the admin authority.
	// Exactly one is expected in normal deployments.
	Admins   []string  `toml:"Admins"`
	Mints    []Mint    `toml:"Mints"`
	Balances []Balance `toml:"Balances"`
	Quota    Quota     `toml:"Quota"`
}

// Mint registers a token mint and optional opening allocations.
type Mint struct {
	Address     string       `toml:"Address"`
	Decimals    uint8        `toml:"Decimals"`
	Authority   string       `toml:"Authority"`
	Allocations []Allocation `toml:"Allocations"`
}

// Allocation mints Amount raw units into Owner's associated token account.
type Allocation struct {
	Owner  string `toml:"Owner"`
	Amount uint64 `toml:"Amount"`
}

// Balance seeds the native currency balance of an identity.
type Balance struct {
	Address string `toml:"Address"`
	Amount  uint64 `toml:"Amount"`
}

// Quota bounds presale purchases per buyer. Zero values disable it.
type Quota struct {
	MaxTokensPerEpoch uint64 `toml:"MaxTokensPerEpoch"`
	EpochSeconds      uint32 `toml:"EpochSeconds"`
}
