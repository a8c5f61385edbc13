package types

// Mint describes a fungible token: its decimal scaling, the identity allowed
// to create supply and the supply issued so far.
type Mint struct {
	Address   [20]byte
	Decimals  uint8
	Authority [20]byte
	Supply    uint64
}

// TokenAccount holds the balance of a single mint on behalf of an owner. Only
// the owner (a wallet or a derived authority) may move tokens out of it.
type TokenAccount struct {
	Address [20]byte
	Mint    [20]byte
	Owner   [20]byte
	Amount  uint64
}
