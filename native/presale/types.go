package presale

import (
	"vestvault/native/oracle"
)

const (
	// QuoteDecimals is the decimal scaling of prices quoted by the oracle.
	QuoteDecimals = 6
	// PaymentDecimals is the decimal scaling of the native payment currency.
	PaymentDecimals = 9
	// MaxWholeTokensPerPurchase caps a single purchase in whole token units.
	MaxWholeTokensPerPurchase uint64 = 1_000_000

	// VaultSpace is the serialized payload size used for the storage deposit.
	VaultSpace = 129
)

// Vault tracks a presale's custody account, price and running token balance.
// TotalTokens is bookkeeping maintained by this engine and is independent of
// the custody account's actual balance.
type Vault struct {
	Address           [20]byte `rlp:"-"`
	Index             uint64
	TokenMint         [20]byte
	VaultTokenAccount [20]byte
	PricePerToken     uint64
	TotalTokens       uint64
	Owner             [20]byte
	Bump              uint8
}

// Receipt describes a settled or quoted purchase.
type Receipt struct {
	Vault    [20]byte
	Buyer    [20]byte
	Tokens   uint64
	Payment  uint64
	Decimals uint8
	Reading  oracle.Reading
}
