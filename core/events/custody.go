package events

import (
	"strconv"

	"vestvault/core/types"
	"vestvault/crypto"
)

const (
	TypeVaultInitialized      = "presale.vault_initialized"
	TypeVaultPriceUpdated     = "presale.price_updated"
	TypeTokensDeposited       = "presale.tokens_deposited"
	TypeTokensWithdrawn       = "presale.tokens_withdrawn"
	TypeTokensPurchased       = "presale.tokens_purchased"
	TypeVaultClosed           = "presale.vault_closed"
	TypeVestingAccountCreated = "vesting.account_created"
	TypeTokensLocked          = "vesting.tokens_locked"
	TypeTokensClaimed         = "vesting.tokens_claimed"
	TypeReserveClosed         = "vesting.reserve_closed"
	TypeModulePaused          = "admin.module_paused"
)

// Payload is implemented by every custody event and renders the flattened
// attribute form consumed by the journal and the API stream.
type Payload interface {
	Event
	Event() *types.Event
}

// ToPayload renders e, returning nil for events without an attribute form.
func ToPayload(e Event) *types.Event {
	if p, ok := e.(Payload); ok {
		return p.Event()
	}
	return nil
}

func account(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.FromRaw(raw).String()
}

func custody(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.CustodyFromRaw(raw).String()
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }

type VaultInitialized struct {
	Vault         [20]byte
	Mint          [20]byte
	Index         uint64
	PricePerToken uint64
	Owner         [20]byte
}

func (VaultInitialized) EventType() string { return TypeVaultInitialized }

func (e VaultInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultInitialized,
		Attributes: map[string]string{
			"vault":         custody(e.Vault),
			"mint":          account(e.Mint),
			"index":         u64(e.Index),
			"pricePerToken": u64(e.PricePerToken),
			"owner":         account(e.Owner),
		},
	}
}

type VaultPriceUpdated struct {
	Vault    [20]byte
	OldPrice uint64
	NewPrice uint64
}

func (VaultPriceUpdated) EventType() string { return TypeVaultPriceUpdated }

func (e VaultPriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultPriceUpdated,
		Attributes: map[string]string{
			"vault":    custody(e.Vault),
			"oldPrice": u64(e.OldPrice),
			"newPrice": u64(e.NewPrice),
		},
	}
}

type TokensDeposited struct {
	Vault       [20]byte
	Amount      uint64
	TotalTokens uint64
}

func (TokensDeposited) EventType() string { return TypeTokensDeposited }

func (e TokensDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensDeposited,
		Attributes: map[string]string{
			"vault":       custody(e.Vault),
			"amount":      u64(e.Amount),
			"totalTokens": u64(e.TotalTokens),
		},
	}
}

// TokensWithdrawn covers both withdraw (destination is the admin account) and
// transfer_from_vault.
type TokensWithdrawn struct {
	Vault       [20]byte
	Destination [20]byte
	Amount      uint64
	TotalTokens uint64
}

func (TokensWithdrawn) EventType() string { return TypeTokensWithdrawn }

func (e TokensWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensWithdrawn,
		Attributes: map[string]string{
			"vault":       custody(e.Vault),
			"destination": custody(e.Destination),
			"amount":      u64(e.Amount),
			"totalTokens": u64(e.TotalTokens),
		},
	}
}

type TokensPurchased struct {
	Vault       [20]byte
	Buyer       [20]byte
	Amount      uint64
	Payment     uint64
	OraclePrice int64
	OracleExpo  int32
	PublishTime int64
	TotalTokens uint64
}

func (TokensPurchased) EventType() string { return TypeTokensPurchased }

func (e TokensPurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensPurchased,
		Attributes: map[string]string{
			"vault":       custody(e.Vault),
			"buyer":       account(e.Buyer),
			"amount":      u64(e.Amount),
			"payment":     u64(e.Payment),
			"oraclePrice": i64(e.OraclePrice),
			"oracleExpo":  strconv.FormatInt(int64(e.OracleExpo), 10),
			"publishTime": i64(e.PublishTime),
			"totalTokens": u64(e.TotalTokens),
		},
	}
}

type VaultClosed struct {
	Vault     [20]byte
	Recipient [20]byte
	Flushed   uint64
}

func (VaultClosed) EventType() string { return TypeVaultClosed }

func (e VaultClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultClosed,
		Attributes: map[string]string{
			"vault":     custody(e.Vault),
			"recipient": custody(e.Recipient),
			"flushed":   u64(e.Flushed),
		},
	}
}

type VestingAccountCreated struct {
	VestingAccount [20]byte
	ReserveType    string
	Mint           [20]byte
	Owner          [20]byte
	Treasury       [20]byte
}

func (VestingAccountCreated) EventType() string { return TypeVestingAccountCreated }

func (e VestingAccountCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingAccountCreated,
		Attributes: map[string]string{
			"vestingAccount": custody(e.VestingAccount),
			"reserveType":    e.ReserveType,
			"mint":           account(e.Mint),
			"owner":          account(e.Owner),
			"treasury":       custody(e.Treasury),
		},
	}
}

// TokensLocked is raised when a reserve is funded.
type TokensLocked struct {
	Reserve               [20]byte
	Beneficiary           [20]byte
	Amount                int64
	LockedUntil           int64
	UnlockAmountPerPeriod int64
	VestingEndTime        int64
	Decimals              uint8
}

func (TokensLocked) EventType() string { return TypeTokensLocked }

func (e TokensLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensLocked,
		Attributes: map[string]string{
			"reserve":               custody(e.Reserve),
			"beneficiary":           account(e.Beneficiary),
			"amount":                i64(e.Amount),
			"lockedUntil":           i64(e.LockedUntil),
			"unlockAmountPerPeriod": i64(e.UnlockAmountPerPeriod),
			"vestingEndTime":        i64(e.VestingEndTime),
			"decimals":              strconv.Itoa(int(e.Decimals)),
		},
	}
}

// TokensClaimed is raised after a successful claim.
type TokensClaimed struct {
	Reserve            [20]byte
	Beneficiary        [20]byte
	ClaimedAmount      int64
	NextClaimTimestamp int64
	Decimals           uint8
}

func (TokensClaimed) EventType() string { return TypeTokensClaimed }

func (e TokensClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensClaimed,
		Attributes: map[string]string{
			"reserve":            custody(e.Reserve),
			"beneficiary":        account(e.Beneficiary),
			"claimedAmount":      i64(e.ClaimedAmount),
			"nextClaimTimestamp": i64(e.NextClaimTimestamp),
			"decimals":           strconv.Itoa(int(e.Decimals)),
		},
	}
}

type ReserveClosed struct {
	Reserve     [20]byte
	Beneficiary [20]byte
	Refunded    uint64
}

func (ReserveClosed) EventType() string { return TypeReserveClosed }

func (e ReserveClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveClosed,
		Attributes: map[string]string{
			"reserve":     custody(e.Reserve),
			"beneficiary": account(e.Beneficiary),
			"refunded":    u64(e.Refunded),
		},
	}
}

type ModulePaused struct {
	Module string
	Paused bool
	By     [20]byte
}

func (ModulePaused) EventType() string { return TypeModulePaused }

func (e ModulePaused) Event() *types.Event {
	return &types.Event{
		Type: TypeModulePaused,
		Attributes: map[string]string{
			"module": e.Module,
			"paused": strconv.FormatBool(e.Paused),
			"by":     account(e.By),
		},
	}
}
