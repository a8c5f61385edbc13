package server

import (
	"errors"
	"fmt"
	"strings"

	custodyerrors "vestvault/core/errors"
	"vestvault/crypto"
	"vestvault/native/presale"
	"vestvault/native/vesting"
)

var errSubscriberDropped = errors.New("subscriber dropped")

func accountString(raw [20]byte) string {
	return crypto.FromRaw(raw).String()
}

func custodyString(raw [20]byte) string {
	return crypto.CustodyFromRaw(raw).String()
}

func parseAddress(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%s is required", field)
	}
	raw, err := crypto.ParseRaw(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return raw, nil
}

type eventView struct {
	Seq        uint64            `json:"seq,omitempty"`
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt,omitempty"`
}

type vaultView struct {
	Address           string `json:"address"`
	Index             uint64 `json:"index"`
	TokenMint         string `json:"tokenMint"`
	VaultTokenAccount string `json:"vaultTokenAccount"`
	PricePerToken     uint64 `json:"pricePerToken"`
	TotalTokens       uint64 `json:"totalTokens"`
	Owner             string `json:"owner"`
	Bump              uint8  `json:"bump"`
}

func newVaultView(v *presale.Vault) vaultView {
	return vaultView{
		Address:           custodyString(v.Address),
		Index:             v.Index,
		TokenMint:         accountString(v.TokenMint),
		VaultTokenAccount: custodyString(v.VaultTokenAccount),
		PricePerToken:     v.PricePerToken,
		TotalTokens:       v.TotalTokens,
		Owner:             accountString(v.Owner),
		Bump:              v.Bump,
	}
}

type receiptView struct {
	Vault       string `json:"vault"`
	Buyer       string `json:"buyer,omitempty"`
	Tokens      uint64 `json:"tokens"`
	Payment     uint64 `json:"payment"`
	Decimals    uint8  `json:"decimals"`
	OraclePrice int64  `json:"oraclePrice"`
	OracleExpo  int32  `json:"oracleExpo"`
	PublishTime int64  `json:"publishTime"`
}

func newReceiptView(r *presale.Receipt) receiptView {
	view := receiptView{
		Vault:       custodyString(r.Vault),
		Tokens:      r.Tokens,
		Payment:     r.Payment,
		Decimals:    r.Decimals,
		OraclePrice: r.Reading.Magnitude,
		OracleExpo:  r.Reading.Exponent,
		PublishTime: r.Reading.PublishTime,
	}
	if r.Buyer != ([20]byte{}) {
		view.Buyer = accountString(r.Buyer)
	}
	return view
}

type vestingAccountView struct {
	Address              string `json:"address"`
	ReserveType          string `json:"reserveType"`
	Owner                string `json:"owner"`
	Mint                 string `json:"mint"`
	TreasuryTokenAccount string `json:"treasuryTokenAccount"`
	Bump                 uint8  `json:"bump"`
}

func newVestingAccountView(a *vesting.VestingAccount) vestingAccountView {
	return vestingAccountView{
		Address:              custodyString(a.Address),
		ReserveType:          a.ReserveType,
		Owner:                accountString(a.Owner),
		Mint:                 accountString(a.Mint),
		TreasuryTokenAccount: custodyString(a.TreasuryTokenAccount),
		Bump:                 a.Bump,
	}
}

type reserveView struct {
	Address         string         `json:"address"`
	Beneficiary     string         `json:"beneficiary"`
	VestingAccount  string         `json:"vestingAccount"`
	StartTime       int64          `json:"startTime"`
	EndTime         int64          `json:"endTime"`
	TotalAmount     int64          `json:"totalAmount"`
	AmountWithdrawn int64          `json:"amountWithdrawn"`
	CliffTime       int64          `json:"cliffTime"`
	MonthlyClaim    int64          `json:"monthlyClaim"`
	Status          vesting.Status `json:"status"`
	Claimable       int64          `json:"claimable"`
	NextClaimTime   int64          `json:"nextClaimTime,omitempty"`
}

func newReserveView(r *vesting.ReserveAccount, now int64) reserveView {
	view := reserveView{
		Address:         custodyString(r.Address),
		Beneficiary:     accountString(r.Beneficiary),
		VestingAccount:  custodyString(r.VestingAccount),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		TotalAmount:     r.TotalAmount,
		AmountWithdrawn: r.AmountWithdrawn,
		CliffTime:       r.CliffTime,
		MonthlyClaim:    r.MonthlyClaim,
		Status:          vesting.ReserveStatus(r, now),
	}
	if accrual, err := vesting.ComputeAccrual(r, now); err == nil {
		view.Claimable = accrual.Claimable
		view.NextClaimTime = accrual.NextClaim
	} else if accrual.NextClaim > 0 {
		view.NextClaimTime = accrual.NextClaim
	} else if errors.Is(err, custodyerrors.ErrCliffPeriodNotEnded) {
		view.NextClaimTime = accrual.VestingStart
	}
	return view
}
