package state

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/types"
	"vestvault/crypto"
)

const (
	nsMint   = "mint"
	nsToken  = "token"
	nsNative = "native"
)

var (
	// TokenProgramID identifies the token ledger when deriving associated accounts.
	TokenProgramID = crypto.ProgramID("token")
	// AssociatedTokenProgramID is the program under which associated token
	// accounts are derived.
	AssociatedTokenProgramID = crypto.ProgramID("associated-token")
)

const (
	// AccountStorageOverhead is charged on top of every record's payload size.
	AccountStorageOverhead = 128
	// LamportsPerByteYear is the storage rent rate in native minor units.
	LamportsPerByteYear = 3480
	// ExemptionThresholdYears is the number of rent years held as deposit.
	ExemptionThresholdYears = 2

	// TokenAccountSpace is the payload size of a token account.
	TokenAccountSpace = 165
	// MintSpace is the payload size of a mint.
	MintSpace = 82
)

// MinimumBalance returns the storage deposit held by a record of the given
// payload size.
func MinimumBalance(space int) uint64 {
	return uint64(AccountStorageOverhead+space) * LamportsPerByteYear * ExemptionThresholdYears
}

// AssociatedTokenAddress derives the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint [20]byte) ([20]byte, error) {
	addr, _, err := crypto.FindDerivedAddress(AssociatedTokenProgramID, owner[:], TokenProgramID[:], mint[:])
	return addr, err
}

// --- Native currency ---

// NativeBalance returns the native currency held by addr.
func (t *Txn) NativeBalance(addr [20]byte) (uint64, error) {
	var balance uint64
	if _, err := t.GetRecord(RecordKey(nsNative, addr[:]), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SetNativeBalance overwrites the native balance of addr.
func (t *Txn) SetNativeBalance(addr [20]byte, amount uint64) error {
	return t.PutRecord(RecordKey(nsNative, addr[:]), amount)
}

// Pay moves native currency between two identities.
func (t *Txn) Pay(from, to [20]byte, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBal, err := t.NativeBalance(from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: have %d, need %d", custodyerrors.ErrInsufficientFunds, fromBal, amount)
	}
	toBal, err := t.NativeBalance(to)
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return custodyerrors.ErrOverflow
	}
	if err := t.SetNativeBalance(from, fromBal-amount); err != nil {
		return err
	}
	return t.SetNativeBalance(to, toBal+amount)
}

// ChargeDeposit moves the storage deposit for a record of the given size from
// payer to the record address and returns the amount charged.
func (t *Txn) ChargeDeposit(payer, record [20]byte, space int) (uint64, error) {
	deposit := MinimumBalance(space)
	if err := t.Pay(payer, record, deposit); err != nil {
		return 0, err
	}
	return deposit, nil
}

// RefundDeposit returns everything held by record to recipient.
func (t *Txn) RefundDeposit(record, recipient [20]byte) (uint64, error) {
	held, err := t.NativeBalance(record)
	if err != nil {
		return 0, err
	}
	if err := t.Pay(record, recipient, held); err != nil {
		return 0, err
	}
	return held, nil
}

// --- Mints ---

// CreateMint registers a new token mint.
func (t *Txn) CreateMint(addr [20]byte, decimals uint8, authority [20]byte) error {
	key := RecordKey(nsMint, addr[:])
	exists, err := t.HasRecord(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: mint %x", custodyerrors.ErrAlreadyExists, addr)
	}
	return t.PutRecord(key, &types.Mint{Address: addr, Decimals: decimals, Authority: authority})
}

// Mint loads the mint stored at addr.
func (t *Txn) Mint(addr [20]byte) (*types.Mint, error) {
	mint := new(types.Mint)
	ok, err := t.GetRecord(RecordKey(nsMint, addr[:]), mint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: mint %x", custodyerrors.ErrNotFound, addr)
	}
	return mint, nil
}

// MintTo issues new supply into a token account. Only the mint authority may
// issue.
func (t *Txn) MintTo(mintAddr, dest, authority [20]byte, amount uint64) error {
	mint, err := t.Mint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return custodyerrors.ErrAccessDenied
	}
	account, err := t.TokenAccount(dest)
	if err != nil {
		return err
	}
	if account.Mint != mintAddr {
		return custodyerrors.ErrMintMismatch
	}
	if mint.Supply > math.MaxUint64-amount || account.Amount > math.MaxUint64-amount {
		return custodyerrors.ErrOverflow
	}
	mint.Supply += amount
	account.Amount += amount
	if err := t.PutRecord(RecordKey(nsMint, mintAddr[:]), mint); err != nil {
		return err
	}
	return t.putTokenAccount(account)
}

// --- Token accounts ---

// TokenAccount loads the token account stored at addr.
func (t *Txn) TokenAccount(addr [20]byte) (*types.TokenAccount, error) {
	account := new(types.TokenAccount)
	ok, err := t.GetRecord(RecordKey(nsToken, addr[:]), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token account %x", custodyerrors.ErrNotFound, addr)
	}
	return account, nil
}

// TokenBalance returns the balance held in a token account, or zero when the
// account does not exist.
func (t *Txn) TokenBalance(addr [20]byte) (uint64, error) {
	account := new(types.TokenAccount)
	ok, err := t.GetRecord(RecordKey(nsToken, addr[:]), account)
	if err != nil || !ok {
		return 0, err
	}
	return account.Amount, nil
}

func (t *Txn) putTokenAccount(account *types.TokenAccount) error {
	return t.PutRecord(RecordKey(nsToken, account.Address[:]), account)
}

// CreateAssociatedTokenAccount opens the associated token account of owner for
// mint, charging payer the storage deposit. An existing account with the same
// mint and owner is returned unchanged.
func (t *Txn) CreateAssociatedTokenAccount(payer, owner, mintAddr [20]byte) ([20]byte, error) {
	addr, err := AssociatedTokenAddress(owner, mintAddr)
	if err != nil {
		return [20]byte{}, err
	}
	existing := new(types.TokenAccount)
	ok, err := t.GetRecord(RecordKey(nsToken, addr[:]), existing)
	if err != nil {
		return [20]byte{}, err
	}
	if ok {
		if existing.Mint != mintAddr || existing.Owner != owner {
			return [20]byte{}, custodyerrors.ErrMintMismatch
		}
		return addr, nil
	}
	if _, err := t.Mint(mintAddr); err != nil {
		return [20]byte{}, err
	}
	if _, err := t.ChargeDeposit(payer, addr, TokenAccountSpace); err != nil {
		return [20]byte{}, err
	}
	if err := t.putTokenAccount(&types.TokenAccount{Address: addr, Mint: mintAddr, Owner: owner}); err != nil {
		return [20]byte{}, err
	}
	return addr, nil
}

// TransferChecked moves amount tokens of mint from one account to another.
// authority must own the source account and decimals must match the mint.
func (t *Txn) TransferChecked(mintAddr, from, to, authority [20]byte, amount uint64, decimals uint8) error {
	mint, err := t.Mint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Decimals != decimals {
		return fmt.Errorf("%w: decimals %d, mint has %d", custodyerrors.ErrInvalidArgument, decimals, mint.Decimals)
	}
	src, err := t.TokenAccount(from)
	if err != nil {
		return err
	}
	dst, err := t.TokenAccount(to)
	if err != nil {
		return err
	}
	if src.Mint != mintAddr || dst.Mint != mintAddr {
		return custodyerrors.ErrMintMismatch
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: %x does not own %x", custodyerrors.ErrAccessDenied, authority, from)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", custodyerrors.ErrInsufficientTokens, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return custodyerrors.ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := t.putTokenAccount(src); err != nil {
		return err
	}
	return t.putTokenAccount(dst)
}

// TokenAccounts lists every token account.
func (t *Txn) TokenAccounts() ([]*types.TokenAccount, error) {
	var out []*types.TokenAccount
	err := t.IterateRecords(RecordPrefix(nsToken), func(_, value []byte) error {
		account := new(types.TokenAccount)
		if err := rlp.DecodeBytes(value, account); err != nil {
			return err
		}
		out = append(out, account)
		return nil
	})
	return out, err
}
