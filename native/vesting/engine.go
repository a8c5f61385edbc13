package vesting

import (
	"errors"
	"fmt"
	"time"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/core/types"
	"vestvault/crypto"
	"vestvault/native/common"
)

var errNilStore = errors.New("vesting engine: state not configured")

// Store runs custody operations atomically.
type Store interface {
	Update(fn func(*state.Txn) error) error
	View(fn func(*state.Txn) error) error
}

type engineState interface {
	GetRecord(key []byte, out interface{}) (bool, error)
	PutRecord(key []byte, value interface{}) error
	HasRecord(key []byte) (bool, error)
	DeleteRecord(key []byte) error
	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
	Mint(addr [20]byte) (*types.Mint, error)
	TokenBalance(addr [20]byte) (uint64, error)
	CreateAssociatedTokenAccount(payer, owner, mint [20]byte) ([20]byte, error)
	TransferChecked(mint, from, to, authority [20]byte, amount uint64, decimals uint8) error
	ChargeDeposit(payer, record [20]byte, space int) (uint64, error)
	RefundDeposit(record, recipient [20]byte) (uint64, error)
	IsPaused(module string) bool
	Emit(events.Event)
}

var _ engineState = (*state.Txn)(nil)

// Engine implements vesting accounts, reserves and claims.
type Engine struct {
	store Store
	auth  *common.Authority
	nowFn func() int64
}

// NewEngine wires the vesting engine to its state and admin policy.
func NewEngine(store Store, auth *common.Authority) *Engine {
	return &Engine{
		store: store,
		auth:  auth,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) update(fn func(engineState) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return e.store.Update(func(txn *state.Txn) error { return fn(txn) })
}

func (e *Engine) view(fn func(engineState) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return e.store.View(func(txn *state.Txn) error { return fn(txn) })
}

func loadVestingAccount(st engineState, reserveType string) (*VestingAccount, error) {
	addr, _, err := VestingAccountAddress(reserveType)
	if err != nil {
		return nil, err
	}
	account := new(VestingAccount)
	ok, err := st.GetRecord(vestingKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: vesting account %q", custodyerrors.ErrNotFound, reserveType)
	}
	account.Address = addr
	return account, nil
}

func loadReserve(st engineState, vestingAccount, beneficiary [20]byte) (*ReserveAccount, error) {
	addr, _, err := ReserveAddress(vestingAccount, beneficiary)
	if err != nil {
		return nil, err
	}
	rec := new(reserveRecord)
	ok, err := st.GetRecord(reserveKey(addr), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no reserve for %s", custodyerrors.ErrNotFound, crypto.FromRaw(beneficiary))
	}
	reserve := rec.reserve(addr)
	if reserve.Beneficiary != beneficiary || reserve.VestingAccount != vestingAccount {
		return nil, custodyerrors.ErrAccessDenied
	}
	return reserve, nil
}

func storeReserve(st engineState, reserve *ReserveAccount) error {
	return st.PutRecord(reserveKey(reserve.Address), reserve.record())
}

// CreateVestingAccount opens the namespace and treasury for reserveType.
func (e *Engine) CreateVestingAccount(caller [20]byte, reserveType string, mint [20]byte) (*VestingAccount, error) {
	var out *VestingAccount
	err := e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		addr, bump, err := VestingAccountAddress(reserveType)
		if err != nil {
			return err
		}
		if _, err := st.Mint(mint); err != nil {
			return err
		}
		exists, err := st.HasRecord(vestingKey(addr))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: vesting account %q", custodyerrors.ErrAlreadyExists, reserveType)
		}
		if _, err := st.ChargeDeposit(caller, addr, VestingAccountSpace); err != nil {
			return err
		}
		treasury, err := st.CreateAssociatedTokenAccount(caller, addr, mint)
		if err != nil {
			return err
		}
		account := &VestingAccount{
			Address:              addr,
			Owner:                caller,
			Mint:                 mint,
			TreasuryTokenAccount: treasury,
			ReserveType:          reserveType,
			Bump:                 bump,
		}
		if err := st.PutRecord(vestingKey(addr), account); err != nil {
			return err
		}
		st.Emit(events.VestingAccountCreated{
			VestingAccount: addr,
			ReserveType:    reserveType,
			Mint:           mint,
			Owner:          caller,
			Treasury:       treasury,
		})
		out = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveParams is the schedule of a new reserve.
type ReserveParams struct {
	Beneficiary  [20]byte
	StartTime    int64
	EndTime      int64
	TotalAmount  int64
	CliffTime    int64
	MonthlyClaim int64
}

func (p ReserveParams) validate() error {
	switch {
	case p.Beneficiary == ([20]byte{}):
		return fmt.Errorf("%w: beneficiary required", custodyerrors.ErrInvalidSchedule)
	case p.TotalAmount <= 0:
		return fmt.Errorf("%w: total amount must be positive", custodyerrors.ErrInvalidSchedule)
	case p.CliffTime < 0:
		return fmt.Errorf("%w: cliff must not be negative", custodyerrors.ErrInvalidSchedule)
	case p.MonthlyClaim < 0:
		return fmt.Errorf("%w: monthly claim must not be negative", custodyerrors.ErrInvalidSchedule)
	}
	return nil
}

// CreateReserve funds a reserve for params.Beneficiary by moving TotalAmount
// from the caller's associated account into the treasury. The caller must be an
// admin and the vesting account's owner.
func (e *Engine) CreateReserve(caller [20]byte, reserveType string, params ReserveParams) (*ReserveAccount, error) {
	var out *ReserveAccount
	err := e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		account, err := loadVestingAccount(st, reserveType)
		if err != nil {
			return err
		}
		if account.Owner != caller {
			return fmt.Errorf("%w: caller does not own vesting account %q", custodyerrors.ErrAccessDenied, reserveType)
		}
		if err := params.validate(); err != nil {
			return err
		}
		reserve := &ReserveAccount{
			Beneficiary:    params.Beneficiary,
			StartTime:      params.StartTime,
			EndTime:        params.EndTime,
			TotalAmount:    params.TotalAmount,
			CliffTime:      params.CliffTime,
			MonthlyClaim:   params.MonthlyClaim,
			VestingAccount: account.Address,
		}
		lockedUntil, err := reserve.VestingStart()
		if err != nil {
			return err
		}
		addr, bump, err := ReserveAddress(account.Address, params.Beneficiary)
		if err != nil {
			return err
		}
		exists, err := st.HasRecord(reserveKey(addr))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: reserve for beneficiary", custodyerrors.ErrAlreadyExists)
		}
		reserve.Address = addr
		reserve.Bump = bump

		if _, err := st.ChargeDeposit(caller, addr, ReserveAccountSpace); err != nil {
			return err
		}
		mint, err := st.Mint(account.Mint)
		if err != nil {
			return err
		}
		source, err := state.AssociatedTokenAddress(caller, account.Mint)
		if err != nil {
			return err
		}
		if err := st.TransferChecked(account.Mint, source, account.TreasuryTokenAccount, caller, uint64(params.TotalAmount), mint.Decimals); err != nil {
			return err
		}
		if err := storeReserve(st, reserve); err != nil {
			return err
		}
		st.Emit(events.TokensLocked{
			Reserve:               addr,
			Beneficiary:           params.Beneficiary,
			Amount:                params.TotalAmount,
			LockedUntil:           lockedUntil,
			UnlockAmountPerPeriod: params.MonthlyClaim,
			VestingEndTime:        params.EndTime,
			Decimals:              mint.Decimals,
		})
		out = reserve
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim releases everything accrued to the calling beneficiary under
// reserveType.
func (e *Engine) Claim(caller [20]byte, reserveType string) (*ClaimResult, error) {
	var out *ClaimResult
	err := e.update(func(st engineState) error {
		if err := common.Guard(st, common.ModuleVesting); err != nil {
			return err
		}
		account, err := loadVestingAccount(st, reserveType)
		if err != nil {
			return err
		}
		reserve, err := loadReserve(st, account.Address, caller)
		if err != nil {
			return err
		}
		accrual, err := ComputeAccrual(reserve, e.now())
		if err != nil {
			return err
		}
		reserve.AmountWithdrawn = saturatingAdd(reserve.AmountWithdrawn, accrual.Claimable)

		mint, err := st.Mint(account.Mint)
		if err != nil {
			return err
		}
		dest, err := st.CreateAssociatedTokenAccount(caller, caller, account.Mint)
		if err != nil {
			return err
		}
		if err := treasuryTransfer(st, account, dest, uint64(accrual.Claimable), mint.Decimals); err != nil {
			return err
		}
		if err := storeReserve(st, reserve); err != nil {
			return err
		}
		st.Emit(events.TokensClaimed{
			Reserve:            reserve.Address,
			Beneficiary:        caller,
			ClaimedAmount:      accrual.Claimable,
			NextClaimTimestamp: accrual.NextClaim,
			Decimals:           mint.Decimals,
		})
		out = &ClaimResult{
			Reserve:       reserve.Address,
			Beneficiary:   caller,
			Claimed:       accrual.Claimable,
			NextClaimTime: accrual.NextClaim,
			Decimals:      mint.Decimals,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CloseReserveAccount removes the calling beneficiary's fully drawn reserve
// once vesting has ended and refunds its storage deposit. No tokens move.
func (e *Engine) CloseReserveAccount(caller [20]byte, reserveType string) (uint64, error) {
	var refunded uint64
	err := e.update(func(st engineState) error {
		account, err := loadVestingAccount(st, reserveType)
		if err != nil {
			return err
		}
		reserve, err := loadReserve(st, account.Address, caller)
		if err != nil {
			return err
		}
		if e.now() < reserve.EndTime {
			return custodyerrors.ErrVestingNotOver
		}
		if reserve.AmountWithdrawn < reserve.TotalAmount {
			return custodyerrors.ErrFundsRemaining
		}
		if err := st.DeleteRecord(reserveKey(reserve.Address)); err != nil {
			return err
		}
		refunded, err = st.RefundDeposit(reserve.Address, caller)
		if err != nil {
			return err
		}
		st.Emit(events.ReserveClosed{Reserve: reserve.Address, Beneficiary: caller, Refunded: refunded})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return refunded, nil
}

// treasuryTransfer reconstructs the vesting account authority from its
// reserve-type seed and bump and moves tokens out of the treasury.
func treasuryTransfer(st engineState, account *VestingAccount, dest [20]byte, amount uint64, decimals uint8) error {
	authority, err := crypto.CreateDerivedAddress(ProgramID, [][]byte{[]byte(account.ReserveType)}, account.Bump)
	if err != nil || authority != account.Address {
		return custodyerrors.ErrInvalidAuthority
	}
	return st.TransferChecked(account.Mint, account.TreasuryTokenAccount, dest, authority, amount, decimals)
}

// VestingAccount loads the vesting account of reserveType.
func (e *Engine) VestingAccount(reserveType string) (*VestingAccount, error) {
	var out *VestingAccount
	err := e.view(func(st engineState) error {
		account, err := loadVestingAccount(st, reserveType)
		out = account
		return err
	})
	return out, err
}

// Reserve loads the reserve of beneficiary under reserveType.
func (e *Engine) Reserve(reserveType string, beneficiary [20]byte) (*ReserveAccount, error) {
	var out *ReserveAccount
	err := e.view(func(st engineState) error {
		account, err := loadVestingAccount(st, reserveType)
		if err != nil {
			return err
		}
		reserve, err := loadReserve(st, account.Address, beneficiary)
		out = reserve
		return err
	})
	return out, err
}

// Now exposes the engine clock for read paths that evaluate schedules.
func (e *Engine) Now() int64 { return e.now() }

// Recorder is the iteration surface used by ListVestingAccounts and
// ListReserves.
type Recorder interface {
	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
}

// ListVestingAccounts decodes every vesting account visible to st.
func ListVestingAccounts(st Recorder) ([]*VestingAccount, error) {
	var out []*VestingAccount
	err := st.IterateRecords(state.RecordPrefix(nsVestingAccount), func(_, value []byte) error {
		account := new(VestingAccount)
		if err := state.DecodeRecord(value, account); err != nil {
			return err
		}
		addr, _, err := VestingAccountAddress(account.ReserveType)
		if err != nil {
			return err
		}
		account.Address = addr
		out = append(out, account)
		return nil
	})
	return out, err
}

// ListReserves decodes every reserve visible to st.
func ListReserves(st Recorder) ([]*ReserveAccount, error) {
	var out []*ReserveAccount
	err := st.IterateRecords(state.RecordPrefix(nsReserve), func(_, value []byte) error {
		rec := new(reserveRecord)
		if err := state.DecodeRecord(value, rec); err != nil {
			return err
		}
		addr, _, err := ReserveAddress(rec.VestingAccount, rec.Beneficiary)
		if err != nil {
			return err
		}
		out = append(out, rec.reserve(addr))
		return nil
	})
	return out, err
}
