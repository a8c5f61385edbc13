package presale

import (
	"context"
	"errors"
	"fmt"
	"time"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/core/types"
	"vestvault/crypto"
	"vestvault/native/common"
	"vestvault/native/oracle"
)

var errNilStore = errors.New("presale engine: state not configured")

// Store runs custody operations atomically.
type Store interface {
	Update(fn func(*state.Txn) error) error
	View(fn func(*state.Txn) error) error
}

// PriceReader supplies validated oracle readings.
type PriceReader interface {
	ReadPrice(ctx context.Context, now int64) (oracle.Reading, error)
}

// engineState is the slice of the transaction the engine depends on.
type engineState interface {
	GetRecord(key []byte, out interface{}) (bool, error)
	PutRecord(key []byte, value interface{}) error
	HasRecord(key []byte) (bool, error)
	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
	Mint(addr [20]byte) (*types.Mint, error)
	TokenBalance(addr [20]byte) (uint64, error)
	CreateAssociatedTokenAccount(payer, owner, mint [20]byte) ([20]byte, error)
	TransferChecked(mint, from, to, authority [20]byte, amount uint64, decimals uint8) error
	Pay(from, to [20]byte, amount uint64) error
	ChargeDeposit(payer, record [20]byte, space int) (uint64, error)
	IsPaused(module string) bool
	QuotaUsage(module string, addr [20]byte) (state.QuotaUsage, error)
	PutQuotaUsage(module string, addr [20]byte, usage state.QuotaUsage) error
	Emit(events.Event)
}

var _ engineState = (*state.Txn)(nil)

// Engine implements the vault registry and the purchase flow.
type Engine struct {
	store  Store
	auth   *common.Authority
	prices PriceReader
	quota  common.Quota
	nowFn  func() int64
}

// NewEngine wires the presale engine to its state, admin policy and oracle.
func NewEngine(store Store, auth *common.Authority, prices PriceReader) *Engine {
	return &Engine{
		store:  store,
		auth:   auth,
		prices: prices,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetQuota configures the per-buyer purchase quota. A zero quota disables it.
func (e *Engine) SetQuota(q common.Quota) { e.quota = q }

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

func loadVault(st engineState, addr [20]byte) (*Vault, error) {
	vault := new(Vault)
	ok, err := st.GetRecord(vaultKey(addr), vault)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", custodyerrors.ErrNotFound, crypto.CustodyFromRaw(addr))
	}
	if !crypto.VerifyDerivedAddress(ProgramID, vaultSeeds(vault.TokenMint, vault.Index), vault.Bump, addr) {
		return nil, custodyerrors.ErrInvalidAuthority
	}
	vault.Address = addr
	return vault, nil
}

func storeVault(st engineState, vault *Vault) error {
	return st.PutRecord(vaultKey(vault.Address), vault)
}

// Initialize creates the vault for (mint, index) owned by the calling admin and
// opens its custody token account.
func (e *Engine) Initialize(caller, mint [20]byte, index, pricePerToken uint64) (*Vault, error) {
	var out *Vault
	err := e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		if _, err := st.Mint(mint); err != nil {
			return err
		}
		addr, bump, err := VaultAddress(mint, index)
		if err != nil {
			return err
		}
		exists, err := st.HasRecord(vaultKey(addr))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: vault %d for mint already initialized", custodyerrors.ErrAlreadyExists, index)
		}
		if _, err := st.ChargeDeposit(caller, addr, VaultSpace); err != nil {
			return err
		}
		custody, err := st.CreateAssociatedTokenAccount(caller, addr, mint)
		if err != nil {
			return err
		}
		vault := &Vault{
			Address:           addr,
			Index:             index,
			TokenMint:         mint,
			VaultTokenAccount: custody,
			PricePerToken:     pricePerToken,
			Owner:             caller,
			Bump:              bump,
		}
		if err := storeVault(st, vault); err != nil {
			return err
		}
		st.Emit(events.VaultInitialized{
			Vault:         addr,
			Mint:          mint,
			Index:         index,
			PricePerToken: pricePerToken,
			Owner:         caller,
		})
		out = vault
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePrice overwrites the vault's price per whole token.
func (e *Engine) UpdatePrice(caller, vaultAddr [20]byte, price uint64) error {
	return e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		vault, err := loadVault(st, vaultAddr)
		if err != nil {
			return err
		}
		old := vault.PricePerToken
		vault.PricePerToken = price
		if err := storeVault(st, vault); err != nil {
			return err
		}
		st.Emit(events.VaultPriceUpdated{Vault: vaultAddr, OldPrice: old, NewPrice: price})
		return nil
	})
}

// Deposit moves amount tokens from the admin's associated account into vault
// custody. The tracked total uses checked addition.
func (e *Engine) Deposit(caller, vaultAddr [20]byte, amount uint64) error {
	return e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		vault, err := loadVault(st, vaultAddr)
		if err != nil {
			return err
		}
		total, ok := checkedAdd(vault.TotalTokens, amount)
		if !ok {
			return fmt.Errorf("%w: vault total %d + %d", custodyerrors.ErrOverflow, vault.TotalTokens, amount)
		}
		mint, err := st.Mint(vault.TokenMint)
		if err != nil {
			return err
		}
		source, err := state.AssociatedTokenAddress(caller, vault.TokenMint)
		if err != nil {
			return err
		}
		if err := st.TransferChecked(vault.TokenMint, source, vault.VaultTokenAccount, caller, amount, mint.Decimals); err != nil {
			return err
		}
		vault.TotalTokens = total
		if err := storeVault(st, vault); err != nil {
			return err
		}
		st.Emit(events.TokensDeposited{Vault: vaultAddr, Amount: amount, TotalTokens: total})
		return nil
	})
}

// Withdraw releases amount tokens from custody to the admin's associated
// account. The tracked total saturates at zero.
func (e *Engine) Withdraw(caller, vaultAddr [20]byte, amount uint64) error {
	return e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		vault, err := loadVault(st, vaultAddr)
		if err != nil {
			return err
		}
		dest, err := st.CreateAssociatedTokenAccount(caller, caller, vault.TokenMint)
		if err != nil {
			return err
		}
		return e.release(st, vault, dest, amount)
	})
}

// TransferFromVault releases amount tokens from custody to an arbitrary token
// account of the vault's mint. The tracked total saturates at zero.
func (e *Engine) TransferFromVault(caller, vaultAddr, destination [20]byte, amount uint64) error {
	return e.update(func(st engineState) error {
		if err := e.auth.Require(caller); err != nil {
			return err
		}
		vault, err := loadVault(st, vaultAddr)
		if err != nil {
			return err
		}
		return e.release(st, vault, destination, amount)
	})
}

func (e *Engine) release(st engineState, vault *Vault, dest [20]byte, amount uint64) error {
	if err := custodialTransfer(st, vault, dest, amount); err != nil {
		return err
	}
	vault.TotalTokens = saturatingSub(vault.TotalTokens, amount)
	if err := storeVault(st, vault); err != nil {
		return err
	}
	st.Emit(events.TokensWithdrawn{Vault: vault.Address, Destination: dest, Amount: amount, TotalTokens: vault.TotalTokens})
	return nil
}

// Close flushes the full custody balance to the vault owner's associated
// account. Any caller may close a vault; the caller pays for the owner's
// associated account when it does not exist yet. The record and its tracked
// total are left untouched.
func (e *Engine) Close(caller, vaultAddr [20]byte) (uint64, error) {
	var flushed uint64
	err := e.update(func(st engineState) error {
		vault, err := loadVault(st, vaultAddr)
		if err != nil {
			return err
		}
		balance, err := st.TokenBalance(vault.VaultTokenAccount)
		if err != nil {
			return err
		}
		var dest [20]byte
		if balance > 0 {
			dest, err = st.CreateAssociatedTokenAccount(caller, vault.Owner, vault.TokenMint)
			if err != nil {
				return err
			}
			if err := custodialTransfer(st, vault, dest, balance); err != nil {
				return err
			}
		}
		flushed = balance
		st.Emit(events.VaultClosed{Vault: vaultAddr, Recipient: dest, Flushed: balance})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flushed, nil
}

// Vault loads a vault record.
func (e *Engine) Vault(addr [20]byte) (*Vault, error) {
	var out *Vault
	err := e.view(func(st engineState) error {
		vault, err := loadVault(st, addr)
		out = vault
		return err
	})
	return out, err
}

// Vaults lists every vault record.
func (e *Engine) Vaults() ([]*Vault, error) {
	var out []*Vault
	err := e.view(func(st engineState) error {
		vaults, err := ListVaults(st)
		out = vaults
		return err
	})
	return out, err
}

// ListVaults decodes every vault visible to st.
func ListVaults(st interface {
	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
}) ([]*Vault, error) {
	var out []*Vault
	err := st.IterateRecords(state.RecordPrefix(nsVault), func(_, value []byte) error {
		vault := new(Vault)
		if err := state.DecodeRecord(value, vault); err != nil {
			return err
		}
		addr, _, err := VaultAddress(vault.TokenMint, vault.Index)
		if err != nil {
			return err
		}
		vault.Address = addr
		out = append(out, vault)
		return nil
	})
	return out, err
}

// custodialTransfer reconstructs the vault authority from the record's seeds
// and bump, checks it against the record address and moves tokens out of
// custody.
func custodialTransfer(st engineState, vault *Vault, dest [20]byte, amount uint64) error {
	authority, err := crypto.CreateDerivedAddress(ProgramID, vaultSeeds(vault.TokenMint, vault.Index), vault.Bump)
	if err != nil || authority != vault.Address {
		return custodyerrors.ErrInvalidAuthority
	}
	mint, err := st.Mint(vault.TokenMint)
	if err != nil {
		return err
	}
	return st.TransferChecked(vault.TokenMint, vault.VaultTokenAccount, dest, authority, amount, mint.Decimals)
}

func checkedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
