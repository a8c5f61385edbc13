package system

import (
	"errors"
	"fmt"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/native/common"
)

var errNilStore = errors.New("system: state not configured")

// Store runs administrative toggles atomically.
type Store interface {
	Update(fn func(*state.Txn) error) error
	View(fn func(*state.Txn) error) error
}

// Pauses manages the module pause toggles consulted by common.Guard.
type Pauses struct {
	store Store
	auth  *common.Authority
}

func NewPauses(store Store, auth *common.Authority) *Pauses {
	return &Pauses{store: store, auth: auth}
}

// SetPaused flips the pause toggle of module. Only admins may call it.
func (p *Pauses) SetPaused(caller [20]byte, module string, paused bool) error {
	if p == nil || p.store == nil {
		return errNilStore
	}
	if !common.KnownModule(module) {
		return fmt.Errorf("%w: unknown module %q", custodyerrors.ErrInvalidArgument, module)
	}
	return p.store.Update(func(txn *state.Txn) error {
		if err := p.auth.Require(caller); err != nil {
			return err
		}
		if err := txn.SetPaused(module, paused); err != nil {
			return err
		}
		txn.Emit(events.ModulePaused{Module: module, Paused: paused, By: caller})
		return nil
	})
}

// Snapshot reports the toggle of every pausable module.
func (p *Pauses) Snapshot() (map[string]bool, error) {
	if p == nil || p.store == nil {
		return nil, errNilStore
	}
	out := make(map[string]bool, 2)
	err := p.store.View(func(txn *state.Txn) error {
		for _, module := range []string{common.ModulePresale, common.ModuleVesting} {
			out[module] = txn.IsPaused(module)
		}
		return nil
	})
	return out, err
}
