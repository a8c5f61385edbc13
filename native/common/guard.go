package common

import "errors"

// Module names recognised by the pause guard.
const (
	ModulePresale = "presale"
	ModuleVesting = "vesting"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// KnownModule reports whether module can be paused.
func KnownModule(module string) bool {
	return module == ModulePresale || module == ModuleVesting
}
