package common

import (
	"fmt"

	custodyerrors "vestvault/core/errors"
	"vestvault/crypto"
)

// Authority is the administrative policy consulted by every privileged
// operation. It is built once from configuration and never mutated.
type Authority struct {
	admins  map[[20]byte]struct{}
	primary [20]byte
}

// NewAuthority builds a policy admitting the supplied identities. The first
// identity is the primary admin recorded as owner on new records.
func NewAuthority(admins ...[20]byte) (*Authority, error) {
	if len(admins) == 0 {
		return nil, fmt.Errorf("%w: at least one admin is required", custodyerrors.ErrInvalidArgument)
	}
	a := &Authority{admins: make(map[[20]byte]struct{}, len(admins)), primary: admins[0]}
	for _, admin := range admins {
		if admin == ([20]byte{}) {
			return nil, fmt.Errorf("%w: zero admin identity", custodyerrors.ErrInvalidArgument)
		}
		a.admins[admin] = struct{}{}
	}
	return a, nil
}

// Require fails with AccessDenied unless caller is a configured admin.
func (a *Authority) Require(caller [20]byte) error {
	if a == nil {
		return custodyerrors.ErrAccessDenied
	}
	if _, ok := a.admins[caller]; !ok {
		return fmt.Errorf("%w: %s is not an admin", custodyerrors.ErrAccessDenied, crypto.FromRaw(caller).String())
	}
	return nil
}

// IsAdmin reports whether caller passes Require.
func (a *Authority) IsAdmin(caller [20]byte) bool {
	return a.Require(caller) == nil
}

// Primary returns the primary admin identity.
func (a *Authority) Primary() [20]byte {
	return a.primary
}
