package escrow

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"p2plend/crypto"
)

// Role tags the purpose a vault serves for its owning record.
type Role string

const (
	// RoleEscrow holds a lending offer's undisbursed loan amount.
	RoleEscrow Role = "escrow"
	// RoleCollateral holds a loan's posted collateral.
	RoleCollateral Role = "collateral"
)

// Valid reports whether the role is supported.
func (r Role) Valid() bool {
	switch r {
	case RoleEscrow, RoleCollateral:
		return true
	default:
		return false
	}
}

// Vault is a value-holding record exclusively controlled by its owner. The
// address is derived from (owner, role), so each record owns at most one vault
// per role.
type Vault struct {
	Address crypto.Address
	Owner   crypto.Address
	Role    Role
	Asset   string
	Balance uint64
}

// Clone returns a copy of the vault so callers can safely mutate the copy
// without affecting the stored instance.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// VaultAddress derives the address of the vault that owner holds for role.
func VaultAddress(owner crypto.Address, role Role) crypto.Address {
	return crypto.DeriveAddress(string(role), owner[:])
}

const maxAssetLength = 16

// ErrInvalidAsset is returned for malformed asset symbols.
var ErrInvalidAsset = errors.New("escrow: invalid asset symbol")

// NormalizeAsset validates an asset symbol and returns its canonical uppercase
// form. Symbols are 1-16 characters drawn from A-Z, 0-9, '.', '_' and '-'
// after NFKC folding, so fullwidth input maps onto the same symbol.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAsset)
	}
	if len(trimmed) > maxAssetLength {
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidAsset, symbol, maxAssetLength)
	}
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
		}
	}
	return trimmed, nil
}
