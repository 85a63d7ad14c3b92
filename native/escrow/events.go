package escrow

import (
	"strconv"

	"p2plend/core/types"
	"p2plend/crypto"
)

const (
	EventTypeVaultOpened    = "escrow.vault.opened"
	EventTypeVaultDeposited = "escrow.vault.deposited"
	EventTypeVaultReleased  = "escrow.vault.released"
	EventTypeVaultClosed    = "escrow.vault.closed"
)

// NewOpenedEvent returns the canonical payload for a newly allocated vault.
func NewOpenedEvent(v *Vault) *types.Event {
	return newVaultEvent(EventTypeVaultOpened, v, nil, 0)
}

// NewDepositedEvent returns the payload emitted when value enters a vault.
func NewDepositedEvent(v *Vault, from crypto.Address, amount uint64) *types.Event {
	return newVaultEvent(EventTypeVaultDeposited, v, &from, amount)
}

// NewReleasedEvent returns the payload emitted when value leaves a vault.
func NewReleasedEvent(v *Vault, to crypto.Address, amount uint64) *types.Event {
	return newVaultEvent(EventTypeVaultReleased, v, &to, amount)
}

// NewClosedEvent returns the payload emitted when a vault is deallocated.
func NewClosedEvent(v *Vault, refundTo crypto.Address, refunded uint64) *types.Event {
	return newVaultEvent(EventTypeVaultClosed, v, &refundTo, refunded)
}

func newVaultEvent(eventType string, v *Vault, counterparty *crypto.Address, amount uint64) *types.Event {
	attrs := map[string]string{}
	if v != nil {
		attrs["vault"] = v.Address.String()
		attrs["owner"] = v.Owner.String()
		attrs["role"] = string(v.Role)
		attrs["asset"] = v.Asset
		attrs["balance"] = strconv.FormatUint(v.Balance, 10)
	}
	if counterparty != nil {
		attrs["counterparty"] = counterparty.String()
		attrs["amount"] = strconv.FormatUint(amount, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
