package types

import (
	"math/bits"
	"sort"
)

// Balance is the holding of a single asset.
type Balance struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// Account tracks the per-asset holdings of a participant. Balances are kept
// sorted by asset so the encoded form is deterministic.
type Account struct {
	Balances []Balance `json:"balances"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := &Account{Balances: make([]Balance, len(a.Balances))}
	copy(clone.Balances, a.Balances)
	return clone
}

// BalanceOf returns the holding of the supplied asset.
func (a *Account) BalanceOf(asset string) uint64 {
	if a == nil {
		return 0
	}
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b.Amount
		}
	}
	return 0
}

// Credit adds amount to the asset balance. It reports false without mutating
// the account when the result would overflow.
func (a *Account) Credit(asset string, amount uint64) bool {
	current := a.BalanceOf(asset)
	sum, carry := bits.Add64(current, amount, 0)
	if carry != 0 {
		return false
	}
	a.set(asset, sum)
	return true
}

// Debit subtracts amount from the asset balance. It reports false without
// mutating the account when the balance is insufficient.
func (a *Account) Debit(asset string, amount uint64) bool {
	current := a.BalanceOf(asset)
	if current < amount {
		return false
	}
	a.set(asset, current-amount)
	return true
}

func (a *Account) set(asset string, amount uint64) {
	for i := range a.Balances {
		if a.Balances[i].Asset == asset {
			if amount == 0 {
				a.Balances = append(a.Balances[:i], a.Balances[i+1:]...)
				return
			}
			a.Balances[i].Amount = amount
			return
		}
	}
	if amount == 0 {
		return
	}
	a.Balances = append(a.Balances, Balance{Asset: asset, Amount: amount})
	sort.Slice(a.Balances, func(i, j int) bool { return a.Balances[i].Asset < a.Balances[j].Asset })
}
