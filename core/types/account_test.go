package types

import (
	"math"
	"testing"
)

func TestAccountCreditDebit(t *testing.T) {
	acc := &Account{}
	if !acc.Credit("USDC", 100) {
		t.Fatalf("credit failed")
	}
	if !acc.Credit("SOL", 5) {
		t.Fatalf("credit failed")
	}
	if acc.Balances[0].Asset != "SOL" {
		t.Fatalf("balances not sorted: %+v", acc.Balances)
	}
	if acc.Debit("USDC", 101) {
		t.Fatalf("expected insufficient debit to fail")
	}
	if got := acc.BalanceOf("USDC"); got != 100 {
		t.Fatalf("failed debit mutated balance: %d", got)
	}
	if !acc.Debit("USDC", 100) {
		t.Fatalf("debit failed")
	}
	if len(acc.Balances) != 1 {
		t.Fatalf("expected empty balance to be pruned, got %+v", acc.Balances)
	}
}

func TestAccountCreditOverflow(t *testing.T) {
	acc := &Account{}
	acc.Credit("USDC", math.MaxUint64)
	if acc.Credit("USDC", 1) {
		t.Fatalf("expected overflow to be rejected")
	}
	if got := acc.BalanceOf("USDC"); got != math.MaxUint64 {
		t.Fatalf("overflowing credit mutated balance: %d", got)
	}
}
