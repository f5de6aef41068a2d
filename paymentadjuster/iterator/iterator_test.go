package iterator

import (
	"math/big"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/masqproject/masq-automap/paymentadjuster"
)

func crit(wallet string, weight, balance int64, ageSecs int64) paymentadjuster.AdjustmentCriterion {
	now := time.Unix(1_700_000_000, 0)
	return paymentadjuster.AdjustmentCriterion{
		Account: paymentadjuster.PayableAccount{
			Wallet:            wallet,
			BalanceWei:        big.NewInt(balance),
			LastPaidTimestamp: now.Add(-time.Duration(ageSecs) * time.Second),
		},
		Weight: big.NewInt(weight),
	}
}

func findPaid(result Result, wallet string) (paymentadjuster.PayableAccount, bool) {
	for _, acct := range result.Accounts {
		if acct.Wallet == wallet {
			return acct, true
		}
	}
	return paymentadjuster.PayableAccount{}, false
}

// Scenario 4 (spec.md §8): three accounts whose combined debt exceeds a
// tight budget; all three must survive, none disqualified, and the sum
// paid out must never exceed the budget.
func TestAllocateProportionalCutKeepsAllThreeWithinBudget(t *testing.T) {
	balances := []int64{440000000000000000, 670000000000000000, 22000000000000}
	ages := []int64{1234, 100, 50000}
	wallets := []string{"acct-a", "acct-b", "acct-c"}

	// Weight proportional to balance keeps the proportional cut uniform
	// across all three accounts, which is enough to exercise the "short
	// budget, nobody disqualified" path without needing to reproduce
	// CriteriaEngine's exact age/balance formula here.
	built := make([]paymentadjuster.AdjustmentCriterion, len(wallets))
	for i := range wallets {
		built[i] = crit(wallets[i], balances[i], balances[i], ages[i])
	}

	budget := new(big.Int)
	budget.SetString("994000000000000000", 10) // 1e18 - 6e15

	result := Allocate(built, budget, nil)

	if len(result.Disqualified) != 0 {
		t.Fatalf("expected no disqualifications, got %s", spew.Sdump(result.Disqualified))
	}
	if len(result.Accounts) != 3 {
		t.Fatalf("expected all three accounts present, got %s", spew.Sdump(result.Accounts))
	}

	sum := big.NewInt(0)
	for _, acct := range result.Accounts {
		sum.Add(sum, acct.BalanceWei)
	}
	if sum.Cmp(budget) > 0 {
		t.Errorf("expected paid sum %s <= budget %s", sum, budget)
	}

	oldest, ok := findPaid(result, "acct-c")
	if !ok {
		t.Fatalf("expected the 50000s-old account to survive, %s", spew.Sdump(result.Accounts))
	}
	if oldest.BalanceWei.Cmp(big.NewInt(balances[2])) >= 0 {
		t.Errorf("expected the oldest account's balance to be adjusted down from %d, got %s", balances[2], oldest.BalanceWei)
	}
}

// Scenario 5 (spec.md §8): the lowest-weight account's proportional share
// falls under half its balance and is disqualified; the remaining two are
// then re-allocated from the reduced budget and both clear the 50% bar.
func TestAllocateDisqualifiesThenReallocatesRemainder(t *testing.T) {
	criteria := []paymentadjuster.AdjustmentCriterion{
		crit("acct-a", 400, 4000, 1),
		crit("acct-b", 400, 4000, 1),
		crit("acct-c", 50, 2000, 1),
	}
	budget := big.NewInt(6000)

	result := Allocate(criteria, budget, nil)

	if len(result.Disqualified) != 1 || result.Disqualified[0].Wallet != "acct-c" {
		t.Fatalf("expected acct-c disqualified alone, got %s", spew.Sdump(result.Disqualified))
	}
	if result.Disqualified[0].OriginalBalance.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("expected original balance 2000, got %s", result.Disqualified[0].OriginalBalance)
	}
	if result.Disqualified[0].ProposedBalance.Cmp(big.NewInt(352)) != 0 {
		t.Errorf("expected proposed balance 352 before disqualification, got %s", result.Disqualified[0].ProposedBalance)
	}

	a, ok := findPaid(result, "acct-a")
	if !ok {
		t.Fatalf("expected acct-a paid, got %s", spew.Sdump(result.Accounts))
	}
	b, ok := findPaid(result, "acct-b")
	if !ok {
		t.Fatalf("expected acct-b paid, got %s", spew.Sdump(result.Accounts))
	}
	if a.BalanceWei.Cmp(big.NewInt(2000)) != 0 || b.BalanceWei.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("expected both remaining accounts re-allocated to 2000 each, got a=%s b=%s", a.BalanceWei, b.BalanceWei)
	}
}

// Scenario 6 (spec.md §8): a transaction-fee cap of 2 keeps only the two
// highest-weight accounts in play; the rest are dropped before any
// proposal is computed, so they appear in neither Accounts nor
// Disqualified.
func TestAllocateTransactionFeeCapDropsLowerWeightAccountsSilently(t *testing.T) {
	criteria := []paymentadjuster.AdjustmentCriterion{
		crit("acct-1", 100, 1000, 1),
		crit("acct-2", 90, 900, 1),
		crit("acct-3", 80, 800, 1),
		crit("acct-4", 70, 700, 1),
		crit("acct-5", 60, 600, 1),
		crit("acct-6", 50, 500, 1),
	}
	cap := uint64(2)
	budget := big.NewInt(2000)

	result := Allocate(criteria, budget, &cap)

	if len(result.Disqualified) != 0 {
		t.Fatalf("expected no disqualifications, got %s", spew.Sdump(result.Disqualified))
	}
	if len(result.Accounts) != 2 {
		t.Fatalf("expected exactly 2 accounts, got %s", spew.Sdump(result.Accounts))
	}
	if _, ok := findPaid(result, "acct-1"); !ok {
		t.Errorf("expected acct-1 (highest weight) present")
	}
	if _, ok := findPaid(result, "acct-2"); !ok {
		t.Errorf("expected acct-2 (second highest weight) present")
	}
	for _, dropped := range []string{"acct-3", "acct-4", "acct-5", "acct-6"} {
		if _, ok := findPaid(result, dropped); ok {
			t.Errorf("expected %s dropped by the transaction-fee cap, but it was paid", dropped)
		}
	}
}
