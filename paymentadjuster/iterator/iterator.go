// Package iterator implements AdjustmentIterator (spec.md §4.7): given
// weighted accounts and a service-fee budget, it decides a proposed
// balance for each account — in full, proportionally reduced, or not at
// all — using only big.Int arithmetic so no step can silently overflow.
package iterator

import (
	"math/big"

	"github.com/masqproject/masq-automap/paymentadjuster"
)

// Result is AdjustmentIterator's outcome: the accounts to pay (with their
// balances already set to the proposed amount) and the accounts ruled
// out as disqualified.
type Result struct {
	Accounts      []paymentadjuster.PayableAccount
	Disqualified  []paymentadjuster.DisqualifiedAccount
}

// Allocate runs AdjustmentIterator. criteria must already be sorted by
// descending weight (criteria.Compute's contract). txCap, if non-nil, is
// the transaction-fee cap N from FeeGate's TransactionFeeFirst verdict.
func Allocate(criteria []paymentadjuster.AdjustmentCriterion, serviceFeeBalance *big.Int, txCap *uint64) Result {
	working := cutBackForTransactionFee(criteria, txCap)

	budget := new(big.Int).Set(serviceFeeBalance)
	var paid []paymentadjuster.PayableAccount
	var disqualified []paymentadjuster.DisqualifiedAccount

	// Bounded by len(criteria): every iteration either removes at least one
	// account from working (priority override or disqualification) or
	// finalizes and breaks.
	for iter := 0; iter <= len(criteria) && len(working) > 0; iter++ {
		over := overQualified(working, budget)
		if len(over) > 0 {
			paid, working, budget = payInFull(paid, working, budget, over)
			continue
		}

		proposed := proportionalAllocate(working, budget)
		dqIdx := disqualifiedIndices(working, proposed)
		if len(dqIdx) == 0 {
			for i, c := range working {
				acct := c.Account
				acct.BalanceWei = proposed[i]
				paid = append(paid, acct)
			}
			working = nil
			break
		}

		working, budget, disqualified = revertAndDrop(working, proposed, budget, dqIdx, disqualified)
	}

	return Result{Accounts: paid, Disqualified: disqualified}
}

// cutBackForTransactionFee discards the lowest-weight accounts (the tail
// of the descending-sorted slice) until at most *txCap remain.
func cutBackForTransactionFee(criteria []paymentadjuster.AdjustmentCriterion, txCap *uint64) []paymentadjuster.AdjustmentCriterion {
	if txCap == nil {
		out := make([]paymentadjuster.AdjustmentCriterion, len(criteria))
		copy(out, criteria)
		return out
	}
	limit := int(*txCap)
	if limit >= len(criteria) {
		out := make([]paymentadjuster.AdjustmentCriterion, len(criteria))
		copy(out, criteria)
		return out
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]paymentadjuster.AdjustmentCriterion, limit)
	copy(out, criteria[:limit])
	return out
}

// overQualified finds accounts whose fair proportional share of the
// current budget (weight_i/weightTotal * budget) would be at least their
// original balance. The ratio test cross-multiplies to avoid floating
// point: budget*weight_i >= balance_i*weightTotal. Inclusive of equality
// (SPEC_FULL.md §12.3).
func overQualified(working []paymentadjuster.AdjustmentCriterion, budget *big.Int) []int {
	weightTotal := big.NewInt(0)
	for _, c := range working {
		weightTotal.Add(weightTotal, c.Weight)
	}
	if weightTotal.Sign() == 0 {
		return nil
	}
	var idx []int
	lhs := new(big.Int)
	rhs := new(big.Int)
	for i, c := range working {
		lhs.Mul(budget, c.Weight)
		rhs.Mul(c.Account.BalanceWei, weightTotal)
		if lhs.Cmp(rhs) >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// payInFull pays every account at the given indices its original
// balance, removes them from working, and debits the budget.
func payInFull(
	paid []paymentadjuster.PayableAccount,
	working []paymentadjuster.AdjustmentCriterion,
	budget *big.Int,
	idx []int,
) ([]paymentadjuster.PayableAccount, []paymentadjuster.AdjustmentCriterion, *big.Int) {
	remove := make(map[int]bool, len(idx))
	for _, i := range idx {
		remove[i] = true
		paid = append(paid, working[i].Account)
		budget = new(big.Int).Sub(budget, working[i].Account.BalanceWei)
	}
	remaining := make([]paymentadjuster.AdjustmentCriterion, 0, len(working)-len(idx))
	for i, c := range working {
		if !remove[i] {
			remaining = append(remaining, c)
		}
	}
	return paid, remaining, budget
}

// proportionalAllocate computes each account's proposed balance as
// weight_i * q / k, where q = B*k/W and k = 10^p is chosen so the
// division carries at least six significant decimal digits.
func proportionalAllocate(working []paymentadjuster.AdjustmentCriterion, budget *big.Int) []*big.Int {
	weightTotal := big.NewInt(0)
	for _, c := range working {
		weightTotal.Add(weightTotal, c.Weight)
	}
	proposed := make([]*big.Int, len(working))
	if weightTotal.Sign() == 0 {
		for i := range working {
			proposed[i] = big.NewInt(0)
		}
		return proposed
	}

	p := digits(weightTotal) - digits(budget)
	if p < 0 {
		p = 0
	}
	p += 6
	k := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p)), nil)

	q := new(big.Int).Mul(budget, k)
	q.Quo(q, weightTotal)

	for i, c := range working {
		share := new(big.Int).Mul(c.Weight, q)
		share.Quo(share, k)
		proposed[i] = share
	}
	return proposed
}

// digits returns the number of decimal digits in n's absolute value.
func digits(n *big.Int) int {
	if n.Sign() == 0 {
		return 1
	}
	return len(new(big.Int).Abs(n).String())
}

// disqualifiedIndices returns the indices whose proposed balance is
// strictly less than half their original balance.
func disqualifiedIndices(working []paymentadjuster.AdjustmentCriterion, proposed []*big.Int) []int {
	var idx []int
	doubled := new(big.Int)
	for i, c := range working {
		doubled.Mul(proposed[i], big.NewInt(2))
		if doubled.Cmp(c.Account.BalanceWei) < 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// revertAndDrop discards the tentative proposal entirely, records the
// disqualified accounts, subtracts their original balances from the
// budget, and returns the remaining working set for the next iteration.
func revertAndDrop(
	working []paymentadjuster.AdjustmentCriterion,
	proposed []*big.Int,
	budget *big.Int,
	dqIdx []int,
	disqualified []paymentadjuster.DisqualifiedAccount,
) ([]paymentadjuster.AdjustmentCriterion, *big.Int, []paymentadjuster.DisqualifiedAccount) {
	remove := make(map[int]bool, len(dqIdx))
	newBudget := new(big.Int).Set(budget)
	for _, i := range dqIdx {
		remove[i] = true
		disqualified = append(disqualified, paymentadjuster.DisqualifiedAccount{
			Wallet:          working[i].Account.Wallet,
			OriginalBalance: working[i].Account.BalanceWei,
			ProposedBalance: proposed[i],
		})
		newBudget.Sub(newBudget, working[i].Account.BalanceWei)
	}
	remaining := make([]paymentadjuster.AdjustmentCriterion, 0, len(working)-len(dqIdx))
	for i, c := range working {
		if !remove[i] {
			remaining = append(remaining, c)
		}
	}
	return remaining, newBudget, disqualified
}
