// Package criteria implements CriteriaEngine (spec.md §4.6): it assigns
// each payable account a non-negative urgency weight combining an age
// sub-criterion and a balance sub-criterion, both in checked big.Int
// arithmetic so overflow cannot silently corrupt an allocation decision.
package criteria

import (
	"math/big"
	"sort"
	"time"

	"github.com/masqproject/masq-automap/paymentadjuster"
)

// Compute assigns a weight to every account and returns them sorted by
// descending weight, ties broken by original (insertion) order — spec.md
// §4.6's stability requirement, satisfied here by sort.SliceStable.
func Compute(accounts []paymentadjuster.PayableAccount, now time.Time) []paymentadjuster.AdjustmentCriterion {
	out := make([]paymentadjuster.AdjustmentCriterion, len(accounts))
	for i, acct := range accounts {
		out[i] = paymentadjuster.AdjustmentCriterion{
			Account: acct,
			Weight:  weight(acct, now),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight.Cmp(out[j].Weight) > 0
	})
	return out
}

func weight(acct paymentadjuster.PayableAccount, now time.Time) *big.Int {
	age := ageCriterion(now.Sub(acct.LastPaidTimestamp))
	balance := balanceCriterion(acct.BalanceWei)
	return new(big.Int).Add(age, balance)
}

// ageCriterion computes elapsed_secs^4 / ceil(sqrt(elapsed_secs)).
func ageCriterion(elapsed time.Duration) *big.Int {
	secs := big.NewInt(int64(elapsed / time.Second))
	if secs.Sign() <= 0 {
		return big.NewInt(0)
	}
	fourth := new(big.Int).Exp(secs, big.NewInt(4), nil)
	denom := ceilSqrt(secs)
	return new(big.Int).Quo(fourth, denom)
}

// ceilSqrt returns ceil(sqrt(n)) for a non-negative n.
func ceilSqrt(n *big.Int) *big.Int {
	root := new(big.Int).Sqrt(n)
	squared := new(big.Int).Mul(root, root)
	if squared.Cmp(n) != 0 {
		root.Add(root, big.NewInt(1))
	}
	if root.Sign() == 0 {
		return big.NewInt(1)
	}
	return root
}

// balanceCriterion computes balance * (digits(balance))^3, where digits is
// the number of decimal digits in balance (floor(log10(balance)) + 1).
func balanceCriterion(balance *big.Int) *big.Int {
	if balance == nil || balance.Sign() <= 0 {
		return big.NewInt(0)
	}
	digits := int64(len(balance.String()))
	cubedDigits := digits * digits * digits
	return new(big.Int).Mul(balance, big.NewInt(cubedDigits))
}
