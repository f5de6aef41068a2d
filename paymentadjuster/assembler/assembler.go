// Package assembler implements ResultAssembler (spec.md §4.9): it turns
// AdjustmentIterator's outcome into the adjuster's outgoing message,
// logs a before/after debug summary, and reports each disqualification
// individually at INFO level.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/masqproject/masq-automap/paymentadjuster"
)

// Assemble builds OutgoingPaymentInstructions from the accounts
// AdjustmentIterator decided to pay and the ones it disqualified, logging
// the outcome along the way. original supplies the pre-adjustment
// balances for the debug summary's "before" column.
func Assemble(
	original []paymentadjuster.PayableAccount,
	paid []paymentadjuster.PayableAccount,
	disqualified []paymentadjuster.DisqualifiedAccount,
	responseSkeleton *paymentadjuster.ResponseSkeleton,
) paymentadjuster.OutgoingPaymentInstructions {
	for _, dq := range disqualified {
		log.Infof("disqualified payable %s: proposed balance %s fell below half of original balance %s",
			dq.Wallet, dq.ProposedBalance, dq.OriginalBalance)
	}

	log.Debugf("%s", DebugSummary(original, paid, disqualified))

	return paymentadjuster.OutgoingPaymentInstructions{
		Accounts:            paid,
		ResponseSkeletonOpt: responseSkeleton,
	}
}

// DebugSummary renders a two-column "before/after" table: included
// accounts sorted by descending adjusted balance, followed by a "Ruled
// Out" section listing disqualified accounts.
func DebugSummary(
	original []paymentadjuster.PayableAccount,
	paid []paymentadjuster.PayableAccount,
	disqualified []paymentadjuster.DisqualifiedAccount,
) string {
	originalByWallet := make(map[string]paymentadjuster.PayableAccount, len(original))
	for _, acct := range original {
		originalByWallet[acct.Wallet] = acct
	}

	included := make([]paymentadjuster.PayableAccount, len(paid))
	copy(included, paid)
	sort.SliceStable(included, func(i, j int) bool {
		return included[i].BalanceWei.Cmp(included[j].BalanceWei) > 0
	})

	var b strings.Builder
	b.WriteString("payable adjustment summary:\n")
	for _, acct := range included {
		before := acct.BalanceWei
		if orig, ok := originalByWallet[acct.Wallet]; ok {
			before = orig.BalanceWei
		}
		fmt.Fprintf(&b, "  %-42s  before %-24s  after %-24s\n", acct.Wallet, before, acct.BalanceWei)
	}
	if len(disqualified) > 0 {
		b.WriteString("  Ruled Out:\n")
		for _, dq := range disqualified {
			fmt.Fprintf(&b, "    %-42s  before %-24s  proposed %-24s\n", dq.Wallet, dq.OriginalBalance, dq.ProposedBalance)
		}
	}
	return b.String()
}
