package paymentadjuster

import (
	"math/big"
	"time"

	"github.com/masqproject/masq-automap/paymentadjuster/assembler"
	"github.com/masqproject/masq-automap/paymentadjuster/criteria"
	"github.com/masqproject/masq-automap/paymentadjuster/feegate"
	"github.com/masqproject/masq-automap/paymentadjuster/iterator"
	"github.com/masqproject/masq-automap/paymentadjuster/metrics"
)

// Adjuster wires FeeGate, CriteriaEngine, AdjustmentIterator, and
// ResultAssembler into the single entry point described in spec.md §2.
type Adjuster struct {
	metrics *metrics.Collector
}

// New returns an Adjuster with metrics disabled; wire a live Collector
// with WithMetrics to expose counters to a shared registry.
func New() *Adjuster {
	return &Adjuster{metrics: metrics.Disabled()}
}

// WithMetrics attaches a shared Collector, replacing the disabled default.
func (a *Adjuster) WithMetrics(c *metrics.Collector) *Adjuster {
	a.metrics = c
	return a
}

// Adjust runs one adjustment pass over setup and returns the outgoing
// payment batch. now is injected rather than taken from time.Now so
// CriteriaEngine's age weighting is deterministic under test.
func (a *Adjuster) Adjust(setup PayableSetup, now time.Time) (OutgoingPaymentInstructions, error) {
	a.metrics.Runs.Inc()

	accounts := setup.QualifiedPayables
	details := setup.FinancialAndTechDetails
	balances := details.ConsumingWalletBalances

	adj, err := feegate.Check(
		sumBalances(accounts),
		balances.ServiceFeeMinor,
		details.PerTransactionFee(),
		balances.TransactionFeeMinor,
		uint64(len(accounts)),
		smallestBalance(accounts),
	)
	if err != nil {
		a.metrics.GateRejections.WithLabelValues(gateErrorKind(err)).Inc()
		return OutgoingPaymentInstructions{}, err
	}
	a.metrics.Adjustments.WithLabelValues(adjustmentKindLabel(adj.Kind)).Inc()

	if adj.Kind == feegate.NoAdjustment {
		a.metrics.AccountsPaid.Add(float64(len(accounts)))
		return assembler.Assemble(accounts, accounts, nil, setup.ResponseSkeletonOpt), nil
	}

	weighted := criteria.Compute(accounts, now)

	var txCap *uint64
	if adj.Kind == feegate.TransactionFeeFirst {
		limit := adj.Limit
		txCap = &limit
	}

	result := iterator.Allocate(weighted, balances.ServiceFeeMinor, txCap)

	a.metrics.AccountsPaid.Add(float64(len(result.Accounts)))
	a.metrics.Disqualifications.Add(float64(len(result.Disqualified)))

	return assembler.Assemble(accounts, result.Accounts, result.Disqualified, setup.ResponseSkeletonOpt), nil
}

func sumBalances(accounts []PayableAccount) *big.Int {
	sum := big.NewInt(0)
	for _, acct := range accounts {
		sum.Add(sum, acct.BalanceWei)
	}
	return sum
}

func smallestBalance(accounts []PayableAccount) *big.Int {
	if len(accounts) == 0 {
		return big.NewInt(0)
	}
	smallest := accounts[0].BalanceWei
	for _, acct := range accounts[1:] {
		if acct.BalanceWei.Cmp(smallest) < 0 {
			smallest = acct.BalanceWei
		}
	}
	return smallest
}

func gateErrorKind(err error) string {
	switch err.(type) {
	case feegate.TransactionFeeBalanceBelowOneTransaction:
		return "transaction_fee_below_one_transaction"
	case feegate.ServiceFeeBalanceBelowSmallestDebt:
		return "service_fee_below_smallest_debt"
	default:
		return "unknown"
	}
}

func adjustmentKindLabel(kind feegate.Kind) string {
	switch kind {
	case feegate.NoAdjustment:
		return "none"
	case feegate.TransactionFeeFirst:
		return "transaction_fee_first"
	case feegate.ServiceFee:
		return "service_fee"
	default:
		return "unknown"
	}
}
