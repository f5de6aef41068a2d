// Package feegate implements FeeGate (spec.md §4.8): the pre-flight
// classifier that decides, before CriteriaEngine or AdjustmentIterator run
// at all, whether an adjustment is required and which resource constrains
// it.
package feegate

import (
	"fmt"
	"math/big"
)

// Kind names the dimension, if any, an adjustment must account for.
type Kind int

const (
	// NoAdjustment means the batch can be paid as requested.
	NoAdjustment Kind = iota
	// TransactionFeeFirst means the wallet's transaction-fee balance caps
	// the batch to Limit accounts before any service-fee math runs.
	TransactionFeeFirst
	// ServiceFee means the wallet's service-fee balance is short and
	// AdjustmentIterator must allocate proportionally.
	ServiceFee
)

// Adjustment is FeeGate's verdict.
type Adjustment struct {
	Kind  Kind
	Limit uint64 // meaningful only when Kind == TransactionFeeFirst
}

// TransactionFeeBalanceBelowOneTransaction means the wallet cannot afford
// even a single payable transaction.
type TransactionFeeBalanceBelowOneTransaction struct {
	Required *big.Int
	Available *big.Int
}

func (e TransactionFeeBalanceBelowOneTransaction) Error() string {
	return fmt.Sprintf("transaction fee balance %s is below the cost of a single transaction (%s required)", e.Available, e.Required)
}

// ServiceFeeBalanceBelowSmallestDebt means the wallet's service-fee
// balance cannot service even the smallest qualified debt; no adjustment
// can make the batch payable.
type ServiceFeeBalanceBelowSmallestDebt struct{}

func (ServiceFeeBalanceBelowSmallestDebt) Error() string {
	return "service fee balance is below the smallest qualified debt"
}

// Check runs FeeGate's four-step classification.
//
//   - totalRequiredServiceFee: sum of all qualified accounts' balances.
//   - serviceFeeBalance: the consuming wallet's available service-fee
//     balance (B).
//   - perTransactionFee: the wallet transaction-fee cost of one payable
//     transaction (f).
//   - transactionFeeBalance: the consuming wallet's available
//     transaction-fee balance (G).
//   - count: number of qualified accounts (n).
//   - smallestDebt: the smallest single qualified balance.
func Check(
	totalRequiredServiceFee *big.Int,
	serviceFeeBalance *big.Int,
	perTransactionFee *big.Int,
	transactionFeeBalance *big.Int,
	count uint64,
	smallestDebt *big.Int,
) (Adjustment, error) {
	if perTransactionFee.Sign() <= 0 {
		return Adjustment{}, TransactionFeeBalanceBelowOneTransaction{Required: perTransactionFee, Available: transactionFeeBalance}
	}

	maxTx := new(big.Int).Quo(transactionFeeBalance, perTransactionFee)
	if maxTx.Sign() == 0 {
		return Adjustment{}, TransactionFeeBalanceBelowOneTransaction{Required: perTransactionFee, Available: transactionFeeBalance}
	}

	if maxTx.Cmp(new(big.Int).SetUint64(count)) < 0 {
		return Adjustment{Kind: TransactionFeeFirst, Limit: maxTx.Uint64()}, nil
	}

	if totalRequiredServiceFee.Cmp(serviceFeeBalance) > 0 {
		if smallestDebt.Cmp(serviceFeeBalance) > 0 {
			return Adjustment{}, ServiceFeeBalanceBelowSmallestDebt{}
		}
		return Adjustment{Kind: ServiceFee}, nil
	}

	return Adjustment{Kind: NoAdjustment}, nil
}
