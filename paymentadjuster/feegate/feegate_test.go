package feegate

import (
	"math/big"
	"testing"
)

func TestCheckNoAdjustmentWhenEverythingFits(t *testing.T) {
	adj, err := Check(
		big.NewInt(1000),          // total required service fee
		big.NewInt(5000),          // service fee balance
		big.NewInt(100),           // per-transaction fee
		big.NewInt(1000),          // transaction fee balance -> max 10 tx
		3,                         // count
		big.NewInt(100),           // smallest debt
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adj.Kind != NoAdjustment {
		t.Errorf("expected NoAdjustment, got %+v", adj)
	}
}

func TestCheckTransactionFeeFirstWhenMaxTxBelowCount(t *testing.T) {
	adj, err := Check(
		big.NewInt(1000),
		big.NewInt(5000),
		big.NewInt(100),
		big.NewInt(200), // max 2 tx
		5,
		big.NewInt(100),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adj.Kind != TransactionFeeFirst || adj.Limit != 2 {
		t.Errorf("expected TransactionFeeFirst{2}, got %+v", adj)
	}
}

func TestCheckServiceFeeWhenBalanceShortButCoversSmallestDebt(t *testing.T) {
	adj, err := Check(
		big.NewInt(10000),
		big.NewInt(500),
		big.NewInt(10),
		big.NewInt(1000),
		3,
		big.NewInt(200),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adj.Kind != ServiceFee {
		t.Errorf("expected ServiceFee, got %+v", adj)
	}
}

func TestCheckErrorsWhenServiceFeeBelowSmallestDebt(t *testing.T) {
	_, err := Check(
		big.NewInt(10000),
		big.NewInt(50),
		big.NewInt(10),
		big.NewInt(1000),
		3,
		big.NewInt(200),
	)
	if _, ok := err.(ServiceFeeBalanceBelowSmallestDebt); !ok {
		t.Fatalf("expected ServiceFeeBalanceBelowSmallestDebt, got %v", err)
	}
}

func TestCheckErrorsWhenTransactionFeeBelowOneTransaction(t *testing.T) {
	_, err := Check(
		big.NewInt(1000),
		big.NewInt(5000),
		big.NewInt(500),
		big.NewInt(100),
		3,
		big.NewInt(100),
	)
	if _, ok := err.(TransactionFeeBalanceBelowOneTransaction); !ok {
		t.Fatalf("expected TransactionFeeBalanceBelowOneTransaction, got %v", err)
	}
}
