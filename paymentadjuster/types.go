// Package paymentadjuster implements the offline payable-batch allocation
// engine described in spec.md §4.6-4.9: given per-account balances, ages,
// and the consuming wallet's available transaction-fee and service-fee
// balances, it decides which accounts to pay and by how much.
package paymentadjuster

import (
	"math/big"
	"time"
)

// PayableAccount is one payable debt under consideration, per spec.md §3.
// BalanceWei stands in for the Rust source's u128; big.Int is the pack's
// own idiomatic choice for wallet-amount-sized integers (see SPEC_FULL.md
// §4).
type PayableAccount struct {
	Wallet            string
	BalanceWei        *big.Int
	LastPaidTimestamp time.Time
	PendingPayableOpt *string
}

// WalletBalances is the consuming wallet's available resources for one
// adjuster run. TransactionFeeMinor stands in for U256; ServiceFeeMinor for
// u128.
type WalletBalances struct {
	TransactionFeeMinor *big.Int
	ServiceFeeMinor     *big.Int
}

// AdjustmentCriterion pairs an account with the urgency weight
// CriteriaEngine computed for it.
type AdjustmentCriterion struct {
	Account PayableAccount
	Weight  *big.Int
}

// DisqualifiedAccount is a payable whose proposed adjusted balance fell
// below half its original balance and was therefore excluded.
type DisqualifiedAccount struct {
	Wallet          string
	OriginalBalance *big.Int
	ProposedBalance *big.Int
}

// ResponseSkeleton is an opaque echo value threaded through from the
// PayableSetup request to OutgoingPaymentInstructions; its real shape is
// owned by the out-of-scope terminal UI / CLI front end (spec.md §1), so
// this core only carries it, never inspects it.
type ResponseSkeleton struct {
	ClientID   uint64
	ContextOpt string
}

// FinancialAndTechDetails carries the wallet balances plus the
// per-transaction fee inputs FeeGate needs.
type FinancialAndTechDetails struct {
	ConsumingWalletBalances WalletBalances
	EstimatedGasLimitPerTx  uint64
	DesiredGasPriceGwei     uint64
}

// PerTransactionFee derives the transaction-fee cost per payable
// transaction from the gas parameters, in the same minor units as
// TransactionFeeMinor.
func (d FinancialAndTechDetails) PerTransactionFee() *big.Int {
	limit := new(big.Int).SetUint64(d.EstimatedGasLimitPerTx)
	price := new(big.Int).SetUint64(d.DesiredGasPriceGwei)
	return limit.Mul(limit, price)
}

// PayableSetup is the adjuster's input message, per spec.md §6.
type PayableSetup struct {
	QualifiedPayables       []PayableAccount
	FinancialAndTechDetails FinancialAndTechDetails
	ResponseSkeletonOpt     *ResponseSkeleton
}

// OutgoingPaymentInstructions is the adjuster's output message, per
// spec.md §6.
type OutgoingPaymentInstructions struct {
	Accounts            []PayableAccount
	ResponseSkeletonOpt *ResponseSkeleton
}
