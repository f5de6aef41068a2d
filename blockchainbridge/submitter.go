// Package blockchainbridge names the seam between the payment adjuster
// and the on-chain submission pipeline. Actually dispatching signed
// transactions to a blockchain node is out of scope for this repo; only
// the interface the adjuster's caller would implement against is defined
// here.
package blockchainbridge

import "github.com/masqproject/masq-automap/paymentadjuster"

// PayableSubmitter submits an adjuster decision for on-chain payment.
// Implementations live outside this repo.
type PayableSubmitter interface {
	Submit(instructions paymentadjuster.OutgoingPaymentInstructions) error
}
