// Package accountantdb names the read-only seam between the payment
// adjuster and the accountant's payable ledger. The underlying
// big-integer SQL storage is out of scope for this repo; only the
// interface the adjuster's caller would implement against is defined
// here.
package accountantdb

import (
	"context"

	"github.com/masqproject/masq-automap/paymentadjuster"
)

// PayableLedger loads the current set of qualified payables.
// Implementations live outside this repo.
type PayableLedger interface {
	Load(ctx context.Context) ([]paymentadjuster.PayableAccount, error)
}
