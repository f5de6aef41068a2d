// Package transactor holds the shared MappingTransactor contract and
// factory plumbing described in spec.md §4.3 and §9 ("factory
// polymorphism"). PCP and PMP each provide a concrete MappingTransactor;
// the housekeeping loop and the Transactor facades program only against
// this package's interfaces.
package transactor

import (
	"net"
	"time"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/socketio"
)

// NonceFactory produces the fresh 12-byte nonce a PCP MAP request carries
// (spec.md §3, §8 invariant 2). PMP ignores it.
type NonceFactory interface {
	MakeNonce() [12]byte
}

// Factories bundles the four capability objects described in spec.md §9:
// socket factory, local-IP finder, nonce factory, and free-port factory.
// It is immutable after construction and shared read-only across
// concurrent Transactor operations and the housekeeping goroutine (spec.md
// §5's "shared-resource policy").
type Factories struct {
	SocketFactory   socketio.SocketFactory
	LocalIpFinder   socketio.LocalIpFinder
	NonceFactory    NonceFactory
	FreePortFactory socketio.FreePortFactory
}

// MappingTransactor performs a single request/response round trip to the
// router and classifies the result, per spec.md §4.3. PCP and PMP provide
// distinct implementations sharing this contract.
type MappingTransactor interface {
	// MappingTransaction performs one MAP round trip. On success it
	// mutates config in place (ApplyApprovedLifetime) and returns the
	// approved lifetime in seconds and the negotiated opcode data.
	MappingTransaction(factories Factories, routerAddr net.Addr, config *automap.MappingConfig) (approvedLifetimeSecs uint32, data automap.MapOpcodeData, err error)

	// GetPublicIP performs whatever protocol-specific round trip yields
	// the router's external IP without leaving a durable mapping, except
	// PCP, which per SPEC_FULL.md §12.2 uses a hole_port=9, lifetime=0 MAP and
	// so may leave a transient zero-lifetime mapping attempt.
	GetPublicIP(factories Factories, routerAddr net.Addr) (net.IP, error)
}

// DefaultReadTimeout is the fixed transactional recv timeout (spec.md §6).
const DefaultReadTimeout = socketio.TransactionalRecvTimeout

// ClampLifetime enforces the housekeeping loop's rule that NextLifetime is
// clamped to >= 1 second before a scheduled remap call (spec.md §4.4 step
// 2).
func ClampLifetime(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
