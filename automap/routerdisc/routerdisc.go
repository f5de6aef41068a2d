// Package routerdisc implements the RouterDiscovery component of spec.md
// §4.4: enumerating candidate default gateways on the LAN. spec.md §4.5
// treats the platform-specific enumeration as "stubbed out of scope,"
// returning at least one address on a standard LAN; this package fulfills
// that contract for real using github.com/jackpal/gateway, the library the
// teacher's own go.mod (github.com/decred/dcrlnd) depends on for exactly
// this purpose.
package routerdisc

import (
	"net"

	"github.com/jackpal/gateway"

	"github.com/masqproject/masq-automap/automap"
)

// FindRouters returns the default gateway reachable from this host. On
// success it always returns exactly one address; spec.md §4.5 only
// requires "at least one."
func FindRouters() ([]net.IP, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, automap.CantFindDefaultGateway{Cause: err}
	}
	return []net.IP{gw}, nil
}
