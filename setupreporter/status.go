// Package setupreporter names the seam between the automap core and the
// (unimplemented) daemon setup reporter: a plain status struct the
// automap core can be asked to fill in.
package setupreporter

import "net"

// AutomapStatus summarizes one Transactor's current port-mapping state
// for display in the daemon's setup report.
type AutomapStatus struct {
	LastChange     AutomapChange
	CurrentMapping *CurrentMapping
}

// AutomapChange mirrors automap.AutomapChange's observable shape without
// importing the automap package, keeping this seam a plain data type.
type AutomapChange struct {
	Kind  string
	NewIP net.IP
	Err   error
}

// CurrentMapping is the router/port pair last successfully mapped.
type CurrentMapping struct {
	Router   net.IP
	HolePort uint16
}
