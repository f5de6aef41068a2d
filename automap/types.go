package automap

import (
	"net"
	"sync"
	"time"
)

// MappingConfig is mutable, owned by a Transactor facade and shared by
// reference with its housekeeping goroutine under stateHandle's mutex.
// Invariant: after any successful mapping transaction, RemapInterval <=
// NextLifetime/2 + epsilon (spec.md §3), unless RemapIntervalOverridden is
// set, in which case an explicit operator override takes precedence (see
// SPEC_FULL.md §12.1).
type MappingConfig struct {
	HolePort                uint16
	NextLifetime            time.Duration
	RemapInterval           time.Duration
	RemapIntervalOverridden bool
}

// ApplyApprovedLifetime updates NextLifetime/RemapInterval after a
// successful mapping transaction, honoring a sticky RemapIntervalOverridden
// flag per the decision recorded in SPEC_FULL.md §12.1.
func (c *MappingConfig) ApplyApprovedLifetime(approved time.Duration) {
	c.NextLifetime = approved
	if !c.RemapIntervalOverridden {
		c.RemapInterval = approved / 2
	}
}

// SetRemapIntervalOverride installs an operator-supplied remap interval
// that future successful remaps will not silently revert.
func (c *MappingConfig) SetRemapIntervalOverride(d time.Duration) {
	c.RemapInterval = d
	c.RemapIntervalOverridden = true
}

// MapOpcodeData is the protocol-agnostic view of a negotiated mapping
// returned by a MappingTransactor, per spec.md §3. Nonce is PCP-only and
// is the zero value for PMP/UPnP.
type MapOpcodeData struct {
	Nonce        [12]byte
	Protocol     string // "TCP" or "UDP"
	InternalPort uint16
	ExternalPort uint16
	ExternalIP   net.IP
}

// ChangeKind distinguishes the two notifications a ChangeHandler receives.
type ChangeKind int

const (
	// ChangeNewIP reports a successfully observed or renewed external IP.
	ChangeNewIP ChangeKind = iota
	// ChangeError reports a failure encountered while maintaining the
	// mapping; the housekeeping loop stays alive regardless.
	ChangeError
)

// AutomapChange is the payload delivered to a ChangeHandler.
type AutomapChange struct {
	Kind  ChangeKind
	NewIP net.IP
	Err   error
}

// ChangeHandler receives NewIP/Error notifications from the housekeeping
// loop. It is owned by the housekeeping goroutine while running and
// surrendered back to the caller on StopHousekeepingThread.
type ChangeHandler func(AutomapChange)

// NullChangeHandler is substituted by stopHousekeepingThread when the
// housekeeper has died or its channel is broken; it logs and discards.
func NullChangeHandler(logf func(format string, args ...interface{})) ChangeHandler {
	return func(change AutomapChange) {
		logf("discarding change notification from a dead housekeeper: %+v", change)
	}
}

// HousekeepingCommand is sent over the lossless MPSC command channel that
// every housekeeping loop polls once per iteration.
type HousekeepingCommand struct {
	Stop              bool
	SetRemapIntervalMs *uint32
}

// MappingState is process-wide and lives for the life of a Transactor. It is
// created on first successful AddMapping and destroyed by
// StopHousekeepingThread.
type MappingState struct {
	mu sync.Mutex

	Config        MappingConfig
	RouterAddr    net.Addr
	ChangeHandler ChangeHandler
	LastRemapped  time.Time

	cmdTx  chan<- HousekeepingCommand
	done   <-chan ChangeHandler
	active bool
}

// StateHandle exposes only WithState so that callers can never hold the
// mutex across a suspension point other than the bounded transaction call
// itself (spec.md §9's design note).
type StateHandle struct {
	state *MappingState
}

// NewStateHandle wraps state for locked access.
func NewStateHandle(state *MappingState) StateHandle {
	return StateHandle{state: state}
}

// WithState runs fn with the state mutex held, returning fn's error.
func (h StateHandle) WithState(fn func(*MappingState) error) error {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return fn(h.state)
}

// Transactor is the stable per-protocol operation surface described in
// spec.md §4.5. PCP, PMP, and the supplemental UPnP path (SPEC_FULL.md §10)
// all implement it.
type Transactor interface {
	Protocol() string
	FindRouters() ([]net.IP, error)
	GetPublicIP(router net.IP) (net.IP, error)
	AddMapping(router net.IP, holePort uint16, lifetime uint32) (halfLifetimeSecs uint32, err error)
	AddPermanentMapping(router net.IP, holePort uint16) error
	DeleteMapping(router net.IP, holePort uint16) error
	StartHousekeepingThread(handler ChangeHandler, router net.IP) (chan<- HousekeepingCommand, error)
	StopHousekeepingThread() ChangeHandler
	// SupportsPermanentMapping distinguishes protocols whose mappings can
	// be requested with an effectively unbounded lifetime (UPnP/IGD) from
	// PCP/PMP, which always fail AddPermanentMapping (SPEC_FULL.md §10).
	SupportsPermanentMapping() bool
}
