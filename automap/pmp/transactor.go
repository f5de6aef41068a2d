package pmp

import (
	"net"
	"sync"
	"time"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/housekeeping"
	"github.com/masqproject/masq-automap/automap/metrics"
	"github.com/masqproject/masq-automap/automap/routerdisc"
	"github.com/masqproject/masq-automap/automap/socketio"
	"github.com/masqproject/masq-automap/automap/transactor"
	"github.com/masqproject/masq-automap/automap/wire"
)

// Compile-time check that Transactor satisfies automap.Transactor.
var _ automap.Transactor = (*Transactor)(nil)

// Transactor is the PMP implementation of the stable facade described in
// spec.md §4.5.
type Transactor struct {
	RouterPort int
	factories  transactor.Factories
	metrics    *metrics.Collector

	mu    sync.Mutex
	state *automap.MappingState
	loop  *housekeeping.Loop
}

// NewTransactor builds a PMP Transactor with production factories and a
// disabled metrics collector. PMP has no nonce, but transactor.Factories
// requires one for the shared contract; a disabled stub satisfies the
// interface without being exercised. Use WithMetrics to attach a live
// collector.
func NewTransactor() *Transactor {
	return &Transactor{
		RouterPort: socketio.RouterPort,
		factories: transactor.Factories{
			SocketFactory:   socketio.SocketFactoryReal{},
			LocalIpFinder:   socketio.LocalIpFinderReal{},
			NonceFactory:    unusedNonceFactory{},
			FreePortFactory: socketio.FreePortFactoryReal{},
		},
		metrics: metrics.Disabled(),
	}
}

// WithMetrics attaches a shared Collector, replacing the disabled default.
func (t *Transactor) WithMetrics(c *metrics.Collector) *Transactor {
	t.metrics = c
	return t
}

type unusedNonceFactory struct{}

func (unusedNonceFactory) MakeNonce() [12]byte { return [12]byte{} }

func (t *Transactor) Protocol() string               { return "PMP" }
func (t *Transactor) SupportsPermanentMapping() bool { return false }

func (t *Transactor) FindRouters() ([]net.IP, error) {
	log.Debugf("seeking routers on LAN")
	return routerdisc.FindRouters()
}

func (t *Transactor) routerAddr(router net.IP) net.Addr {
	return &net.UDPAddr{IP: router, Port: t.RouterPort}
}

func (t *Transactor) GetPublicIP(router net.IP) (net.IP, error) {
	log.Debugf("seeking public IP from router at %s", router)
	return MappingTransactor{}.GetPublicIP(t.factories, t.routerAddr(router))
}

func (t *Transactor) AddMapping(router net.IP, holePort uint16, lifetime uint32) (uint32, error) {
	log.Debugf("adding mapping for port %d through router at %s for %d seconds", holePort, router, lifetime)
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg := &automap.MappingConfig{HolePort: holePort}
	if lifetime > 0 {
		cfg.NextLifetime = time.Duration(lifetime) * time.Second
	}
	approved, _, err := MappingTransactor{}.MappingTransaction(t.factories, t.routerAddr(router), cfg)
	if err != nil {
		return 0, err
	}
	t.state = &automap.MappingState{Config: *cfg, RouterAddr: t.routerAddr(router)}
	return approved / 2, nil
}

func (t *Transactor) AddPermanentMapping(router net.IP, holePort uint16) error {
	return automap.NotSupportedError{Operation: "AddPermanentMapping", Protocol: "PMP"}
}

func (t *Transactor) DeleteMapping(router net.IP, holePort uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cfg := &automap.MappingConfig{HolePort: holePort, NextLifetime: 0}
	_, _, err := MappingTransactor{}.MappingTransaction(t.factories, t.routerAddr(router), cfg)
	return err
}

func (t *Transactor) StartHousekeepingThread(handler automap.ChangeHandler, router net.IP) (chan<- automap.HousekeepingCommand, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loop != nil {
		return nil, automap.ChangeHandlerAlreadyRunning{}
	}
	if t.state == nil {
		return nil, automap.ChangeHandlerUnconfigured{}
	}

	announcementSocket, err := t.factories.SocketFactory.MakeAnnouncementListener(socketio.PmpAnnouncementGroup)
	if err != nil {
		return nil, automap.SocketBindingError{Msg: err.Error(), Addr: socketio.PmpAnnouncementGroup.String()}
	}

	handle := automap.NewStateHandle(t.state)
	loop := housekeeping.New(housekeeping.Config{
		AnnouncementSocket: announcementSocket,
		RouterIP:           router,
		Classify:           classifyAnnouncement,
		Remap: func(cfg *automap.MappingConfig) (net.IP, error) {
			_, _, err := MappingTransactor{}.MappingTransaction(t.factories, t.routerAddr(router), cfg)
			if err != nil {
				return nil, err
			}
			// A PMP MAP response carries no external address; ask for it.
			return MappingTransactor{}.GetPublicIP(t.factories, t.routerAddr(router))
		},
		StateHandle: handle,
		Protocol:    "PMP",
		Metrics:     t.metrics,
	}, handler)

	loop.Start()
	t.loop = loop
	return loop.CommandChan(), nil
}

func (t *Transactor) StopHousekeepingThread() automap.ChangeHandler {
	t.mu.Lock()
	loop := t.loop
	t.loop = nil
	t.state = nil
	t.mu.Unlock()

	if loop == nil {
		return automap.NullChangeHandler(log.Warnf)
	}
	return loop.Stop()
}

// classifyAnnouncement treats an inbound Get-external-address response as
// PMP's analogue of a PCP Announce (spec.md §4.4 step 1): routers that
// implement PMP's IP-change notification re-send this response
// unsolicited when the WAN IP changes.
func classifyAnnouncement(b []byte) (bool, error) {
	p, err := wire.TryParsePmp(b)
	if err != nil {
		return false, err
	}
	return p.Direction == wire.Response && p.Opcode == wire.PmpOpGetExternalAddress, nil
}
