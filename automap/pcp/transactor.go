package pcp

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

// Transactor is the PCP implementation of the stable facade described in
// spec.md §4.5.
type Transactor struct {
	RouterPort int
	factories  transactor.Factories
	metrics    *metrics.Collector

	mu    sync.Mutex
	state *automap.MappingState
	loop  *housekeeping.Loop
}

// NewTransactor builds a PCP Transactor with production factories and a
// disabled metrics collector. Use WithMetrics to attach a live one.
func NewTransactor() *Transactor {
	return &Transactor{
		RouterPort: socketio.RouterPort,
		factories: transactor.Factories{
			SocketFactory:   socketio.SocketFactoryReal{},
			LocalIpFinder:   socketio.LocalIpFinderReal{},
			NonceFactory:    NonceFactory,
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

func (t *Transactor) Protocol() string { return "PCP" }

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
		cfg.NextLifetime = secondsDuration(lifetime)
	}
	approved, _, err := MappingTransactor{}.MappingTransaction(t.factories, t.routerAddr(router), cfg)
	if err != nil {
		return 0, err
	}
	t.state = &automap.MappingState{
		Config:     *cfg,
		RouterAddr: t.routerAddr(router),
	}
	return approved / 2, nil
}

func (t *Transactor) AddPermanentMapping(router net.IP, holePort uint16) error {
	return automap.NotSupportedError{Operation: "AddPermanentMapping", Protocol: "PCP"}
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

	announcementSocket, err := t.factories.SocketFactory.MakeAnnouncementListener(socketio.PcpAnnouncementGroup)
	if err != nil {
		return nil, automap.SocketBindingError{Msg: err.Error(), Addr: socketio.PcpAnnouncementGroup.String()}
	}

	state := t.state
	handle := automap.NewStateHandle(state)

	loop := housekeeping.New(housekeeping.Config{
		AnnouncementSocket: announcementSocket,
		RouterIP:           router,
		Classify:           classifyAnnouncement,
		Remap: func(cfg *automap.MappingConfig) (net.IP, error) {
			_, data, err := MappingTransactor{}.MappingTransaction(t.factories, t.routerAddr(router), cfg)
			if err != nil {
				return nil, err
			}
			return data.ExternalIP, nil
		},
		StateHandle: handle,
		Protocol:    "PCP",
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

func classifyAnnouncement(b []byte) (bool, error) {
	p, err := wire.TryParsePcp(b)
	if err != nil {
		return false, err
	}
	return p.Direction == wire.Response && p.Opcode == wire.OpcodeAnnounce, nil
}

func secondsDuration(secs uint32) time.Duration {
	return time.Duration(secs) * time.Second
}
