// Package upnp implements the UPnP/IGD transactor facade described in
// SPEC_FULL.md §10: a third port-mapping family, supplemental to the PCP
// and PMP protocols spec.md names explicitly, sharing the same
// automap.Transactor interface. Unlike PCP/PMP it speaks SOAP/HTTP to the
// gateway rather than a fixed-layout UDP datagram, via
// github.com/NebulousLabs/go-upnp, so there is no wire package here.
package upnp

import (
	"net"
	"sync"
	"time"

	nlupnp "github.com/NebulousLabs/go-upnp"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/metrics"
)

// Compile-time check that Transactor satisfies automap.Transactor.
var _ automap.Transactor = (*Transactor)(nil)

// Transactor is the UPnP/IGD implementation of the stable facade described
// in spec.md §4.5, extended per SPEC_FULL.md §10 to support permanent
// mappings (IGD leases have no required expiry).
type Transactor struct {
	mu       sync.Mutex
	igd      *nlupnp.IGD
	holePort uint16
	mapped   bool
	loop     *remapLoop
	metrics  *metrics.Collector
}

// NewTransactor builds an unconnected UPnP Transactor with a disabled
// metrics collector. FindRouters (or the first mapping call) performs the
// actual IGD discovery. Use WithMetrics to attach a live collector.
func NewTransactor() *Transactor {
	return &Transactor{metrics: metrics.Disabled()}
}

// WithMetrics attaches a shared Collector, replacing the disabled default.
func (t *Transactor) WithMetrics(c *metrics.Collector) *Transactor {
	t.metrics = c
	return t
}

func (t *Transactor) Protocol() string               { return "UPnP" }
func (t *Transactor) SupportsPermanentMapping() bool { return true }

func (t *Transactor) discover() (*nlupnp.IGD, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.igd != nil {
		return t.igd, nil
	}
	igd, err := nlupnp.Discover()
	if err != nil {
		return nil, automap.CantFindDefaultGateway{Cause: err}
	}
	t.igd = igd
	return igd, nil
}

// FindRouters resolves the discovered IGD's control-point host. Like
// routerdisc.FindRouters used by PCP/PMP, it returns a single address.
func (t *Transactor) FindRouters() ([]net.IP, error) {
	igd, err := t.discover()
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(igd.Location())
	if err != nil {
		host = igd.Location()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, automap.ProtocolError{Reason: "IGD location did not carry a parseable host: " + igd.Location()}
	}
	return []net.IP{ip}, nil
}

func (t *Transactor) GetPublicIP(router net.IP) (net.IP, error) {
	igd, err := t.discover()
	if err != nil {
		return nil, err
	}
	addr, err := igd.ExternalIP()
	if err != nil {
		return nil, automap.TemporaryMappingError{Code: err.Error()}
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, automap.ProtocolError{Reason: "IGD returned an unparseable external IP: " + addr}
	}
	return ip, nil
}

// AddMapping forwards holePort through the IGD. UPnP leases are permanent
// by construction (no PCP/PMP-style approved lifetime is negotiated), so the
// returned value is always 0, signalling "no expiry" to callers that branch
// on spec.md §4.5's half-lifetime remap convention.
func (t *Transactor) AddMapping(router net.IP, holePort uint16, lifetime uint32) (uint32, error) {
	if err := t.AddPermanentMapping(router, holePort); err != nil {
		return 0, err
	}
	return 0, nil
}

func (t *Transactor) AddPermanentMapping(router net.IP, holePort uint16) error {
	igd, err := t.discover()
	if err != nil {
		return err
	}
	if err := igd.Forward(holePort, "masq-automap"); err != nil {
		return automap.TemporaryMappingError{Code: err.Error()}
	}
	t.mu.Lock()
	t.holePort = holePort
	t.mapped = true
	t.mu.Unlock()
	return nil
}

func (t *Transactor) DeleteMapping(router net.IP, holePort uint16) error {
	igd, err := t.discover()
	if err != nil {
		return err
	}
	if err := igd.Clear(holePort); err != nil {
		return automap.TemporaryMappingError{Code: err.Error()}
	}
	return nil
}

// StartHousekeepingThread launches a plain interval timer goroutine in
// place of PCP/PMP's announcement-driven Loop (SPEC_FULL.md §10: IGD has no
// datagram announcement this repo parses). It re-forwards the mapping on
// each tick and reports the first observed external IP, then a change only
// when that IP moves.
func (t *Transactor) StartHousekeepingThread(handler automap.ChangeHandler, router net.IP) (chan<- automap.HousekeepingCommand, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loop != nil {
		return nil, automap.ChangeHandlerAlreadyRunning{}
	}
	if t.igd == nil || !t.mapped {
		return nil, automap.ChangeHandlerUnconfigured{}
	}

	loop := newRemapLoop(remapTarget{t}, router, t.holePort, t.metrics, handler)
	loop.start()
	t.loop = loop
	return loop.cmdCh, nil
}

// remapTarget adapts *Transactor to the mapper interface remapLoop depends
// on, so tests can substitute a fake without a live IGD.
type remapTarget struct{ t *Transactor }

func (r remapTarget) AddPermanentMapping(router net.IP, holePort uint16) error {
	return r.t.AddPermanentMapping(router, holePort)
}

func (r remapTarget) GetPublicIP(router net.IP) (net.IP, error) {
	return r.t.GetPublicIP(router)
}

func (t *Transactor) StopHousekeepingThread() automap.ChangeHandler {
	t.mu.Lock()
	loop := t.loop
	t.loop = nil
	t.mu.Unlock()

	if loop == nil {
		return automap.NullChangeHandler(log.Warnf)
	}
	return loop.stop()
}

// mapper is the slice of Transactor's behavior the remap loop needs. Tests
// substitute a fake; production use is always remapTarget wrapping the
// real *Transactor and its live IGD.
type mapper interface {
	AddPermanentMapping(router net.IP, holePort uint16) error
	GetPublicIP(router net.IP) (net.IP, error)
}

type remapLoop struct {
	m        mapper
	router   net.IP
	holePort uint16
	interval time.Duration
	metrics  *metrics.Collector

	changeHandler automap.ChangeHandler
	lastIP        net.IP

	cmdCh  chan automap.HousekeepingCommand
	doneCh chan automap.ChangeHandler
	quit   chan struct{}
	wg     sync.WaitGroup
}

func newRemapLoop(m mapper, router net.IP, holePort uint16, collector *metrics.Collector, handler automap.ChangeHandler) *remapLoop {
	if collector == nil {
		collector = metrics.Disabled()
	}
	return &remapLoop{
		m:             m,
		router:        router,
		holePort:      holePort,
		interval:      time.Hour,
		metrics:       collector,
		changeHandler: handler,
		cmdCh:         make(chan automap.HousekeepingCommand, 8),
		doneCh:        make(chan automap.ChangeHandler, 1),
		quit:          make(chan struct{}),
	}
}

func (l *remapLoop) start() {
	l.wg.Add(1)
	go l.run()
}

func (l *remapLoop) stop() automap.ChangeHandler {
	select {
	case l.cmdCh <- automap.HousekeepingCommand{Stop: true}:
	case <-time.After(5 * time.Second):
		close(l.quit)
	}
	select {
	case handler := <-l.doneCh:
		l.wg.Wait()
		return handler
	case <-time.After(10 * time.Second):
		close(l.quit)
		l.wg.Wait()
		return automap.NullChangeHandler(log.Warnf)
	}
}

func (l *remapLoop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			return
		case cmd := <-l.cmdCh:
			if cmd.Stop {
				l.doneCh <- l.changeHandler
				return
			}
			if cmd.SetRemapIntervalMs != nil {
				ticker.Reset(time.Duration(*cmd.SetRemapIntervalMs) * time.Millisecond)
			}
		case <-ticker.C:
			l.remapOnce()
		}
	}
}

func (l *remapLoop) remapOnce() {
	if err := l.m.AddPermanentMapping(l.router, l.holePort); err != nil {
		l.metrics.ObserveChange("UPnP", false, err)
		l.changeHandler(automap.AutomapChange{Kind: automap.ChangeError, Err: err})
		return
	}
	ip, err := l.m.GetPublicIP(l.router)
	if err != nil {
		l.metrics.ObserveChange("UPnP", false, err)
		l.changeHandler(automap.AutomapChange{Kind: automap.ChangeError, Err: err})
		return
	}
	changed := l.lastIP == nil || !l.lastIP.Equal(ip)
	l.metrics.ObserveChange("UPnP", changed, nil)
	if !changed {
		return
	}
	l.lastIP = ip
	l.changeHandler(automap.AutomapChange{Kind: automap.ChangeNewIP, NewIP: ip})
}
