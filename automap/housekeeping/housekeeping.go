// Package housekeeping implements the HousekeepingLoop component of spec.md
// §4.4: the long-lived task that listens for router announcements, renews
// the mapping on a timer, and drains a command channel, all from a single
// goroutine per running Transactor. The goroutine/quit-channel/WaitGroup
// shape follows github.com/decred/dcrlnd's routing/chainview DcrdFilteredChainView,
// which runs an analogous single-consumer event loop over a notification
// socket and a request channel.
package housekeeping

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/metrics"
	"github.com/masqproject/masq-automap/automap/socketio"
)

// State names the five states of spec.md §4.4's state machine, exposed for
// tests and introspection (e.g. a setup-reporter status surface).
type State int

const (
	Listening State = iota
	HandlingAnnouncement
	Remapping
	ProcessingCommand
	Stopped
)

func (s State) String() string {
	switch s {
	case Listening:
		return "Listening"
	case HandlingAnnouncement:
		return "HandlingAnnouncement"
	case Remapping:
		return "Remapping"
	case ProcessingCommand:
		return "ProcessingCommand"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// RemapFunc performs one full mapping renewal using the protocol-specific
// MappingTransactor, mutating cfg in place on success (ApplyApprovedLifetime)
// and returning the router's newly observed external IP.
type RemapFunc func(cfg *automap.MappingConfig) (net.IP, error)

// AnnouncementClassifier reports whether an inbound datagram is a PCP
// Announce or a PMP Get-external-address response worth triggering a
// remap over (spec.md §4.4 step 1). A parse failure is returned as err and
// logged by the loop at ERROR level per spec.md §7; it is never fatal.
type AnnouncementClassifier func(b []byte) (isAnnouncement bool, err error)

// Config bundles everything one Loop needs. RouterIP gates inbound
// datagrams: anything from another source is discarded before any side
// effect, per spec.md §5's ordering guarantee and invariant 3.
type Config struct {
	AnnouncementSocket  socketio.Socket
	RouterIP            net.IP
	Classify            AnnouncementClassifier
	Remap               RemapFunc
	StateHandle         automap.StateHandle
	AnnouncementTimeout time.Duration

	// Protocol labels Metrics observations ("PCP" or "PMP"). Metrics may be
	// left nil; a disabled Collector is substituted by New.
	Protocol string
	Metrics  *metrics.Collector
}

// Loop is one running housekeeping task. Exactly one exists per running
// Transactor (spec.md §5).
type Loop struct {
	cfg Config

	changeHandler automap.ChangeHandler // owned exclusively by the loop goroutine

	cmdCh  chan automap.HousekeepingCommand
	doneCh chan automap.ChangeHandler

	quit    chan struct{}
	wg      sync.WaitGroup
	started int32
	state   int32 // State, accessed atomically for introspection only

	remapLimiter *rate.Limiter
}

// New constructs a Loop. It does not start the goroutine; call Start.
func New(cfg Config, initialHandler automap.ChangeHandler) *Loop {
	if cfg.AnnouncementTimeout == 0 {
		cfg.AnnouncementTimeout = socketio.AnnouncementRecvTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Disabled()
	}
	return &Loop{
		cfg:           cfg,
		changeHandler: initialHandler,
		cmdCh:         make(chan automap.HousekeepingCommand, 8),
		doneCh:        make(chan automap.ChangeHandler, 1),
		quit:          make(chan struct{}),
		// A burst of 1 refilled once per second caps remap attempts,
		// whatever their outcome, at one per second; an attempt over the
		// cap is skipped. This keeps a router stuck returning
		// NoResources/NetworkFailure from being hammered every iteration.
		remapLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// CommandChan returns the channel StartHousekeepingThread hands back to the
// caller as the command sender (spec.md §4.5).
func (l *Loop) CommandChan() chan<- automap.HousekeepingCommand { return l.cmdCh }

// CurrentState reports the loop's current state, for tests/introspection.
func (l *Loop) CurrentState() State { return State(atomic.LoadInt32(&l.state)) }

func (l *Loop) setState(s State) { atomic.StoreInt32(&l.state, int32(s)) }

// Start launches the housekeeping goroutine.
func (l *Loop) Start() {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return
	}
	l.setState(Listening)
	l.wg.Add(1)
	go l.run()
}

// Stop sends a Stop command and blocks until the loop goroutine has
// surrendered the change handler. If the goroutine is already dead (e.g.
// panicked), a null handler is substituted and the discard is logged at
// WARN, per spec.md §4.4's cancellation semantics.
func (l *Loop) Stop() automap.ChangeHandler {
	select {
	case l.cmdCh <- automap.HousekeepingCommand{Stop: true}:
	case <-time.After(5 * time.Second):
		log.Warnf("housekeeper command channel appears broken; forcing stop")
		close(l.quit)
	}

	select {
	case handler := <-l.doneCh:
		l.wg.Wait()
		return handler
	case <-time.After(DefaultStopWait):
		log.Warnf("housekeeper did not acknowledge stop in time; returning a null handler")
		close(l.quit)
		l.wg.Wait()
		return automap.NullChangeHandler(log.Warnf)
	}
}

// DefaultStopWait bounds how long Stop waits for the loop to acknowledge
// before giving up and substituting a null handler.
const DefaultStopWait = 10 * time.Second

func (l *Loop) run() {
	defer l.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("housekeeping loop panicked: %v", r)
			select {
			case l.doneCh <- automap.NullChangeHandler(log.Warnf):
			default:
			}
		}
	}()

	buf := make([]byte, 1500)
	for {
		select {
		case <-l.quit:
			l.setState(Stopped)
			return
		default:
		}

		// Step 1: bounded-timeout receive of an announcement.
		l.cfg.AnnouncementSocket.SetReadTimeout(l.cfg.AnnouncementTimeout)
		n, addr, err := l.cfg.AnnouncementSocket.RecvFrom(buf)
		switch {
		case err == socketio.ErrTimedOut:
			// continue to remap check
		case err != nil:
			log.Errorf("announcement socket error: %v", err)
		default:
			l.handleDatagram(buf[:n], addr)
		}

		// Step 2: renew the mapping if the interval has elapsed.
		l.maybeRemap()

		// Step 3: drain at most one command, non-blocking.
		if l.processCommand() {
			l.setState(Stopped)
			return
		}
	}
}

func (l *Loop) handleDatagram(b []byte, addr net.Addr) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || !udpAddr.IP.Equal(l.cfg.RouterIP) {
		// Foreign source: spec.md invariant 3, discard before any side
		// effect.
		return
	}
	isAnnouncement, err := l.cfg.Classify(b)
	if err != nil {
		log.Errorf("could not parse inbound datagram from router: %v", err)
		return
	}
	if !isAnnouncement {
		return
	}
	l.setState(HandlingAnnouncement)
	l.doRemap()
}

func (l *Loop) maybeRemap() {
	due := false
	_ = l.cfg.StateHandle.WithState(func(s *automap.MappingState) error {
		if time.Since(s.LastRemapped) > s.Config.RemapInterval {
			due = true
		}
		return nil
	})
	if !due {
		return
	}
	l.setState(Remapping)
	l.doRemap()
}

func (l *Loop) doRemap() {
	if !l.remapLimiter.Allow() {
		return
	}
	var newIP net.IP
	err := l.cfg.StateHandle.WithState(func(s *automap.MappingState) error {
		s.Config.NextLifetime = clamp(s.Config.NextLifetime)
		ip, rerr := l.cfg.Remap(&s.Config)
		s.LastRemapped = time.Now()
		if rerr != nil {
			return rerr
		}
		newIP = ip
		return nil
	})
	l.cfg.Metrics.ObserveChange(l.cfg.Protocol, newIP != nil, err)
	if err != nil {
		l.changeHandler(automap.AutomapChange{Kind: automap.ChangeError, Err: err})
		return
	}
	l.changeHandler(automap.AutomapChange{Kind: automap.ChangeNewIP, NewIP: newIP})
}

func clamp(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

// processCommand drains at most one pending command and reports whether
// the loop should stop.
func (l *Loop) processCommand() bool {
	select {
	case cmd := <-l.cmdCh:
		l.setState(ProcessingCommand)
		if cmd.Stop {
			l.doneCh <- l.changeHandler
			return true
		}
		if cmd.SetRemapIntervalMs != nil {
			ms := *cmd.SetRemapIntervalMs
			_ = l.cfg.StateHandle.WithState(func(s *automap.MappingState) error {
				s.Config.SetRemapIntervalOverride(time.Duration(ms) * time.Millisecond)
				return nil
			})
		}
		return false
	default:
		return false
	}
}
