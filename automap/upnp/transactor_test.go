package upnp

import (
	"errors"
	"net"
	"testing"

	"github.com/masqproject/masq-automap/automap"
)

type fakeMapper struct {
	forwardErr error
	ips        []net.IP // successive GetPublicIP results
	calls      int
}

func (f *fakeMapper) AddPermanentMapping(net.IP, uint16) error { return f.forwardErr }

func (f *fakeMapper) GetPublicIP(net.IP) (net.IP, error) {
	if f.calls >= len(f.ips) {
		return f.ips[len(f.ips)-1], nil
	}
	ip := f.ips[f.calls]
	f.calls++
	return ip, nil
}

func TestRemapLoopReportsOnlyOnIPChange(t *testing.T) {
	m := &fakeMapper{ips: []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}}
	changes := make(chan automap.AutomapChange, 8)
	loop := newRemapLoop(m, net.ParseIP("192.168.1.1"), 6666, nil, func(c automap.AutomapChange) { changes <- c })

	loop.remapOnce()
	loop.remapOnce()
	loop.remapOnce()

	var got []automap.AutomapChange
	for len(changes) > 0 {
		got = append(got, <-changes)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reported changes (first observation + the IP flip), got %d: %+v", len(got), got)
	}
	if !got[1].NewIP.Equal(net.ParseIP("2.2.2.2")) {
		t.Errorf("expected the second reported change to carry 2.2.2.2, got %v", got[1].NewIP)
	}
}

func TestRemapLoopSurfacesForwardFailureAsChangeError(t *testing.T) {
	m := &fakeMapper{forwardErr: errors.New("igd rejected forward"), ips: []net.IP{net.ParseIP("1.1.1.1")}}
	changes := make(chan automap.AutomapChange, 8)
	loop := newRemapLoop(m, net.ParseIP("192.168.1.1"), 6666, nil, func(c automap.AutomapChange) { changes <- c })

	loop.remapOnce()

	change := <-changes
	if change.Kind != automap.ChangeError {
		t.Fatalf("expected ChangeError, got %+v", change)
	}
}

func TestStopReturnsHandlerWithoutLeakingGoroutine(t *testing.T) {
	m := &fakeMapper{ips: []net.IP{net.ParseIP("1.1.1.1")}}
	called := false
	loop := newRemapLoop(m, net.ParseIP("192.168.1.1"), 6666, nil, func(automap.AutomapChange) { called = true })
	loop.start()

	handler := loop.stop()
	if handler == nil {
		t.Fatal("expected a non-nil ChangeHandler back from stop")
	}
	handler(automap.AutomapChange{Kind: automap.ChangeNewIP, NewIP: net.ParseIP("3.3.3.3")})
	if !called {
		t.Error("expected the returned handler to be the loop's original handler")
	}

	select {
	case <-loop.quit:
	default:
	}
}
