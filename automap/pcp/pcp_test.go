package pcp

import (
	"net"
	"testing"
	"time"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/socketio"
	"github.com/masqproject/masq-automap/automap/transactor"
	"github.com/masqproject/masq-automap/automap/wire"
)

type fakeSocket struct {
	sent     [][]byte
	response []byte
	closed   bool
}

func (f *fakeSocket) SendTo(b []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeSocket) RecvFrom(buf []byte) (int, net.Addr, error) {
	if f.response == nil {
		return 0, nil, socketio.ErrTimedOut
	}
	n := copy(buf, f.response)
	return n, &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 5351}, nil
}

func (f *fakeSocket) SetReadTimeout(d time.Duration) error { return nil }
func (f *fakeSocket) LocalAddr() net.Addr                  { return &net.UDPAddr{Port: 54000} }
func (f *fakeSocket) Close() error                          { f.closed = true; return nil }

type fakeSocketFactory struct {
	sock *fakeSocket
}

func (f *fakeSocketFactory) MakeTransactional(socketio.FreePortFactory) (socketio.Socket, error) {
	return f.sock, nil
}

func (f *fakeSocketFactory) MakeAnnouncementListener(*net.UDPAddr) (socketio.Socket, error) {
	return f.sock, nil
}

type fakeLocalIpFinder struct{}

func (fakeLocalIpFinder) FindLocalIp(net.Addr) (net.IP, error) {
	return net.ParseIP("192.168.1.10"), nil
}

type fakeNonceFactory struct {
	nonce [12]byte
}

func (f fakeNonceFactory) MakeNonce() [12]byte { return f.nonce }

type fakeFreePortFactory struct{}

func (fakeFreePortFactory) MakeFreePort() (uint16, error) { return 54000, nil }

func buildResponse(t *testing.T, nonce [12]byte, code wire.ResultCode, lifetime uint32, externalIP net.IP) []byte {
	t.Helper()
	p := &wire.PcpPacket{
		Direction:     wire.Response,
		Opcode:        wire.OpcodeMap,
		Lifetime:      lifetime,
		ResultCodeOpt: &code,
		MapData: &wire.MapOpcodeData{
			Nonce:        nonce,
			Protocol:     wire.ProtocolUDP,
			InternalPort: 6666,
			ExternalPort: 6666,
			ExternalIP:   externalIP,
		},
	}
	buf := make([]byte, wire.MinBufferSize)
	n, err := p.Marshal(buf)
	if err != nil {
		t.Fatalf("could not build fake response: %v", err)
	}
	return buf[:n]
}

func TestHappyPcpMap(t *testing.T) {
	// Scenario 1 from spec.md §8.
	nonce := [12]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	sock := &fakeSocket{response: buildResponse(t, nonce, wire.ResultSuccess, 8000, net.ParseIP("72.73.74.75"))}
	factories := transactor.Factories{
		SocketFactory:   &fakeSocketFactory{sock: sock},
		LocalIpFinder:   fakeLocalIpFinder{},
		NonceFactory:    fakeNonceFactory{nonce: nonce},
		FreePortFactory: fakeFreePortFactory{},
	}

	cfg := &automap.MappingConfig{HolePort: 6666, NextLifetime: 10000 * time.Second}
	routerAddr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: socketio.RouterPort}

	approved, data, err := MappingTransactor{}.MappingTransaction(factories, routerAddr, cfg)
	if err != nil {
		t.Fatalf("MappingTransaction failed: %v", err)
	}
	if approved != 8000 {
		t.Errorf("expected approved lifetime 8000, got %d", approved)
	}
	if !data.ExternalIP.Equal(net.ParseIP("72.73.74.75")) {
		t.Errorf("expected external IP 72.73.74.75, got %v", data.ExternalIP)
	}
	if cfg.NextLifetime != 8000*time.Second {
		t.Errorf("expected NextLifetime 8000s, got %v", cfg.NextLifetime)
	}
	if cfg.RemapInterval != 4000*time.Second {
		t.Errorf("expected RemapInterval 4000s, got %v", cfg.RemapInterval)
	}
}

func TestPermanentFailureLeavesConfigUnchanged(t *testing.T) {
	// Scenario 2 from spec.md §8: router returns AddressMismatch.
	nonce := [12]byte{1}
	sock := &fakeSocket{response: buildResponse(t, nonce, wire.ResultAddressMismatch, 0, net.IPv4zero)}
	factories := transactor.Factories{
		SocketFactory:   &fakeSocketFactory{sock: sock},
		LocalIpFinder:   fakeLocalIpFinder{},
		NonceFactory:    fakeNonceFactory{nonce: nonce},
		FreePortFactory: fakeFreePortFactory{},
	}

	original := automap.MappingConfig{HolePort: 6666, NextLifetime: 10000 * time.Second, RemapInterval: time.Hour}
	cfg := original
	routerAddr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: socketio.RouterPort}

	_, _, err := MappingTransactor{}.MappingTransaction(factories, routerAddr, &cfg)
	pme, ok := err.(automap.PermanentMappingError)
	if !ok {
		t.Fatalf("expected PermanentMappingError, got %T: %v", err, err)
	}
	if pme.Code != "AddressMismatch" {
		t.Errorf("expected AddressMismatch code, got %q", pme.Code)
	}
	if cfg != original {
		t.Errorf("MappingConfig should be unchanged on permanent failure: got %+v want %+v", cfg, original)
	}
}

func TestNonceMismatchIsProtocolError(t *testing.T) {
	requestNonce := [12]byte{1, 2, 3}
	responseNonce := [12]byte{9, 9, 9}
	sock := &fakeSocket{response: buildResponse(t, responseNonce, wire.ResultSuccess, 1000, net.IPv4zero)}
	factories := transactor.Factories{
		SocketFactory:   &fakeSocketFactory{sock: sock},
		LocalIpFinder:   fakeLocalIpFinder{},
		NonceFactory:    fakeNonceFactory{nonce: requestNonce},
		FreePortFactory: fakeFreePortFactory{},
	}
	cfg := &automap.MappingConfig{HolePort: 6666}
	routerAddr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: socketio.RouterPort}

	_, _, err := MappingTransactor{}.MappingTransaction(factories, routerAddr, cfg)
	if _, ok := err.(automap.ProtocolError); !ok {
		t.Fatalf("expected ProtocolError on nonce mismatch, got %T: %v", err, err)
	}
}

func TestClassifyAnnouncementAcceptsResponseDirectionAnnounce(t *testing.T) {
	p := &wire.PcpPacket{
		Direction: wire.Response,
		Opcode:    wire.OpcodeAnnounce,
		Epoch:     1234,
	}
	buf := make([]byte, wire.MinBufferSize)
	n, err := p.Marshal(buf)
	if err != nil {
		t.Fatalf("could not build announce packet: %v", err)
	}
	ok, err := classifyAnnouncement(buf[:n])
	if err != nil {
		t.Fatalf("classifyAnnouncement returned error: %v", err)
	}
	if !ok {
		t.Errorf("expected a Response-direction Announce to classify as an announcement")
	}
}

func TestClassifyAnnouncementRejectsRequestDirection(t *testing.T) {
	p := &wire.PcpPacket{
		Direction: wire.Request,
		Opcode:    wire.OpcodeAnnounce,
		ClientIP:  net.ParseIP("192.168.1.10"),
	}
	buf := make([]byte, wire.MinBufferSize)
	n, err := p.Marshal(buf)
	if err != nil {
		t.Fatalf("could not build announce packet: %v", err)
	}
	ok, err := classifyAnnouncement(buf[:n])
	if err != nil {
		t.Fatalf("classifyAnnouncement returned error: %v", err)
	}
	if ok {
		t.Errorf("a Request-direction Announce must not classify as an unsolicited announcement")
	}
}

func TestTimeoutSurfacesAsProtocolError(t *testing.T) {
	sock := &fakeSocket{response: nil}
	factories := transactor.Factories{
		SocketFactory:   &fakeSocketFactory{sock: sock},
		LocalIpFinder:   fakeLocalIpFinder{},
		NonceFactory:    fakeNonceFactory{},
		FreePortFactory: fakeFreePortFactory{},
	}
	cfg := &automap.MappingConfig{HolePort: 6666}
	routerAddr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: socketio.RouterPort}

	_, _, err := MappingTransactor{}.MappingTransaction(factories, routerAddr, cfg)
	if _, ok := err.(automap.ProtocolError); !ok {
		t.Fatalf("expected ProtocolError on timeout, got %T: %v", err, err)
	}
}
