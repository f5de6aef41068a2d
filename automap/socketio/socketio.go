// Package socketio implements the SocketIo component of spec.md §4.2: a UDP
// socket abstraction with bind/send/recv/timeout/multicast semantics. It is
// the only package in this repository that touches raw sockets; every other
// component depends on the small interfaces declared here so that tests can
// substitute fakes, per spec.md §9's "factory polymorphism" design note.
package socketio

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Default timeouts, spec.md §6.
const (
	TransactionalRecvTimeout = 3000 * time.Millisecond
	AnnouncementRecvTimeout  = 1000 * time.Millisecond
)

// PcpAnnouncementGroup and PmpAnnouncementGroup are the multicast addresses
// the housekeeping loop listens on (spec.md §4.2, §6).
var (
	PcpAnnouncementGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 1), Port: 5350}
	PmpAnnouncementGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 1), Port: 5350}
)

// RouterPort is the well-known PCP/PMP router listening port (spec.md §6).
const RouterPort = 5351

// ErrTimedOut is returned by RecvFrom when the read timeout elapses,
// kept distinct from other I/O failures per spec.md §4.2.
var ErrTimedOut = errors.New("socketio: read timed out")

// Socket is the abstraction every MappingTransactor and the housekeeping
// loop program against instead of *net.UDPConn directly.
type Socket interface {
	SendTo(b []byte, addr net.Addr) (int, error)
	RecvFrom(buf []byte) (n int, addr net.Addr, err error)
	SetReadTimeout(d time.Duration) error
	LocalAddr() net.Addr
	Close() error
}

// udpSocket adapts *net.UDPConn (and, for the multicast listener, an
// *ipv4.PacketConn layered over it) to Socket.
type udpSocket struct {
	conn *net.UDPConn
}

func (s *udpSocket) SendTo(b []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("socketio: not a UDP address: %v", addr)
	}
	return s.conn.WriteToUDP(b, udpAddr)
}

func (s *udpSocket) RecvFrom(buf []byte) (int, net.Addr, error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrTimedOut
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (s *udpSocket) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

func (s *udpSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *udpSocket) Close() error        { return s.conn.Close() }

// FreePortFactory chooses the ephemeral local port SocketFactory binds to.
// Production code lets the OS choose (port 0); tests can pin a port.
type FreePortFactory interface {
	MakeFreePort() (uint16, error)
}

// FreePortFactoryReal lets the kernel choose an ephemeral port.
type FreePortFactoryReal struct{}

func (FreePortFactoryReal) MakeFreePort() (uint16, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}

// SocketFactory binds ephemeral transactional sockets and the multicast
// announcement listener.
type SocketFactory interface {
	MakeTransactional(portFactory FreePortFactory) (Socket, error)
	MakeAnnouncementListener(group *net.UDPAddr) (Socket, error)
}

// SocketFactoryReal is the production implementation.
type SocketFactoryReal struct{}

func (SocketFactoryReal) MakeTransactional(portFactory FreePortFactory) (Socket, error) {
	port, err := portFactory.MakeFreePort()
	if err != nil {
		return nil, err
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("socketio: bind %s: %w", addr, err)
	}
	return &udpSocket{conn: conn}, nil
}

// MakeAnnouncementListener binds to group's port on all interfaces and
// joins the multicast group via golang.org/x/net/ipv4, the idiomatic way to
// request IP_ADD_MEMBERSHIP in Go without cgo.
func (SocketFactoryReal) MakeAnnouncementListener(group *net.UDPAddr) (Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: group.Port})
	if err != nil {
		return nil, fmt.Errorf("socketio: bind announcement listener on port %d: %w", group.Port, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := false
	for _, iface := range ifaces {
		if err := pconn.JoinGroup(&iface, group); err == nil {
			joined = true
		}
	}
	if !joined {
		if err := pconn.JoinGroup(nil, group); err != nil {
			conn.Close()
			return nil, fmt.Errorf("socketio: join multicast group %s: %w", group.IP, err)
		}
	}
	return &udpSocket{conn: conn}, nil
}

// LocalIpFinder resolves the LAN-facing local IP address, required by PCP
// to populate the client-IP field of a MAP request (spec.md §4.3 step 2);
// ignored by PMP.
type LocalIpFinder interface {
	FindLocalIp(routerAddr net.Addr) (net.IP, error)
}

// LocalIpFinderReal dials the router's address over UDP (no packet is
// actually sent) to let the kernel pick the outbound-facing local address,
// the standard Go idiom for this.
type LocalIpFinderReal struct{}

func (LocalIpFinderReal) FindLocalIp(routerAddr net.Addr) (net.IP, error) {
	conn, err := net.Dial("udp4", routerAddr.String())
	if err != nil {
		return nil, fmt.Errorf("socketio: could not determine local IP via %s: %w", routerAddr, err)
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
