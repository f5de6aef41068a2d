package pcp

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/socketio"
	"github.com/masqproject/masq-automap/automap/transactor"
	"github.com/masqproject/masq-automap/automap/wire"
)

// HolePortQueryOnly is the fixed hole_port PCP's GetPublicIP uses (spec.md
// §4.5, decision recorded in SPEC_FULL.md §12.2): a zero-lifetime MAP that
// may leave a transient mapping attempt on the router.
const HolePortQueryOnly = 0x0009

// realNonceFactory draws 12 fresh random bytes per PCP transaction
// (spec.md §8 invariant 2), using crypto/rand: a narrow, low-level
// concern the standard library already serves correctly, so no
// third-party RNG is warranted here (see DESIGN.md).
type realNonceFactory struct{}

func (realNonceFactory) MakeNonce() [12]byte {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return b
}

// NonceFactory is the production transactor.NonceFactory for PCP.
var NonceFactory transactor.NonceFactory = realNonceFactory{}

// MappingTransactor implements transactor.MappingTransactor for PCP
// (spec.md §4.3).
type MappingTransactor struct{}

// MappingTransaction performs one PCP MAP round trip.
func (MappingTransactor) MappingTransaction(factories transactor.Factories, routerAddr net.Addr, config *automap.MappingConfig) (uint32, automap.MapOpcodeData, error) {
	return mappingTransaction(factories, routerAddr, config.HolePort, config.NextLifetime, config)
}

// GetPublicIP performs a MAP with hole_port=9, lifetime=0 and returns the
// external IP (spec.md §4.5).
func (MappingTransactor) GetPublicIP(factories transactor.Factories, routerAddr net.Addr) (net.IP, error) {
	_, data, err := mappingTransaction(factories, routerAddr, HolePortQueryOnly, 0, nil)
	if err != nil {
		return nil, err
	}
	return data.ExternalIP, nil
}

func mappingTransaction(
	factories transactor.Factories,
	routerAddr net.Addr,
	holePort uint16,
	lifetime time.Duration,
	configOpt *automap.MappingConfig,
) (uint32, automap.MapOpcodeData, error) {
	sock, err := factories.SocketFactory.MakeTransactional(factories.FreePortFactory)
	if err != nil {
		return 0, automap.MapOpcodeData{}, automap.SocketBindingError{Msg: err.Error(), Addr: "0.0.0.0:0"}
	}
	defer sock.Close()

	localIP, err := factories.LocalIpFinder.FindLocalIp(routerAddr)
	if err != nil {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "could not determine local IP: " + err.Error()}
	}

	nonce := factories.NonceFactory.MakeNonce()
	lifetimeSecs := uint32(lifetime / time.Second)
	req := &wire.PcpPacket{
		Direction: wire.Request,
		Opcode:    wire.OpcodeMap,
		Lifetime:  lifetimeSecs,
		ClientIP:  localIP,
		MapData: &wire.MapOpcodeData{
			Nonce:        nonce,
			Protocol:     wire.ProtocolUDP,
			InternalPort: holePort,
			ExternalPort: holePort,
			ExternalIP:   net.IPv4zero,
		},
	}

	buf := make([]byte, wire.MinBufferSize)
	n, err := req.Marshal(buf)
	if err != nil {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "could not marshal request: " + err.Error()}
	}

	if _, err := sock.SendTo(buf[:n], routerAddr); err != nil {
		log.Warnf("send to router %s failed: %v", routerAddr, err)
		return 0, automap.MapOpcodeData{}, automap.SocketSendError{Cause: err}
	}

	if err := sock.SetReadTimeout(transactor.DefaultReadTimeout); err != nil {
		return 0, automap.MapOpcodeData{}, automap.SocketBindingError{Msg: err.Error(), Addr: routerAddr.String()}
	}

	recvBuf := make([]byte, wire.MinBufferSize)
	rn, _, err := sock.RecvFrom(recvBuf)
	if err == socketio.ErrTimedOut {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "timed out waiting for router response"}
	}
	if err != nil {
		log.Warnf("receive from router %s failed: %v", routerAddr, err)
		return 0, automap.MapOpcodeData{}, automap.SocketReceiveError{Cause: err}
	}

	resp, err := wire.TryParsePcp(recvBuf[:rn])
	if err != nil {
		log.Warnf("could not parse response from router %s: %v", routerAddr, err)
		return 0, automap.MapOpcodeData{}, automap.PacketParseError{Cause: err}
	}

	if resp.Direction != wire.Response {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "expected a response, got a request"}
	}
	if resp.Opcode != wire.OpcodeMap {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "expected a MAP response, got " + resp.Opcode.String()}
	}
	if resp.MapData == nil || resp.MapData.Nonce != nonce {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "nonce mismatch in response"}
	}
	if resp.ResultCodeOpt == nil {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "response carried no result code"}
	}

	code := *resp.ResultCodeOpt
	data := automap.MapOpcodeData{
		Nonce:        resp.MapData.Nonce,
		Protocol:     resp.MapData.Protocol.String(),
		InternalPort: resp.MapData.InternalPort,
		ExternalPort: resp.MapData.ExternalPort,
		ExternalIP:   resp.MapData.ExternalIP,
	}

	switch {
	case code == wire.ResultSuccess:
		if configOpt != nil {
			configOpt.ApplyApprovedLifetime(time.Duration(resp.Lifetime) * time.Second)
		}
		return resp.Lifetime, data, nil
	case code.IsPermanent():
		log.Warnf("permanent mapping error %s from router %s", code, routerAddr)
		return 0, automap.MapOpcodeData{}, automap.PermanentMappingError{Code: code.String()}
	default:
		log.Warnf("temporary mapping error %s from router %s", code, routerAddr)
		return 0, automap.MapOpcodeData{}, automap.TemporaryMappingError{Code: code.String()}
	}
}
