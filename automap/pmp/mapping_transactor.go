package pmp

import (
	"net"
	"time"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/socketio"
	"github.com/masqproject/masq-automap/automap/transactor"
	"github.com/masqproject/masq-automap/automap/wire"
)

// MappingTransactor implements transactor.MappingTransactor for PMP
// (spec.md §4.3). PMP carries no nonce and ignores LocalIpFinder (spec.md
// §4.3 step 2: "required by PCP; ignored by PMP").
type MappingTransactor struct{}

// MappingTransaction performs one PMP MAP-UDP round trip.
func (MappingTransactor) MappingTransaction(factories transactor.Factories, routerAddr net.Addr, config *automap.MappingConfig) (uint32, automap.MapOpcodeData, error) {
	return mapTransaction(factories, routerAddr, config.HolePort, config.NextLifetime, config)
}

// GetPublicIP issues PMP's dedicated Get-external-address opcode, leaving
// no mapping on the router at all (SPEC_FULL.md §12.2 decision).
func (MappingTransactor) GetPublicIP(factories transactor.Factories, routerAddr net.Addr) (net.IP, error) {
	sock, err := factories.SocketFactory.MakeTransactional(factories.FreePortFactory)
	if err != nil {
		return nil, automap.SocketBindingError{Msg: err.Error(), Addr: "0.0.0.0:0"}
	}
	defer sock.Close()

	req := &wire.PmpPacket{Direction: wire.Request, Opcode: wire.PmpOpGetExternalAddress}
	buf := make([]byte, wire.MinBufferSize)
	n, err := req.Marshal(buf)
	if err != nil {
		return nil, automap.ProtocolError{Reason: "could not marshal request: " + err.Error()}
	}
	if _, err := sock.SendTo(buf[:n], routerAddr); err != nil {
		log.Warnf("send to router %s failed: %v", routerAddr, err)
		return nil, automap.SocketSendError{Cause: err}
	}
	if err := sock.SetReadTimeout(transactor.DefaultReadTimeout); err != nil {
		return nil, automap.SocketBindingError{Msg: err.Error(), Addr: routerAddr.String()}
	}

	recvBuf := make([]byte, wire.MinBufferSize)
	rn, _, err := sock.RecvFrom(recvBuf)
	if err == socketio.ErrTimedOut {
		return nil, automap.ProtocolError{Reason: "timed out waiting for router response"}
	}
	if err != nil {
		log.Warnf("receive from router %s failed: %v", routerAddr, err)
		return nil, automap.SocketReceiveError{Cause: err}
	}

	resp, err := wire.TryParsePmp(recvBuf[:rn])
	if err != nil {
		log.Warnf("could not parse response from router %s: %v", routerAddr, err)
		return nil, automap.PacketParseError{Cause: err}
	}
	if resp.Direction != wire.Response || resp.Opcode != wire.PmpOpGetExternalAddress {
		return nil, automap.ProtocolError{Reason: "unexpected response shape to Get-external-address"}
	}
	if resp.ResultCodeOpt == nil {
		return nil, automap.ProtocolError{Reason: "response carried no result code"}
	}
	code := *resp.ResultCodeOpt
	if code != wire.PmpSuccess {
		if code.IsPermanent() {
			return nil, automap.PermanentMappingError{Code: code.String()}
		}
		return nil, automap.TemporaryMappingError{Code: code.String()}
	}
	return resp.ExternalIP, nil
}

func mapTransaction(
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

	lifetimeSecs := uint32(lifetime / time.Second)
	req := &wire.PmpPacket{
		Direction:    wire.Request,
		Opcode:       wire.PmpOpMapUDP,
		InternalPort: holePort,
		ExternalPort: holePort,
		Lifetime:     lifetimeSecs,
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

	resp, err := wire.TryParsePmp(recvBuf[:rn])
	if err != nil {
		log.Warnf("could not parse response from router %s: %v", routerAddr, err)
		return 0, automap.MapOpcodeData{}, automap.PacketParseError{Cause: err}
	}
	if resp.Direction != wire.Response || (resp.Opcode != wire.PmpOpMapUDP && resp.Opcode != wire.PmpOpMapTCP) {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "expected a MAP response"}
	}
	if resp.ResultCodeOpt == nil {
		return 0, automap.MapOpcodeData{}, automap.ProtocolError{Reason: "response carried no result code"}
	}

	code := *resp.ResultCodeOpt
	data := automap.MapOpcodeData{
		Protocol:     "UDP",
		InternalPort: resp.InternalPort,
		ExternalPort: resp.ExternalPort,
	}
	switch {
	case code == wire.PmpSuccess:
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
