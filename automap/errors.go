package automap

import "fmt"

// AutomapError is the error taxonomy surfaced by the Transactor facade, per
// spec.md §7. Every concrete variant is a small struct implementing error so
// callers can type-switch on the ones they care about, the way dcrlnd's
// chainntnfs package exposes ErrChainNotifierShuttingDown-style sentinels
// alongside richer wrapped errors elsewhere in the corpus.
type AutomapError interface {
	error
	automapError()
}

// ChangeHandlerUnconfigured is returned by StartHousekeepingThread when no
// prior successful AddMapping has established a MappingConfig to renew.
type ChangeHandlerUnconfigured struct{}

func (ChangeHandlerUnconfigured) Error() string {
	return "change handler cannot start: no prior successful mapping to maintain"
}
func (ChangeHandlerUnconfigured) automapError() {}

// ChangeHandlerAlreadyRunning is returned by a second StartHousekeepingThread
// call without an intervening Stop.
type ChangeHandlerAlreadyRunning struct{}

func (ChangeHandlerAlreadyRunning) Error() string {
	return "change handler is already running"
}
func (ChangeHandlerAlreadyRunning) automapError() {}

// CantFindDefaultGateway is returned by RouterDiscovery when no candidate
// default gateway could be enumerated on the LAN.
type CantFindDefaultGateway struct {
	Cause error
}

func (e CantFindDefaultGateway) Error() string {
	if e.Cause == nil {
		return "could not find a default gateway on the LAN"
	}
	return fmt.Sprintf("could not find a default gateway on the LAN: %v", e.Cause)
}
func (e CantFindDefaultGateway) Unwrap() error { return e.Cause }
func (CantFindDefaultGateway) automapError()   {}

// SocketBindingError wraps a failure to bind a UDP socket.
type SocketBindingError struct {
	Msg  string
	Addr string
}

func (e SocketBindingError) Error() string {
	return fmt.Sprintf("could not bind socket at %s: %s", e.Addr, e.Msg)
}
func (SocketBindingError) automapError() {}

// SocketSendError wraps a failure of a UDP send_to call.
type SocketSendError struct {
	Cause error
}

func (e SocketSendError) Error() string     { return fmt.Sprintf("socket send failed: %v", e.Cause) }
func (e SocketSendError) Unwrap() error      { return e.Cause }
func (SocketSendError) automapError()       {}

// SocketReceiveError wraps a failure of a UDP recv_from call. A read that
// times out (socketio.ErrTimedOut) is reported as a ProtocolError instead.
type SocketReceiveError struct {
	Cause error
}

func (e SocketReceiveError) Error() string { return fmt.Sprintf("socket receive failed: %v", e.Cause) }
func (e SocketReceiveError) Unwrap() error  { return e.Cause }
func (SocketReceiveError) automapError()   {}

// PacketParseError wraps a wire.ParseError encountered while interpreting an
// inbound datagram.
type PacketParseError struct {
	Cause error
}

func (e PacketParseError) Error() string { return fmt.Sprintf("could not parse packet: %v", e.Cause) }
func (e PacketParseError) Unwrap() error { return e.Cause }
func (PacketParseError) automapError()   {}

// ProtocolError covers responses that parsed cleanly but violate the
// request/response contract: wrong direction, unexpected opcode, nonce
// mismatch, or a timed-out round trip.
type ProtocolError struct {
	Reason string
}

func (e ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }
func (ProtocolError) automapError()   {}

// PermanentMappingError means the router's result code tells us this router
// will never honor this request; the caller should abandon it.
type PermanentMappingError struct {
	Code string
}

func (e PermanentMappingError) Error() string { return fmt.Sprintf("permanent mapping error: %s", e.Code) }
func (PermanentMappingError) automapError()   {}

// TemporaryMappingError means the router's result code indicates a
// transient condition; the caller may retry.
type TemporaryMappingError struct {
	Code string
}

func (e TemporaryMappingError) Error() string { return fmt.Sprintf("temporary mapping error: %s", e.Code) }
func (TemporaryMappingError) automapError()   {}

// NotSupportedError is returned by operations a given protocol's Transactor
// cannot perform, e.g. AddPermanentMapping on PCP/PMP (spec.md §4.5).
type NotSupportedError struct {
	Operation string
	Protocol  string
}

func (e NotSupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Protocol, e.Operation)
}
func (NotSupportedError) automapError() {}
