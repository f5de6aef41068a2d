// Package wire implements the PacketCodec component of spec.md §4.1: framing
// for PCP (RFC 6887) and PMP (RFC 6886) requests and responses.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Direction distinguishes a request from a response frame.
type Direction int

const (
	Request Direction = iota
	Response
)

// Protocol identifies the transport protocol a mapping applies to.
type Protocol uint8

const (
	ProtocolUDP Protocol = 17
	ProtocolTCP Protocol = 6
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "UDP"
	case ProtocolTCP:
		return "TCP"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// ParseError is returned by TryParse when bytes do not form a well-formed
// PCP or PMP frame. The four variants named in spec.md §4.1 are modeled as
// a single struct with a Kind tag so callers can still type-switch on Kind.
type ParseErrorKind int

const (
	ShortBuffer ParseErrorKind = iota
	UnknownOpcode
	UnknownResultCode
	WrongVersion
)

type ParseError struct {
	Kind     ParseErrorKind
	Expected int
	Actual   int
	Detail   string
}

func (e ParseError) Error() string {
	switch e.Kind {
	case ShortBuffer:
		return fmt.Sprintf("short buffer: expected at least %d bytes, got %d", e.Expected, e.Actual)
	case UnknownOpcode:
		return fmt.Sprintf("unknown opcode: %s", e.Detail)
	case UnknownResultCode:
		return fmt.Sprintf("unknown result code: %s", e.Detail)
	case WrongVersion:
		return fmt.Sprintf("wrong protocol version: %s", e.Detail)
	default:
		return "packet parse error"
	}
}

// EncodeError is returned by Marshal; spec.md §4.1 notes marshal is
// infallible for well-formed in-memory packets, so the only failure mode
// modeled is an undersized caller-supplied buffer.
type EncodeError struct {
	Needed    int
	Available int
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("buffer too small: need %d bytes, have %d", e.Needed, e.Available)
}

// MinBufferSize is a safe upper bound for marshalling either protocol's
// largest frame (spec.md §4.1).
const MinBufferSize = 1100

// MapOpcodeData is shared opcode-data shape for PCP and PMP MAP requests,
// per spec.md §3. Nonce is PCP-only; it is the zero value for PMP.
type MapOpcodeData struct {
	Nonce        [12]byte
	Protocol     Protocol
	InternalPort uint16
	ExternalPort uint16
	ExternalIP   net.IP
}

func ipv4MappedBytes(ip net.IP) [16]byte {
	var out [16]byte
	v4 := ip.To4()
	if v4 == nil {
		// IPv6 is out of scope (spec.md §1 non-goals); treat as unset.
		return out
	}
	copy(out[:], net.IPv4(0, 0, 0, 0).To16()[:10])
	out[10] = 0xff
	out[11] = 0xff
	copy(out[12:], v4)
	return out
}

func ipv4FromMapped(b []byte) net.IP {
	if len(b) < 16 {
		return nil
	}
	return net.IPv4(b[12], b[13], b[14], b[15])
}

// --- PCP -------------------------------------------------------------

// PCP opcodes, RFC 6887 §7.1.
type Opcode uint8

const (
	OpcodeAnnounce Opcode = 0
	OpcodeMap      Opcode = 1
	OpcodePeer     Opcode = 2
)

func (o Opcode) String() string {
	switch o {
	case OpcodeAnnounce:
		return "Announce"
	case OpcodeMap:
		return "Map"
	case OpcodePeer:
		return "Peer"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// ResultCode, RFC 6887 §7.4.
type ResultCode uint8

const (
	ResultSuccess               ResultCode = 0
	ResultUnsupportedVersion    ResultCode = 1
	ResultNotAuthorized         ResultCode = 2
	ResultMalformedRequest      ResultCode = 3
	ResultUnsupportedOpcode     ResultCode = 4
	ResultUnsupportedOption     ResultCode = 5
	ResultMalformedOption       ResultCode = 6
	ResultNetworkFailure        ResultCode = 7
	ResultNoResources           ResultCode = 8
	ResultUnsupportedProtocol   ResultCode = 9
	ResultUserExceededQuota     ResultCode = 10
	ResultCannotProvideExternal ResultCode = 11
	ResultAddressMismatch       ResultCode = 12
	ResultExcessiveRemotePeers  ResultCode = 13
)

// outOfResources does not exist as a distinct RFC 6887 code in this
// implementation's result set; spec.md §4.3 lists it among PCP's transient
// codes alongside NoResources, so it is treated as an alias kept for
// classification purposes only (see IsTransient).
const ResultOutOfResources = ResultNoResources

func (r ResultCode) String() string {
	names := map[ResultCode]string{
		ResultSuccess:               "Success",
		ResultUnsupportedVersion:    "UnsupportedVersion",
		ResultNotAuthorized:         "NotAuthorized",
		ResultMalformedRequest:      "MalformedRequest",
		ResultUnsupportedOpcode:     "UnsupportedOpcode",
		ResultUnsupportedOption:     "UnsupportedOption",
		ResultMalformedOption:       "MalformedOption",
		ResultNetworkFailure:        "NetworkFailure",
		ResultNoResources:           "NoResources",
		ResultUnsupportedProtocol:   "UnsupportedProtocol",
		ResultUserExceededQuota:     "UserExceededQuota",
		ResultCannotProvideExternal: "CannotProvideExternal",
		ResultAddressMismatch:       "AddressMismatch",
		ResultExcessiveRemotePeers:  "ExcessiveRemotePeers",
	}
	if s, ok := names[r]; ok {
		return s
	}
	return fmt.Sprintf("ResultCode(%d)", uint8(r))
}

// IsPermanent reports whether code means the caller must abandon this
// router (spec.md §4.3).
func (r ResultCode) IsPermanent() bool {
	switch r {
	case ResultUnsupportedVersion, ResultNotAuthorized, ResultMalformedRequest,
		ResultUnsupportedOpcode, ResultAddressMismatch, ResultExcessiveRemotePeers:
		return true
	default:
		return false
	}
}

// IsTransient reports whether code means the caller may retry (spec.md §4.3).
func (r ResultCode) IsTransient() bool {
	switch r {
	case ResultNoResources, ResultNetworkFailure, ResultCannotProvideExternal:
		return true
	default:
		return false
	}
}

const pcpVersion = 2

// PcpPacket is a structured view of a PCP wire frame (spec.md §6).
// Invariant: a parsed response always carries ResultCodeOpt set; a parsed
// request never does (spec.md §3).
type PcpPacket struct {
	Direction      Direction
	Opcode         Opcode
	Lifetime       uint32
	ClientIP       net.IP
	Epoch          uint32
	ResultCodeOpt  *ResultCode
	MapData        *MapOpcodeData
}

// Marshal encodes p into buf, returning the number of bytes written.
func (p *PcpPacket) Marshal(buf []byte) (int, error) {
	const headerLen = 24
	need := headerLen
	if p.Opcode == OpcodeMap {
		need += 36
	}
	// A response's result code and epoch sit inside the same 24-byte header.
	if len(buf) < MinBufferSize && len(buf) < need {
		return 0, EncodeError{Needed: need, Available: len(buf)}
	}

	buf[0] = pcpVersion
	rOpcode := uint8(p.Opcode) & 0x7f
	if p.Direction == Response {
		rOpcode |= 0x80
	}
	buf[1] = rOpcode
	buf[2] = 0
	buf[3] = 0
	if p.Direction == Response {
		if p.ResultCodeOpt != nil {
			buf[3] = uint8(*p.ResultCodeOpt)
		}
	}
	binary.BigEndian.PutUint32(buf[4:8], p.Lifetime)
	if p.Direction == Response {
		binary.BigEndian.PutUint32(buf[8:12], p.Epoch)
		for i := 12; i < 24; i++ {
			buf[i] = 0
		}
	} else {
		mapped := ipv4MappedBytes(p.ClientIP)
		copy(buf[8:24], mapped[:])
	}

	offset := headerLen
	if p.Opcode == OpcodeMap && p.MapData != nil {
		copy(buf[offset:offset+12], p.MapData.Nonce[:])
		buf[offset+12] = uint8(p.MapData.Protocol)
		buf[offset+13] = 0
		buf[offset+14] = 0
		buf[offset+15] = 0
		binary.BigEndian.PutUint16(buf[offset+16:offset+18], p.MapData.InternalPort)
		extPort := p.MapData.ExternalPort
		if p.Direction == Response {
			binary.BigEndian.PutUint16(buf[offset+18:offset+20], extPort)
		} else {
			binary.BigEndian.PutUint16(buf[offset+18:offset+20], extPort)
		}
		var extIP [16]byte
		if p.MapData.ExternalIP != nil {
			extIP = ipv4MappedBytes(p.MapData.ExternalIP)
		}
		copy(buf[offset+20:offset+36], extIP[:])
		offset += 36
	}
	return offset, nil
}

// TryParsePcp parses bytes into a PcpPacket.
func TryParsePcp(b []byte) (*PcpPacket, error) {
	const headerLen = 24
	if len(b) < headerLen {
		return nil, ParseError{Kind: ShortBuffer, Expected: headerLen, Actual: len(b)}
	}
	if b[0] != pcpVersion {
		return nil, ParseError{Kind: WrongVersion, Detail: fmt.Sprintf("got %d, want %d", b[0], pcpVersion)}
	}
	direction := Request
	if b[1]&0x80 != 0 {
		direction = Response
	}
	opcode := Opcode(b[1] & 0x7f)
	if opcode > OpcodePeer {
		return nil, ParseError{Kind: UnknownOpcode, Detail: fmt.Sprintf("%d", opcode)}
	}
	p := &PcpPacket{
		Direction: direction,
		Opcode:    opcode,
		Lifetime:  binary.BigEndian.Uint32(b[4:8]),
	}
	if direction == Response {
		code := ResultCode(b[3])
		if !isKnownResultCode(code) {
			return nil, ParseError{Kind: UnknownResultCode, Detail: fmt.Sprintf("%d", code)}
		}
		p.ResultCodeOpt = &code
		p.Epoch = binary.BigEndian.Uint32(b[8:12])
	} else {
		p.ClientIP = ipv4FromMapped(b[8:24])
	}

	offset := headerLen
	if opcode == OpcodeMap {
		if len(b) < offset+36 {
			return nil, ParseError{Kind: ShortBuffer, Expected: offset + 36, Actual: len(b)}
		}
		var md MapOpcodeData
		copy(md.Nonce[:], b[offset:offset+12])
		md.Protocol = Protocol(b[offset+12])
		md.InternalPort = binary.BigEndian.Uint16(b[offset+16 : offset+18])
		md.ExternalPort = binary.BigEndian.Uint16(b[offset+18 : offset+20])
		md.ExternalIP = ipv4FromMapped(b[offset+20 : offset+36])
		p.MapData = &md
	}
	return p, nil
}

func isKnownResultCode(c ResultCode) bool {
	return c <= ResultExcessiveRemotePeers
}

// --- PMP ---------------------------------------------------------------

// PMP opcodes, RFC 6886 §3.
type PmpOp uint8

const (
	PmpOpGetExternalAddress PmpOp = 0
	PmpOpMapUDP             PmpOp = 1
	PmpOpMapTCP             PmpOp = 2
)

const pmpVersion = 0

// PmpResultCode, RFC 6886 §3.5.
type PmpResultCode uint16

const (
	PmpSuccess                PmpResultCode = 0
	PmpUnsupportedVersion     PmpResultCode = 1
	PmpNotAuthorized          PmpResultCode = 2
	PmpNetworkFailure         PmpResultCode = 3
	PmpOutOfResources         PmpResultCode = 4
	PmpUnsupportedOpcode      PmpResultCode = 5
)

func (r PmpResultCode) IsPermanent() bool {
	switch r {
	case PmpUnsupportedVersion, PmpNotAuthorized, PmpUnsupportedOpcode:
		return true
	default:
		return false
	}
}

func (r PmpResultCode) IsTransient() bool {
	switch r {
	case PmpNetworkFailure, PmpOutOfResources:
		return true
	default:
		return false
	}
}

func (r PmpResultCode) String() string {
	names := map[PmpResultCode]string{
		PmpSuccess:            "Success",
		PmpUnsupportedVersion: "UnsupportedVersion",
		PmpNotAuthorized:      "NotAuthorized",
		PmpNetworkFailure:     "NetworkFailure",
		PmpOutOfResources:     "OutOfResources",
		PmpUnsupportedOpcode:  "UnsupportedOpcode",
	}
	if s, ok := names[r]; ok {
		return s
	}
	return fmt.Sprintf("PmpResultCode(%d)", uint16(r))
}

// PmpPacket is a structured view of a PMP wire frame (spec.md §6).
type PmpPacket struct {
	Direction     Direction
	Opcode        PmpOp
	ResultCodeOpt *PmpResultCode
	Epoch         uint32
	ExternalIP    net.IP
	InternalPort  uint16
	ExternalPort  uint16
	Lifetime      uint32
}

func (p *PmpPacket) Marshal(buf []byte) (int, error) {
	switch {
	case p.Direction == Request && p.Opcode == PmpOpGetExternalAddress:
		if len(buf) < 2 && len(buf) < MinBufferSize {
			return 0, EncodeError{Needed: 2, Available: len(buf)}
		}
		buf[0] = pmpVersion
		buf[1] = uint8(p.Opcode)
		return 2, nil
	case p.Direction == Response && p.Opcode == PmpOpGetExternalAddress:
		need := 12
		if len(buf) < need {
			return 0, EncodeError{Needed: need, Available: len(buf)}
		}
		buf[0] = pmpVersion
		buf[1] = uint8(p.Opcode) | 0x80
		var code PmpResultCode
		if p.ResultCodeOpt != nil {
			code = *p.ResultCodeOpt
		}
		binary.BigEndian.PutUint16(buf[2:4], uint16(code))
		binary.BigEndian.PutUint32(buf[4:8], p.Epoch)
		v4 := p.ExternalIP.To4()
		if v4 == nil {
			v4 = net.IPv4zero.To4()
		}
		copy(buf[8:12], v4)
		return 12, nil
	case p.Direction == Request:
		need := 12
		if len(buf) < need {
			return 0, EncodeError{Needed: need, Available: len(buf)}
		}
		buf[0] = pmpVersion
		buf[1] = uint8(p.Opcode)
		buf[2] = 0
		buf[3] = 0
		binary.BigEndian.PutUint16(buf[4:6], p.InternalPort)
		binary.BigEndian.PutUint16(buf[6:8], p.ExternalPort)
		binary.BigEndian.PutUint32(buf[8:12], p.Lifetime)
		return 12, nil
	default: // Response to a MAP request
		need := 16
		if len(buf) < need {
			return 0, EncodeError{Needed: need, Available: len(buf)}
		}
		buf[0] = pmpVersion
		buf[1] = uint8(p.Opcode) | 0x80
		var code PmpResultCode
		if p.ResultCodeOpt != nil {
			code = *p.ResultCodeOpt
		}
		binary.BigEndian.PutUint16(buf[2:4], uint16(code))
		binary.BigEndian.PutUint32(buf[4:8], p.Epoch)
		binary.BigEndian.PutUint16(buf[8:10], p.InternalPort)
		binary.BigEndian.PutUint16(buf[10:12], p.ExternalPort)
		binary.BigEndian.PutUint32(buf[12:16], p.Lifetime)
		return 16, nil
	}
}

func TryParsePmp(b []byte) (*PmpPacket, error) {
	if len(b) < 2 {
		return nil, ParseError{Kind: ShortBuffer, Expected: 2, Actual: len(b)}
	}
	if b[0] != pmpVersion {
		return nil, ParseError{Kind: WrongVersion, Detail: fmt.Sprintf("got %d, want %d", b[0], pmpVersion)}
	}
	direction := Request
	opByte := b[1]
	if opByte&0x80 != 0 {
		direction = Response
		opByte &= 0x7f
	}
	if opByte > uint8(PmpOpMapTCP) {
		return nil, ParseError{Kind: UnknownOpcode, Detail: fmt.Sprintf("%d", opByte)}
	}
	op := PmpOp(opByte)
	p := &PmpPacket{Direction: direction, Opcode: op}

	switch {
	case direction == Request && op == PmpOpGetExternalAddress:
		return p, nil
	case direction == Response && op == PmpOpGetExternalAddress:
		if len(b) < 12 {
			return nil, ParseError{Kind: ShortBuffer, Expected: 12, Actual: len(b)}
		}
		code := PmpResultCode(binary.BigEndian.Uint16(b[2:4]))
		if code > PmpUnsupportedOpcode {
			return nil, ParseError{Kind: UnknownResultCode, Detail: fmt.Sprintf("%d", code)}
		}
		p.ResultCodeOpt = &code
		p.Epoch = binary.BigEndian.Uint32(b[4:8])
		p.ExternalIP = net.IPv4(b[8], b[9], b[10], b[11])
		return p, nil
	case direction == Request:
		if len(b) < 12 {
			return nil, ParseError{Kind: ShortBuffer, Expected: 12, Actual: len(b)}
		}
		p.InternalPort = binary.BigEndian.Uint16(b[4:6])
		p.ExternalPort = binary.BigEndian.Uint16(b[6:8])
		p.Lifetime = binary.BigEndian.Uint32(b[8:12])
		return p, nil
	default:
		if len(b) < 16 {
			return nil, ParseError{Kind: ShortBuffer, Expected: 16, Actual: len(b)}
		}
		code := PmpResultCode(binary.BigEndian.Uint16(b[2:4]))
		if code > PmpUnsupportedOpcode {
			return nil, ParseError{Kind: UnknownResultCode, Detail: fmt.Sprintf("%d", code)}
		}
		p.ResultCodeOpt = &code
		p.Epoch = binary.BigEndian.Uint32(b[4:8])
		p.InternalPort = binary.BigEndian.Uint16(b[8:10])
		p.ExternalPort = binary.BigEndian.Uint16(b[10:12])
		p.Lifetime = binary.BigEndian.Uint32(b[12:16])
		return p, nil
	}
}
