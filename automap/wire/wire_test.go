package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestPcpMapRequestRoundTrip(t *testing.T) {
	nonce := [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	p := &PcpPacket{
		Direction: Request,
		Opcode:    OpcodeMap,
		Lifetime:  10000,
		ClientIP:  net.ParseIP("192.168.1.2"),
		MapData: &MapOpcodeData{
			Nonce:        nonce,
			Protocol:     ProtocolUDP,
			InternalPort: 6666,
			ExternalPort: 6666,
			ExternalIP:   net.IPv4zero,
		},
	}
	buf := make([]byte, MinBufferSize)
	n, err := p.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := TryParsePcp(buf[:n])
	if err != nil {
		t.Fatalf("TryParsePcp failed: %v", err)
	}
	if parsed.Direction != Request || parsed.Opcode != OpcodeMap {
		t.Fatalf("unexpected parse result: %s", spew.Sdump(parsed))
	}
	if parsed.MapData.Nonce != nonce {
		t.Errorf("nonce mismatch: got %v want %v", parsed.MapData.Nonce, nonce)
	}
	if parsed.MapData.InternalPort != 6666 {
		t.Errorf("internal port mismatch: got %d", parsed.MapData.InternalPort)
	}

	buf2 := make([]byte, MinBufferSize)
	n2, err := parsed.Marshal(buf2)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	if !bytes.Equal(buf[:n], buf2[:n2]) {
		t.Errorf("marshal(parse(bytes)) != bytes:\n%s\nvs\n%s", spew.Sdump(buf[:n]), spew.Sdump(buf2[:n2]))
	}
}

func TestPcpMapResponseHappyPath(t *testing.T) {
	// Scenario 1 from spec.md §8: router at 1.2.3.4, approved lifetime 8000,
	// external IP 72.73.74.75.
	code := ResultSuccess
	p := &PcpPacket{
		Direction: Response,
		Opcode:    OpcodeMap,
		Lifetime:  8000,
		Epoch:     1,
		ResultCodeOpt: &code,
		MapData: &MapOpcodeData{
			Protocol:     ProtocolUDP,
			InternalPort: 6666,
			ExternalPort: 6666,
			ExternalIP:   net.ParseIP("72.73.74.75"),
		},
	}
	buf := make([]byte, MinBufferSize)
	n, err := p.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := TryParsePcp(buf[:n])
	if err != nil {
		t.Fatalf("TryParsePcp failed: %v", err)
	}
	if parsed.ResultCodeOpt == nil || *parsed.ResultCodeOpt != ResultSuccess {
		t.Fatalf("expected success result code, got %+v", parsed.ResultCodeOpt)
	}
	if !parsed.MapData.ExternalIP.Equal(net.ParseIP("72.73.74.75")) {
		t.Errorf("external IP mismatch: got %v", parsed.MapData.ExternalIP)
	}
	if parsed.Lifetime != 8000 {
		t.Errorf("lifetime mismatch: got %d", parsed.Lifetime)
	}
}

func TestPcpAddressMismatchIsPermanent(t *testing.T) {
	if !ResultAddressMismatch.IsPermanent() {
		t.Errorf("AddressMismatch should be permanent")
	}
	if ResultAddressMismatch.IsTransient() {
		t.Errorf("AddressMismatch should not be transient")
	}
}

func TestPcpShortBufferError(t *testing.T) {
	_, err := TryParsePcp([]byte{1, 2, 3})
	pe, ok := err.(ParseError)
	if !ok {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
	if pe.Kind != ShortBuffer {
		t.Errorf("expected ShortBuffer, got %v", pe.Kind)
	}
}

func TestPcpWrongVersion(t *testing.T) {
	buf := make([]byte, 24)
	buf[0] = 1 // only version 2 is valid
	_, err := TryParsePcp(buf)
	pe, ok := err.(ParseError)
	if !ok || pe.Kind != WrongVersion {
		t.Fatalf("expected WrongVersion parse error, got %v", err)
	}
}

func TestPmpGetExternalAddressRoundTrip(t *testing.T) {
	req := &PmpPacket{Direction: Request, Opcode: PmpOpGetExternalAddress}
	buf := make([]byte, MinBufferSize)
	n, err := req.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := TryParsePmp(buf[:n])
	if err != nil {
		t.Fatalf("TryParsePmp failed: %v", err)
	}
	if parsed.Direction != Request || parsed.Opcode != PmpOpGetExternalAddress {
		t.Fatalf("unexpected parse: %+v", parsed)
	}

	code := PmpSuccess
	resp := &PmpPacket{
		Direction:     Response,
		Opcode:        PmpOpGetExternalAddress,
		ResultCodeOpt: &code,
		Epoch:         42,
		ExternalIP:    net.ParseIP("203.0.113.5"),
	}
	n2, err := resp.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal response failed: %v", err)
	}
	parsedResp, err := TryParsePmp(buf[:n2])
	if err != nil {
		t.Fatalf("TryParsePmp response failed: %v", err)
	}
	if !parsedResp.ExternalIP.Equal(net.ParseIP("203.0.113.5")) {
		t.Errorf("external IP mismatch: got %v", parsedResp.ExternalIP)
	}
}

func TestPmpMapRoundTrip(t *testing.T) {
	req := &PmpPacket{
		Direction:    Request,
		Opcode:       PmpOpMapUDP,
		InternalPort: 6666,
		ExternalPort: 6666,
		Lifetime:     10000,
	}
	buf := make([]byte, MinBufferSize)
	n, err := req.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := TryParsePmp(buf[:n])
	if err != nil {
		t.Fatalf("TryParsePmp failed: %v", err)
	}
	if parsed.InternalPort != 6666 || parsed.Lifetime != 10000 {
		t.Errorf("unexpected parse result: %+v", parsed)
	}
}
