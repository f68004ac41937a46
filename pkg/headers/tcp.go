package headers

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// TCPHeaderLen is the fixed (no-options) TCP header length this codec
// emits, matching the teacher's iptcp_utils.TcpHeaderLen usage.
const TCPHeaderLen = 20

// SerializeTCPSegment encodes msg as a TCP segment addressed between
// srcAddr:srcPort and dstAddr:dstPort, with the pseudo-header checksum
// computed over the supplied IPv4 addresses, matching the teacher's
// sendTCP/ComputeTCPChecksum usage of github.com/google/netstack/tcpip/header.
func SerializeTCPSegment(msg tcpmsg.Sender, ackno uint32, hasAck bool, window uint16,
	srcAddr, dstAddr netip.Addr, srcPort, dstPort uint16) []byte {

	var flags uint8
	if msg.SYN {
		flags |= header.TCPFlagSyn
	}
	if msg.FIN {
		flags |= header.TCPFlagFin
	}
	if msg.RST {
		flags |= header.TCPFlagRst
	}
	if hasAck {
		flags |= header.TCPFlagAck
	}

	fields := header.TCPFields{
		SrcPort:       srcPort,
		DstPort:       dstPort,
		SeqNum:        msg.Seqno.Raw(),
		AckNum:        ackno,
		DataOffset:    TCPHeaderLen,
		Flags:         flags,
		WindowSize:    window,
		Checksum:      0,
		UrgentPointer: 0,
	}

	checksum := tcpChecksum(fields, srcAddr, dstAddr, msg.Payload)
	fields.Checksum = checksum

	buf := make(header.TCP, TCPHeaderLen)
	buf.Encode(&fields)

	out := make([]byte, 0, TCPHeaderLen+len(msg.Payload))
	out = append(out, buf...)
	out = append(out, msg.Payload...)
	return out
}

// ParsedTCPSegment is a decoded TCP segment split into its sender-side
// message, the carried ack fields, and the advertised window — everything
// pkg/socket needs to feed both halves of a connection.
type ParsedTCPSegment struct {
	SrcPort, DstPort uint16
	Sender           tcpmsg.Sender
	HasAck           bool
	Ackno            uint32
	Window           uint16
}

// ParseTCPSegment decodes raw (the IPv4 payload) and verifies its checksum
// against the given IPv4 addresses.
func ParseTCPSegment(raw []byte, srcAddr, dstAddr netip.Addr) (ParsedTCPSegment, error) {
	if len(raw) < TCPHeaderLen {
		return ParsedTCPSegment{}, errors.New("tcp segment shorter than header")
	}
	tcpHdr := header.TCP(raw[:TCPHeaderLen])
	fields := header.TCPFields{
		SrcPort:       tcpHdr.SourcePort(),
		DstPort:       tcpHdr.DestinationPort(),
		SeqNum:        tcpHdr.SequenceNumber(),
		AckNum:        tcpHdr.AckNumber(),
		DataOffset:    tcpHdr.DataOffset(),
		Flags:         tcpHdr.Flags(),
		WindowSize:    tcpHdr.WindowSize(),
		Checksum:      tcpHdr.Checksum(),
		UrgentPointer: binary.BigEndian.Uint16(tcpHdr[header.TCPUrgentPtrOffset:]),
	}

	gotChecksum := fields.Checksum
	fields.Checksum = 0
	payload := raw[TCPHeaderLen:]
	wantChecksum := tcpChecksum(fields, srcAddr, dstAddr, payload)
	if wantChecksum != gotChecksum {
		return ParsedTCPSegment{}, errors.New("tcp checksum mismatch")
	}

	seg := ParsedTCPSegment{
		SrcPort: fields.SrcPort,
		DstPort: fields.DstPort,
		Window:  fields.WindowSize,
	}
	seg.Sender.Payload = payload
	seg.Sender.SYN = fields.Flags&header.TCPFlagSyn != 0
	seg.Sender.FIN = fields.Flags&header.TCPFlagFin != 0
	seg.Sender.RST = fields.Flags&header.TCPFlagRst != 0
	seg.Sender.Seqno = wrap.WrapUint32(fields.SeqNum)
	if fields.Flags&header.TCPFlagAck != 0 {
		seg.HasAck = true
		seg.Ackno = fields.AckNum
	}
	return seg, nil
}

func tcpChecksum(fields header.TCPFields, srcAddr, dstAddr netip.Addr, payload []byte) uint16 {
	buf := make(header.TCP, TCPHeaderLen)
	buf.Encode(&fields)

	tcpLength := uint16(TCPHeaderLen + len(payload))
	xsum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, tcpIPAddress(srcAddr), tcpIPAddress(dstAddr), tcpLength)
	xsum = header.Checksum(buf, xsum)
	xsum = header.Checksum(payload, xsum)
	return xsum ^ 0xffff
}

func tcpIPAddress(addr netip.Addr) tcpip.Address {
	a4 := addr.As4()
	return tcpip.Address(a4[:])
}
