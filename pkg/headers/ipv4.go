package headers

import (
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// ProtocolTCP is the IPv4 protocol number for TCP, as placed in the
// protocol field by NewIPv4Datagram and read back by the router/socket
// layers.
const ProtocolTCP = 6

// ProtocolRIP is the protocol number this module uses for RIP packets
// carried directly in IPv4 (no UDP/TCP transport), matching the
// convention the teacher's course project uses for its routing traffic.
const ProtocolRIP = 200

// ProtocolTest is the protocol number used by the REPL's `send` command
// for plain-text test messages, matching the teacher's `pkg/repl.go`
// "test protocol" convention.
const ProtocolTest = 0

// IPv4Datagram is the IPv4 header plus payload the router and network
// interface operate on, matching the fields spec.md §6 says the core
// actually touches (dst, ttl, checksum) plus the handful more needed to
// build a valid header.
type IPv4Datagram struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// NewIPv4Datagram builds a datagram with a freshly computed checksum.
func NewIPv4Datagram(src, dst netip.Addr, protocol int, ttl int, payload []byte) IPv4Datagram {
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(payload),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      ttl,
		Protocol: protocol,
		Checksum: 0,
		Src:      src,
		Dst:      dst,
		Options:  []byte{},
	}
	d := IPv4Datagram{Header: hdr, Payload: payload}
	d.RecomputeChecksum()
	return d
}

// RecomputeChecksum recalculates and stores the IPv4 header checksum,
// matching the teacher's ComputeChecksum helper: one's complement of the
// running sum over the header bytes with the checksum field held at zero.
func (d *IPv4Datagram) RecomputeChecksum() {
	d.Header.Checksum = 0
	headerBytes, err := d.Header.Marshal()
	if err != nil {
		return
	}
	d.Header.Checksum = int(computeChecksum(headerBytes))
}

func computeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	return checksum ^ 0xffff
}

// SerializeIPv4 marshals the header and appends the payload.
func SerializeIPv4(d IPv4Datagram) ([]byte, error) {
	headerBytes, err := d.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	out := make([]byte, 0, len(headerBytes)+len(d.Payload))
	out = append(out, headerBytes...)
	out = append(out, d.Payload...)
	return out, nil
}

// ParseIPv4 parses raw into a datagram and verifies the header checksum.
func ParseIPv4(raw []byte) (IPv4Datagram, error) {
	hdr, err := ipv4header.ParseHeader(raw)
	if err != nil {
		return IPv4Datagram{}, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Len > len(raw) {
		return IPv4Datagram{}, errors.New("ipv4 header length exceeds buffer")
	}

	headerBytes, err := hdr.Marshal()
	if err != nil {
		return IPv4Datagram{}, errors.Wrap(err, "re-marshal ipv4 header for checksum check")
	}
	wantChecksum := hdr.Checksum
	headerBytesZeroed := make([]byte, len(headerBytes))
	copy(headerBytesZeroed, headerBytes)
	headerBytesZeroed[10] = 0
	headerBytesZeroed[11] = 0
	if int(computeChecksum(headerBytesZeroed)) != wantChecksum {
		return IPv4Datagram{}, errors.New("ipv4 checksum mismatch")
	}

	return IPv4Datagram{Header: *hdr, Payload: raw[hdr.Len:hdr.TotalLen]}, nil
}
