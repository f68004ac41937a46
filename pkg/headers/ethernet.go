// Package headers implements the Ethernet/ARP/IPv4/TCP wire format
// collaborators spec.md assumes are "provided": parsing, serialization, and
// checksum computation, matching the teacher's own usage of
// github.com/brown-csci1680/iptcp-headers and
// github.com/google/netstack/tcpip/header.
package headers

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MACAddr is a 6-byte Ethernet hardware address.
type MACAddr [6]byte

// BroadcastMAC is the Ethernet broadcast address FF:FF:FF:FF:FF:FF.
var BroadcastMAC = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetType identifies the payload carried by an Ethernet frame.
type EthernetType uint16

const (
	EthernetTypeIPv4 EthernetType = 0x0800
	EthernetTypeARP  EthernetType = 0x0806
)

const ethernetHeaderLen = 14

// EthernetHeader is the fixed 14-byte Ethernet header.
type EthernetHeader struct {
	Dst  MACAddr
	Src  MACAddr
	Type EthernetType
}

// EthernetFrame is an Ethernet header plus its payload bytes.
type EthernetFrame struct {
	Header  EthernetHeader
	Payload []byte
}

// SerializeEthernetFrame writes f's header and payload into a single byte
// slice ready to transmit.
func SerializeEthernetFrame(f EthernetFrame) []byte {
	out := make([]byte, ethernetHeaderLen+len(f.Payload))
	copy(out[0:6], f.Header.Dst[:])
	copy(out[6:12], f.Header.Src[:])
	binary.BigEndian.PutUint16(out[12:14], uint16(f.Header.Type))
	copy(out[14:], f.Payload)
	return out
}

// ParseEthernetFrame parses raw into an EthernetFrame.
func ParseEthernetFrame(raw []byte) (EthernetFrame, error) {
	if len(raw) < ethernetHeaderLen {
		return EthernetFrame{}, errors.New("ethernet frame shorter than header")
	}
	var f EthernetFrame
	copy(f.Header.Dst[:], raw[0:6])
	copy(f.Header.Src[:], raw[6:12])
	f.Header.Type = EthernetType(binary.BigEndian.Uint16(raw[12:14]))
	f.Payload = raw[14:]
	return f, nil
}
