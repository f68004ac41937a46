// Package netif implements a NetworkInterface: encapsulating IP datagrams
// in Ethernet frames and resolving next-hop IP addresses to MAC addresses
// via ARP, with caching and pending-datagram queues, per spec.md §4.6.
package netif

import (
	"net/netip"

	"tcpip-core/pkg/headers"
)

// ARPEntryTTL is how long a learned ARP cache entry stays valid.
const ARPEntryTTL = 30_000 // ms

// ARPRequestPeriod is how long an outstanding ARP request is allowed to go
// unanswered before its pending datagrams are dropped.
const ARPRequestPeriod = 5_000 // ms

// OutputPort is the collaborator a NetworkInterface transmits frames
// through; it may be shared with a hosting Router or a test harness.
type OutputPort interface {
	Transmit(headers.EthernetFrame)
}

type arpCacheEntry struct {
	mac   headers.MACAddr
	ageMs uint64
}

type pendingEntry struct {
	datagrams []headers.IPv4Datagram
	ageMs     uint64
}

// NetworkInterface is one Ethernet/IP interface on a node, per spec.md
// §4.6.
type NetworkInterface struct {
	name string
	port OutputPort

	mac headers.MACAddr
	ip  netip.Addr

	arpCache map[uint32]*arpCacheEntry
	pending  map[uint32]*pendingEntry

	receivedQueue []headers.IPv4Datagram
}

// New constructs a NetworkInterface transmitting through port with the
// given Ethernet and IP addresses.
func New(name string, port OutputPort, mac headers.MACAddr, ip netip.Addr) *NetworkInterface {
	return &NetworkInterface{
		name:     name,
		port:     port,
		mac:      mac,
		ip:       ip,
		arpCache: make(map[uint32]*arpCacheEntry),
		pending:  make(map[uint32]*pendingEntry),
	}
}

// Name returns the interface's name.
func (n *NetworkInterface) Name() string { return n.name }

// IP returns the interface's IP address.
func (n *NetworkInterface) IP() netip.Addr { return n.ip }

// MAC returns the interface's Ethernet address.
func (n *NetworkInterface) MAC() headers.MACAddr { return n.mac }

func ipNumeric(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// SendDatagram transmits dgram immediately if nextHop's MAC is cached;
// otherwise it queues the datagram and issues an ARP request if one isn't
// already pending for nextHop.
func (n *NetworkInterface) SendDatagram(dgram headers.IPv4Datagram, nextHop netip.Addr) {
	nextHopNum := ipNumeric(nextHop)

	if entry, ok := n.arpCache[nextHopNum]; ok {
		n.transmitIPv4(dgram, entry.mac)
		return
	}

	pend, exists := n.pending[nextHopNum]
	if !exists {
		pend = &pendingEntry{}
		n.pending[nextHopNum] = pend
	}
	pend.datagrams = append(pend.datagrams, dgram)

	if exists {
		// An ARP request for this IP is already in flight.
		return
	}

	arpReq := headers.ARPMessage{
		Opcode:    headers.ARPOpRequest,
		SenderMAC: n.mac,
		SenderIP:  ipNumeric(n.ip),
		TargetIP:  nextHopNum,
	}
	n.port.Transmit(headers.EthernetFrame{
		Header: headers.EthernetHeader{
			Dst:  headers.BroadcastMAC,
			Src:  n.mac,
			Type: headers.EthernetTypeARP,
		},
		Payload: headers.SerializeARP(arpReq),
	})
}

func (n *NetworkInterface) transmitIPv4(dgram headers.IPv4Datagram, dst headers.MACAddr) {
	payload, err := headers.SerializeIPv4(dgram)
	if err != nil {
		return
	}
	n.port.Transmit(headers.EthernetFrame{
		Header: headers.EthernetHeader{
			Dst:  dst,
			Src:  n.mac,
			Type: headers.EthernetTypeIPv4,
		},
		Payload: payload,
	})
}

// RecvFrame processes one inbound Ethernet frame, per spec.md §4.6.
func (n *NetworkInterface) RecvFrame(frame headers.EthernetFrame) {
	if frame.Header.Dst != n.mac && frame.Header.Dst != headers.BroadcastMAC {
		return
	}

	switch frame.Header.Type {
	case headers.EthernetTypeIPv4:
		dgram, err := headers.ParseIPv4(frame.Payload)
		if err != nil {
			return
		}
		n.receivedQueue = append(n.receivedQueue, dgram)

	case headers.EthernetTypeARP:
		msg, err := headers.ParseARP(frame.Payload)
		if err != nil {
			return
		}
		n.handleARP(msg)
	}
}

func (n *NetworkInterface) handleARP(msg headers.ARPMessage) {
	n.arpCache[msg.SenderIP] = &arpCacheEntry{mac: msg.SenderMAC, ageMs: 0}

	if msg.Opcode == headers.ARPOpRequest && msg.TargetIP == ipNumeric(n.ip) {
		reply := headers.ARPMessage{
			Opcode:    headers.ARPOpReply,
			SenderMAC: n.mac,
			SenderIP:  ipNumeric(n.ip),
			TargetMAC: msg.SenderMAC,
			TargetIP:  msg.SenderIP,
		}
		n.port.Transmit(headers.EthernetFrame{
			Header: headers.EthernetHeader{
				Dst:  msg.SenderMAC,
				Src:  n.mac,
				Type: headers.EthernetTypeARP,
			},
			Payload: headers.SerializeARP(reply),
		})
	}

	if pend, ok := n.pending[msg.SenderIP]; ok {
		for _, dgram := range pend.datagrams {
			n.transmitIPv4(dgram, msg.SenderMAC)
		}
		delete(n.pending, msg.SenderIP)
	}
}

// Tick ages ARP cache entries and pending ARP requests by ms, expiring and
// dropping them as their respective TTLs are reached.
func (n *NetworkInterface) Tick(ms uint64) {
	for ip, entry := range n.arpCache {
		entry.ageMs += ms
		if entry.ageMs >= ARPEntryTTL {
			delete(n.arpCache, ip)
		}
	}

	for ip, pend := range n.pending {
		pend.ageMs += ms
		if pend.ageMs >= ARPRequestPeriod {
			delete(n.pending, ip)
		}
	}
}

// ReceivedDatagrams returns and clears the FIFO of datagrams received so
// far, in arrival order, for the Router (or a test) to consume.
func (n *NetworkInterface) ReceivedDatagrams() []headers.IPv4Datagram {
	out := n.receivedQueue
	n.receivedQueue = nil
	return out
}

// PendingARPRequestCount reports how many distinct next-hop IPs currently
// have an in-flight ARP request, a test accessor for spec.md §8's "at most
// one outstanding ARP request per unresolved next-hop IP" invariant.
func (n *NetworkInterface) PendingARPRequestCount() int {
	return len(n.pending)
}
