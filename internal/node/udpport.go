package node

import (
	"net"
	"net/netip"
	"sync"

	"tcpip-core/pkg/headers"
)

// macForIP derives a deterministic, locally-administered MAC address from
// an IPv4 address, standing in for a real ARP-resolvable hardware address
// in this UDP-tunneled Ethernet emulation.
func macForIP(ip netip.Addr) headers.MACAddr {
	b := ip.As4()
	return headers.MACAddr{0x02, 0x00, b[0], b[1], b[2], b[3]}
}

// udpPort implements netif.OutputPort by multiplexing Ethernet frames over
// a UDP socket standing in for the interface's physical wire, the way the
// teacher's cmd/vhost.go / cmd/vrouter.go bind one UDP socket per
// interface.
type udpPort struct {
	conn *net.UDPConn

	mu             sync.Mutex
	up             bool
	neighborsByMAC map[headers.MACAddr]netip.AddrPort
	broadcastAddrs []netip.AddrPort
}

func newUDPPort(bindAddr netip.AddrPort) (*udpPort, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bindAddr))
	if err != nil {
		return nil, err
	}
	return &udpPort{
		conn:           conn,
		up:             true,
		neighborsByMAC: make(map[headers.MACAddr]netip.AddrPort),
	}, nil
}

func (p *udpPort) addNeighbor(mac headers.MACAddr, addr netip.AddrPort) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.neighborsByMAC[mac] = addr
	p.broadcastAddrs = append(p.broadcastAddrs, addr)
}

func (p *udpPort) setUp(up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up = up
}

func (p *udpPort) isUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up
}

// Transmit implements netif.OutputPort, dropping frames while the
// interface is administratively down, per SPEC_FULL.md §4.11.
func (p *udpPort) Transmit(frame headers.EthernetFrame) {
	p.mu.Lock()
	up := p.up
	broadcast := frame.Header.Dst == headers.BroadcastMAC
	var dst netip.AddrPort
	var ok bool
	var broadcastAddrs []netip.AddrPort
	if broadcast {
		broadcastAddrs = append(broadcastAddrs, p.broadcastAddrs...)
	} else {
		dst, ok = p.neighborsByMAC[frame.Header.Dst]
	}
	p.mu.Unlock()

	if !up {
		return
	}
	raw := headers.SerializeEthernetFrame(frame)
	if broadcast {
		for _, addr := range broadcastAddrs {
			p.conn.WriteToUDPAddrPort(raw, addr)
		}
		return
	}
	if ok {
		p.conn.WriteToUDPAddrPort(raw, dst)
	}
}

// readLoop reads inbound UDP datagrams and hands each to deliver, until
// the connection is closed.
func (p *udpPort) readLoop(deliver func(frame headers.EthernetFrame)) {
	buf := make([]byte, 65535)
	for {
		n, _, err := p.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		if !p.isUp() {
			continue
		}
		frame, err := headers.ParseEthernetFrame(buf[:n])
		if err != nil {
			continue
		}
		deliver(frame)
	}
}
