package router

import (
	"net/netip"
	"testing"

	"tcpip-core/pkg/headers"
	"tcpip-core/pkg/netif"
)

type fakePort struct {
	frames []headers.EthernetFrame
}

func (p *fakePort) Transmit(f headers.EthernetFrame) { p.frames = append(p.frames, f) }

func newTestInterface(name string, ipStr string) (*netif.NetworkInterface, *fakePort) {
	port := &fakePort{}
	mac := headers.MACAddr{1, 2, 3, 4, 5, 6}
	iface := netif.New(name, port, mac, netip.MustParseAddr(ipStr))
	return iface, port
}

func deliverDatagram(iface *netif.NetworkInterface, dgram headers.IPv4Datagram) {
	payload, _ := headers.SerializeIPv4(dgram)
	iface.RecvFrame(headers.EthernetFrame{
		Header:  headers.EthernetHeader{Dst: iface.MAC(), Src: headers.MACAddr{9, 9, 9, 9, 9, 9}, Type: headers.EthernetTypeIPv4},
		Payload: payload,
	})
}

func TestLongestPrefixMatch(t *testing.T) {
	ifaceA, portA := newTestInterface("eth0", "10.0.0.1")
	ifaceB, portB := newTestInterface("eth1", "10.1.0.1")
	r := New([]*netif.NetworkInterface{ifaceA, ifaceB})

	r.AddRoute(netip.MustParsePrefix("0.0.0.0/0"), netip.MustParseAddr("10.0.0.254"), true, 0)
	r.AddRoute(netip.MustParsePrefix("10.1.0.0/16"), netip.Addr{}, false, 1)

	dgram := headers.NewIPv4Datagram(netip.MustParseAddr("9.9.9.9"), netip.MustParseAddr("10.1.0.5"), headers.ProtocolTCP, 64, []byte("x"))
	deliverDatagram(ifaceA, dgram)

	r.RouteOnce()

	if len(portA.frames) != 0 {
		t.Fatalf("expected datagram routed out eth1, not back out eth0's port")
	}
	if len(portB.frames) != 1 {
		t.Fatalf("expected the more specific /16 route to win, forwarding out eth1, got %d frames", len(portB.frames))
	}
}

func TestTTLExpiredDroppedSilently(t *testing.T) {
	ifaceA, portA := newTestInterface("eth0", "10.0.0.1")
	r := New([]*netif.NetworkInterface{ifaceA})
	r.AddRoute(netip.MustParsePrefix("0.0.0.0/0"), netip.MustParseAddr("10.0.0.254"), true, 0)

	dgram := headers.NewIPv4Datagram(netip.MustParseAddr("9.9.9.9"), netip.MustParseAddr("8.8.8.8"), headers.ProtocolTCP, 1, []byte("x"))
	deliverDatagram(ifaceA, dgram)

	r.RouteOnce()

	if len(portA.frames) != 0 {
		t.Fatalf("expected datagram with TTL<=1 to be dropped, got %d frames", len(portA.frames))
	}
}

func TestNoMatchingRouteDroppedSilently(t *testing.T) {
	ifaceA, portA := newTestInterface("eth0", "10.0.0.1")
	r := New([]*netif.NetworkInterface{ifaceA})

	dgram := headers.NewIPv4Datagram(netip.MustParseAddr("9.9.9.9"), netip.MustParseAddr("8.8.8.8"), headers.ProtocolTCP, 64, []byte("x"))
	deliverDatagram(ifaceA, dgram)

	r.RouteOnce()

	if len(portA.frames) != 0 {
		t.Fatalf("expected unroutable datagram to be dropped, got %d frames", len(portA.frames))
	}
}

func TestTTLDecrementedAndChecksumRecomputed(t *testing.T) {
	ifaceA, _ := newTestInterface("eth0", "10.0.0.1")
	ifaceB, portB := newTestInterface("eth1", "10.1.0.1")
	r := New([]*netif.NetworkInterface{ifaceA, ifaceB})
	r.AddRoute(netip.MustParsePrefix("10.1.0.0/16"), netip.Addr{}, false, 1)

	// Teach eth1 the destination's MAC first, so the forwarded datagram is
	// sent as an IPv4 frame rather than queued behind an ARP request.
	peerMAC := headers.MACAddr{7, 7, 7, 7, 7, 7}
	ifaceB.RecvFrame(headers.EthernetFrame{
		Header:  headers.EthernetHeader{Dst: ifaceB.MAC(), Src: peerMAC, Type: headers.EthernetTypeARP},
		Payload: headers.SerializeARP(headers.ARPMessage{Opcode: headers.ARPOpReply, SenderMAC: peerMAC, SenderIP: 0x0a010005}),
	})

	dgram := headers.NewIPv4Datagram(netip.MustParseAddr("9.9.9.9"), netip.MustParseAddr("10.1.0.5"), headers.ProtocolTCP, 64, []byte("x"))
	originalTTL := dgram.Header.TTL
	deliverDatagram(ifaceA, dgram)

	r.RouteOnce()

	if len(portB.frames) != 1 {
		t.Fatalf("expected forwarded datagram out eth1, got %d frames", len(portB.frames))
	}
	parsed, err := headers.ParseIPv4(portB.frames[0].Payload)
	if err != nil {
		t.Fatalf("forwarded datagram failed checksum verification: %v", err)
	}
	if parsed.Header.TTL != originalTTL-1 {
		t.Fatalf("expected TTL decremented from %d to %d, got %d", originalTTL, originalTTL-1, parsed.Header.TTL)
	}
}

func TestPrefixLenFromMask(t *testing.T) {
	mask := netip.MustParseAddr("255.255.255.0")
	if got := PrefixLenFromMask(mask); got != 24 {
		t.Fatalf("expected /24 from 255.255.255.0, got /%d", got)
	}
	mask = netip.MustParseAddr("255.255.0.0")
	if got := PrefixLenFromMask(mask); got != 16 {
		t.Fatalf("expected /16 from 255.255.0.0, got /%d", got)
	}
}

func TestRemoveRoute(t *testing.T) {
	ifaceA, _ := newTestInterface("eth0", "10.0.0.1")
	r := New([]*netif.NetworkInterface{ifaceA})
	prefix := netip.MustParsePrefix("10.1.0.0/16")
	r.AddRoute(prefix, netip.Addr{}, false, 0)

	if _, ok := r.Lookup(netip.MustParseAddr("10.1.0.5")); !ok {
		t.Fatalf("expected route to exist before removal")
	}
	r.RemoveRoute(prefix)
	if _, ok := r.Lookup(netip.MustParseAddr("10.1.0.5")); ok {
		t.Fatalf("expected route to be gone after removal")
	}
}
