// Package node wires the core components together over real UDP sockets
// standing in for Ethernet wire transport between nodes, and runs the
// operator REPL, per SPEC_FULL.md §4.11.
package node

import (
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"

	"tcpip-core/internal/nodeconfig"
	"tcpip-core/pkg/headers"
	"tcpip-core/pkg/netif"
	"tcpip-core/pkg/rip"
	"tcpip-core/pkg/router"
	"tcpip-core/pkg/socket"
	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// TickInterval is how often the node drives every core component's
// Tick/RouteOnce, matching the teacher's 10ms-scale REPL ticker.
const TickInterval = 10 * time.Millisecond

// Node owns a set of interfaces, a router, an optional RIP instance, and a
// socket table, and runs the background goroutines that drive them.
type Node struct {
	mu sync.Mutex

	config     nodeconfig.Config
	interfaces []*netif.NetworkInterface
	ports      []*udpPort

	rt       *router.Router
	ripInst  *rip.Instance
	sockets  *socket.Table
	registry *socketRegistry

	stopCh chan struct{}
}

// New constructs a Node from cfg. If cfg.RIPEnabled, a RIP instance is
// created to advertise and learn routes into the router; Start starts it.
func New(cfg nodeconfig.Config) (*Node, error) {
	n := &Node{config: cfg, stopCh: make(chan struct{})}

	for _, ifCfg := range cfg.Interfaces {
		port, err := newUDPPort(ifCfg.BindAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "bind interface %s", ifCfg.Name)
		}
		mac := macForIP(ifCfg.AssignedIP)
		iface := netif.New(ifCfg.Name, port, mac, ifCfg.AssignedIP)
		n.interfaces = append(n.interfaces, iface)
		n.ports = append(n.ports, port)
	}

	for _, nb := range cfg.Neighbors {
		idx := n.interfaceIndex(nb.InterfaceName)
		if idx < 0 {
			continue
		}
		n.ports[idx].addNeighbor(macForIP(nb.PeerIP), nb.PeerUDPAddr)
	}

	n.rt = router.New(n.interfaces)
	for i, ifCfg := range cfg.Interfaces {
		n.rt.AddRoute(ifCfg.AssignedPrefix, netip.Addr{}, false, i)
	}
	for _, sr := range cfg.StaticRoutes {
		idx := n.interfaceForNextHop(sr.NextHop)
		if idx < 0 {
			continue
		}
		n.rt.AddRoute(sr.Prefix, sr.NextHop, true, idx)
	}

	n.sockets = socket.NewTable(&segmentTransport{n: n})
	n.registry = newSocketRegistry()

	if cfg.RIPEnabled {
		n.ripInst = rip.New(n.rt, &ripTransport{n: n}, n.buildRIPNeighbors(), n.localPrefixes(), n.staticPrefixes())
	}

	var localAddrs []netip.Addr
	for _, ifCfg := range cfg.Interfaces {
		localAddrs = append(localAddrs, ifCfg.AssignedIP)
	}
	n.rt.SetLocalDelivery(localAddrs, n.handleLocalDatagram)

	return n, nil
}

// handleLocalDatagram dispatches a datagram addressed to one of this node's
// own interface IPs to the socket table (TCP) or the RIP instance (RIP),
// instead of forwarding it, per Router.SetLocalDelivery.
func (n *Node) handleLocalDatagram(dgram headers.IPv4Datagram) {
	switch dgram.Header.Protocol {
	case headers.ProtocolTCP:
		seg, err := headers.ParseTCPSegment(dgram.Payload, dgram.Header.Src, dgram.Header.Dst)
		if err != nil {
			return
		}
		n.sockets.DispatchSegment(dgram.Header.Dst, seg.DstPort, dgram.Header.Src, seg.SrcPort,
			seg.Sender, wrap.WrapUint32(seg.Ackno), seg.HasAck, seg.Window)

	case headers.ProtocolRIP:
		if n.ripInst == nil {
			return
		}
		p, ok := rip.Parse(dgram.Payload)
		if !ok {
			return
		}
		idx := n.interfaceIndexForLocalAddr(dgram.Header.Dst)
		if idx < 0 {
			return
		}
		nb := rip.Neighbor{InterfaceIdx: idx, Addr: netip.AddrPortFrom(dgram.Header.Src, ripPort)}
		switch p.Command {
		case rip.CommandRequest:
			n.ripInst.HandleRequest(nb)
		case rip.CommandResponse:
			n.ripInst.HandleResponse(nb, p)
		}
	}
}

// interfaceIndexForLocalAddr finds the interface whose assigned IP is addr,
// used to identify which interface a locally-addressed RIP packet arrived
// on.
func (n *Node) interfaceIndexForLocalAddr(addr netip.Addr) int {
	for i, ifCfg := range n.config.Interfaces {
		if ifCfg.AssignedIP == addr {
			return i
		}
	}
	return -1
}

func (n *Node) interfaceIndex(name string) int {
	for i, ifCfg := range n.config.Interfaces {
		if ifCfg.Name == name {
			return i
		}
	}
	return -1
}

// interfaceForNextHop finds the interface whose directly-attached subnet
// contains nextHop, used to resolve a static route's outbound interface.
func (n *Node) interfaceForNextHop(nextHop netip.Addr) int {
	for i, ifCfg := range n.config.Interfaces {
		if ifCfg.AssignedPrefix.Contains(nextHop) {
			return i
		}
	}
	return -1
}

// ripPort is a nominal port used only to satisfy netip.AddrPort's shape;
// RIP packets travel as IPv4 datagrams with protocol ProtocolRIP, not over
// UDP/TCP ports.
const ripPort = 520

func (n *Node) buildRIPNeighbors() []rip.Neighbor {
	var out []rip.Neighbor
	for _, nb := range n.config.Neighbors {
		idx := n.interfaceIndex(nb.InterfaceName)
		if idx < 0 {
			continue
		}
		for _, ripIP := range n.config.RIPNeighbors {
			if ripIP == nb.PeerIP {
				out = append(out, rip.Neighbor{InterfaceIdx: idx, Addr: netip.AddrPortFrom(nb.PeerIP, ripPort)})
			}
		}
	}
	return out
}

func (n *Node) localPrefixes() []netip.Prefix {
	var out []netip.Prefix
	for _, ifCfg := range n.config.Interfaces {
		out = append(out, ifCfg.AssignedPrefix)
	}
	return out
}

func (n *Node) staticPrefixes() []netip.Prefix {
	var out []netip.Prefix
	for _, sr := range n.config.StaticRoutes {
		out = append(out, sr.Prefix)
	}
	return out
}

// sendIPv4 routes a locally-originated datagram (no TTL decrement — that
// only happens for transit traffic in Router.RouteOnce) out the matching
// interface.
func (n *Node) sendIPv4(dgram headers.IPv4Datagram) {
	route, ok := n.rt.Lookup(dgram.Header.Dst)
	if !ok {
		return
	}
	target := dgram.Header.Dst
	if route.HasNextHop {
		target = route.NextHop
	}
	if route.InterfaceIdx < 0 || route.InterfaceIdx >= len(n.interfaces) {
		return
	}
	n.interfaces[route.InterfaceIdx].SendDatagram(dgram, target)
}

// segmentTransport adapts pkg/socket's SegmentTransport interface to this
// node's header codec and routing.
type segmentTransport struct{ n *Node }

func (t *segmentTransport) SendSegment(ft socket.FourTuple, msg tcpmsg.Sender, ackno wrap.Wrap32, hasAck bool, window uint16) {
	raw := headers.SerializeTCPSegment(msg, ackno.Raw(), hasAck, window, ft.LocalAddr, ft.RemoteAddr, ft.LocalPort, ft.RemotePort)
	dgram := headers.NewIPv4Datagram(ft.LocalAddr, ft.RemoteAddr, headers.ProtocolTCP, 64, raw)
	t.n.sendIPv4(dgram)
}

// ripTransport adapts pkg/rip's Transport interface to this node's header
// codec and routing.
type ripTransport struct{ n *Node }

func (t *ripTransport) SendRIPPacket(nb rip.Neighbor, p rip.Packet) {
	if nb.InterfaceIdx < 0 || nb.InterfaceIdx >= len(t.n.interfaces) {
		return
	}
	iface := t.n.interfaces[nb.InterfaceIdx]
	dgram := headers.NewIPv4Datagram(iface.IP(), nb.Addr.Addr(), headers.ProtocolRIP, 64, rip.Serialize(p))
	iface.SendDatagram(dgram, nb.Addr.Addr())
}

// Start brings up every interface's UDP read loop and the periodic tick
// loop, and sends the initial RIP request if RIP is enabled.
func (n *Node) Start() {
	for i, port := range n.ports {
		iface := n.interfaces[i]
		go port.readLoop(func(frame headers.EthernetFrame) {
			n.mu.Lock()
			iface.RecvFrame(frame)
			n.mu.Unlock()
		})
	}

	if n.ripInst != nil {
		n.ripInst.Start()
	}

	go n.tickLoop()
}

// Stop halts the tick loop. UDP listeners are left running; the process
// exiting closes them.
func (n *Node) Stop() {
	close(n.stopCh)
}

func (n *Node) tickLoop() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	ms := uint64(TickInterval / time.Millisecond)

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			for _, iface := range n.interfaces {
				iface.Tick(ms)
			}
			n.rt.RouteOnce()
			if n.ripInst != nil {
				n.ripInst.Tick(ms)
			}
			n.mu.Unlock()

			n.sockets.TickAll(ms)
		}
	}
}

