// Package router implements longest-prefix-match IP forwarding across a
// set of NetworkInterfaces, per spec.md §4.7.
package router

import (
	"net/netip"

	"github.com/google/btree"
	"github.com/tmthrgd/go-popcount"

	"tcpip-core/pkg/headers"
	"tcpip-core/pkg/netif"
)

// Route is one routing table entry: a prefix with an optional next hop and
// the outbound interface to hand matching datagrams to.
type Route struct {
	Prefix       netip.Prefix
	NextHop      netip.Addr // zero Addr means "no next hop, use dest IP"
	HasNextHop   bool
	InterfaceIdx int
}

type routeEntry struct {
	prefixNum uint32
	route     Route
}

func routeEntryLess(a, b routeEntry) bool {
	return a.prefixNum < b.prefixNum
}

// Router owns a set of interfaces plus a routing table organized as one
// ordered map per prefix length (0..32), so lookups walk prefix lengths
// from 32 down to 0 and return the first hit, per spec.md §4.7.
type Router struct {
	interfaces []*netif.NetworkInterface
	tables     [33]*btree.BTreeG[routeEntry]

	localAddrs   map[netip.Addr]bool
	localDeliver func(headers.IPv4Datagram)
}

// New constructs a Router over the given interfaces, indexed by position
// (the "interface_index" referenced by spec.md §4.7).
func New(interfaces []*netif.NetworkInterface) *Router {
	r := &Router{interfaces: interfaces, localAddrs: make(map[netip.Addr]bool)}
	for i := range r.tables {
		r.tables[i] = btree.NewG(32, routeEntryLess)
	}
	return r
}

// SetLocalDelivery registers the set of IPs this router's own node answers
// to and the callback to invoke for datagrams addressed to one of them,
// instead of forwarding. Used by the node runtime to hand TCP/RIP
// datagrams addressed to the node itself to the socket/RIP layers rather
// than treating them as transit traffic.
func (r *Router) SetLocalDelivery(addrs []netip.Addr, deliver func(headers.IPv4Datagram)) {
	r.localAddrs = make(map[netip.Addr]bool, len(addrs))
	for _, a := range addrs {
		r.localAddrs[a] = true
	}
	r.localDeliver = deliver
}

// Interfaces returns the router's interfaces in index order.
func (r *Router) Interfaces() []*netif.NetworkInterface { return r.interfaces }

func prefixToNum(p netip.Prefix) uint32 {
	b := p.Addr().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PrefixLenFromMask converts a dotted-quad subnet mask into a bit length by
// counting its set bits, for callers that supply a mask instead of a
// bit-length directly.
func PrefixLenFromMask(mask netip.Addr) int {
	b := mask.As4()
	return int(popcount.CountBytes(b[:]))
}

// AddRoute stores prefix → (nextHop, interfaceIdx) in the table for
// prefix.Bits(). A route with no next hop (hasNextHop == false) forwards to
// the datagram's own destination IP, for directly-attached subnets.
func (r *Router) AddRoute(prefix netip.Prefix, nextHop netip.Addr, hasNextHop bool, interfaceIdx int) {
	length := prefix.Bits()
	masked := prefix.Masked()
	entry := routeEntry{
		prefixNum: prefixToNum(masked),
		route: Route{
			Prefix:       masked,
			NextHop:      nextHop,
			HasNextHop:   hasNextHop,
			InterfaceIdx: interfaceIdx,
		},
	}
	r.tables[length].ReplaceOrInsert(entry)
}

// RemoveRoute deletes the entry for the given prefix, if present. Used by
// pkg/rip to garbage-collect expired learned routes.
func (r *Router) RemoveRoute(prefix netip.Prefix) {
	length := prefix.Bits()
	masked := prefix.Masked()
	r.tables[length].Delete(routeEntry{prefixNum: prefixToNum(masked)})
}

// Lookup returns the longest-prefix-match route for dest, per spec.md
// §4.7's definition: an entry of length L matches iff the top L bits of
// dest equal the stored prefix, and length 0 matches everything.
func (r *Router) Lookup(dest netip.Addr) (Route, bool) {
	destBytes := dest.As4()
	destNum := uint32(destBytes[0])<<24 | uint32(destBytes[1])<<16 | uint32(destBytes[2])<<8 | uint32(destBytes[3])

	for length := 32; length >= 0; length-- {
		var mask uint32
		if length == 0 {
			mask = 0
		} else {
			mask = ^uint32(0) << (32 - length)
		}
		key := destNum & mask
		var found Route
		ok := false
		r.tables[length].AscendGreaterOrEqual(routeEntry{prefixNum: key}, func(e routeEntry) bool {
			if e.prefixNum == key {
				found = e.route
				ok = true
			}
			return false
		})
		if ok {
			return found, true
		}
	}
	return Route{}, false
}

// AllRoutes returns every route in the table, for the operator REPL's `lr`
// command.
func (r *Router) AllRoutes() []Route {
	var out []Route
	for _, table := range r.tables {
		table.Ascend(func(e routeEntry) bool {
			out = append(out, e.route)
			return true
		})
	}
	return out
}

// RouteOnce drains every interface's received-datagram FIFO and forwards
// each datagram per spec.md §4.7's five-step algorithm.
func (r *Router) RouteOnce() {
	for _, iface := range r.interfaces {
		for _, dgram := range iface.ReceivedDatagrams() {
			r.forward(dgram)
		}
	}
}

func (r *Router) forward(dgram headers.IPv4Datagram) {
	if r.localAddrs[dgram.Header.Dst] {
		if r.localDeliver != nil {
			r.localDeliver(dgram)
		}
		return
	}

	if dgram.Header.TTL <= 1 {
		return
	}
	dgram.Header.TTL--
	dgram.RecomputeChecksum()

	route, ok := r.Lookup(dgram.Header.Dst)
	if !ok {
		return
	}

	target := dgram.Header.Dst
	if route.HasNextHop {
		target = route.NextHop
	}

	if route.InterfaceIdx < 0 || route.InterfaceIdx >= len(r.interfaces) {
		return
	}
	r.interfaces[route.InterfaceIdx].SendDatagram(dgram, target)
}
