// Package rip implements a distance-vector routing protocol (request/
// response, split horizon, periodic and triggered updates, route expiry)
// feeding learned routes into a pkg/router.Router, per SPEC_FULL.md §4.8.
package rip

import (
	"encoding/binary"
	"net/netip"

	"tcpip-core/pkg/router"
)

// Command distinguishes RIP requests from responses.
type Command uint16

const (
	CommandRequest  Command = 1
	CommandResponse Command = 2
)

// INFCost is the split-horizon substitute cost advertised for a route back
// toward its own next hop, and the cost treated as "unreachable."
const INFCost = 16

// EntryTimeMs is how often the periodic full-table update fires.
const EntryTimeMs = 5_000

// RouteTimeoutMs is how long a rip-kind entry can go unrefreshed before it
// is garbage-collected, per SPEC_FULL.md §4.8 (12×ENTRY_TIME).
const RouteTimeoutMs = 12 * EntryTimeMs

// Entry is one RIP wire entry: a prefix encoded as (address, mask) plus its
// advertised cost, big-endian on the wire.
type Entry struct {
	Cost    uint32
	Address uint32
	Mask    uint32
}

// Packet is a full RIP message: a command plus zero or more entries.
type Packet struct {
	Command Command
	Entries []Entry
}

const entryLen = 12
const headerLen = 4

// Serialize encodes p into its wire form.
func Serialize(p Packet) []byte {
	out := make([]byte, headerLen+entryLen*len(p.Entries))
	binary.BigEndian.PutUint16(out[0:2], uint16(p.Command))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(p.Entries)))
	off := headerLen
	for _, e := range p.Entries {
		binary.BigEndian.PutUint32(out[off:off+4], e.Cost)
		binary.BigEndian.PutUint32(out[off+4:off+8], e.Address)
		binary.BigEndian.PutUint32(out[off+8:off+12], e.Mask)
		off += entryLen
	}
	return out
}

// Parse decodes raw into a Packet.
func Parse(raw []byte) (Packet, bool) {
	if len(raw) < headerLen {
		return Packet{}, false
	}
	cmd := Command(binary.BigEndian.Uint16(raw[0:2]))
	numEntries := int(binary.BigEndian.Uint16(raw[2:4]))
	if len(raw) < headerLen+entryLen*numEntries {
		return Packet{}, false
	}
	p := Packet{Command: cmd, Entries: make([]Entry, numEntries)}
	off := headerLen
	for i := 0; i < numEntries; i++ {
		p.Entries[i] = Entry{
			Cost:    binary.BigEndian.Uint32(raw[off : off+4]),
			Address: binary.BigEndian.Uint32(raw[off+4 : off+8]),
			Mask:    binary.BigEndian.Uint32(raw[off+8 : off+12]),
		}
		off += entryLen
	}
	return p, true
}

func prefixToEntry(prefix netip.Prefix, cost uint32) Entry {
	b := prefix.Addr().As4()
	address := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	var mask uint32
	if prefix.Bits() > 0 {
		mask = ^uint32(0) << (32 - prefix.Bits())
	}
	return Entry{Cost: cost, Address: address, Mask: mask}
}

func entryToPrefix(e Entry) netip.Prefix {
	addr := netip.AddrFrom4([4]byte{byte(e.Address >> 24), byte(e.Address >> 16), byte(e.Address >> 8), byte(e.Address)})
	bits := router.PrefixLenFromMask(netip.AddrFrom4([4]byte{byte(e.Mask >> 24), byte(e.Mask >> 16), byte(e.Mask >> 8), byte(e.Mask)}))
	p, _ := addr.Prefix(bits)
	return p.Masked()
}

// kind distinguishes directly-attached, operator-configured, and learned
// routes, per SPEC_FULL.md §3's RIP route entry.
type kind int

const (
	kindLocal kind = iota
	kindStatic
	kindRIP
)

type entryState struct {
	cost        uint32
	nextHop     Neighbor
	kind        kind
	lastRefresh uint64 // Instance.elapsedMs at this entry's last refresh
}

// Neighbor identifies a RIP peer this router exchanges updates with.
type Neighbor struct {
	InterfaceIdx int
	Addr         netip.AddrPort
}

// Transport is how an Instance sends RIP packets to its neighbors; the
// node runtime supplies a UDP-backed implementation.
type Transport interface {
	SendRIPPacket(n Neighbor, p Packet)
}

// Instance runs the distance-vector protocol over a Router's routing
// table, per SPEC_FULL.md §4.8.
type Instance struct {
	rt        *router.Router
	transport Transport
	neighbors []Neighbor

	routes map[netip.Prefix]*entryState

	elapsedMs uint64
}

// New constructs a RIP instance advertising/learning routes into rt via
// transport, starting with the given set of neighbors and locally-owned
// (directly-attached) and static prefixes.
func New(rt *router.Router, transport Transport, neighbors []Neighbor, localPrefixes []netip.Prefix, staticPrefixes []netip.Prefix) *Instance {
	inst := &Instance{
		rt:        rt,
		transport: transport,
		neighbors: neighbors,
		routes:    make(map[netip.Prefix]*entryState),
	}
	for _, p := range localPrefixes {
		inst.routes[p.Masked()] = &entryState{cost: 0, kind: kindLocal}
	}
	for _, p := range staticPrefixes {
		inst.routes[p.Masked()] = &entryState{cost: 0, kind: kindStatic}
	}
	return inst
}

// Start sends an initial REQUEST to every configured neighbor.
func (inst *Instance) Start() {
	for _, n := range inst.neighbors {
		inst.transport.SendRIPPacket(n, Packet{Command: CommandRequest})
	}
}

func (inst *Instance) costForNeighbor(prefix netip.Prefix, st *entryState, n Neighbor) uint32 {
	if st.kind == kindRIP && st.nextHop == n {
		return INFCost
	}
	return st.cost
}

func (inst *Instance) fullUpdateEntries(n Neighbor) []Entry {
	var out []Entry
	for prefix, st := range inst.routes {
		if st.kind == kindStatic {
			continue
		}
		out = append(out, prefixToEntry(prefix, inst.costForNeighbor(prefix, st, n)))
	}
	return out
}

// HandleRequest replies to a REQUEST from neighbor n with every
// non-static route, split-horizon-adjusted for n.
func (inst *Instance) HandleRequest(n Neighbor) {
	inst.transport.SendRIPPacket(n, Packet{Command: CommandResponse, Entries: inst.fullUpdateEntries(n)})
}

// HandleResponse processes a RESPONSE from neighbor n, updating the
// routing table per SPEC_FULL.md §4.8, and sends a triggered partial
// update for whatever changed.
func (inst *Instance) HandleResponse(n Neighbor, p Packet) {
	var changed []netip.Prefix

	for _, e := range p.Entries {
		prefix := entryToPrefix(e)
		newCost := e.Cost + 1
		if newCost > INFCost {
			newCost = INFCost
		}

		st, exists := inst.routes[prefix]
		switch {
		case !exists:
			if newCost >= INFCost {
				continue
			}
			inst.routes[prefix] = &entryState{cost: newCost, nextHop: n, kind: kindRIP, lastRefresh: inst.elapsedMs}
			inst.rt.AddRoute(prefix, n.Addr.Addr(), true, n.InterfaceIdx)
			changed = append(changed, prefix)

		case st.kind != kindRIP:
			// Never override a local/static route with a learned one.

		case st.nextHop == n:
			st.lastRefresh = inst.elapsedMs
			if newCost != st.cost {
				st.cost = newCost
				changed = append(changed, prefix)
			}
			if newCost >= INFCost {
				delete(inst.routes, prefix)
				inst.rt.RemoveRoute(prefix)
			} else {
				inst.rt.AddRoute(prefix, n.Addr.Addr(), true, n.InterfaceIdx)
			}

		case newCost < st.cost:
			st.cost = newCost
			st.nextHop = n
			st.lastRefresh = inst.elapsedMs
			inst.rt.AddRoute(prefix, n.Addr.Addr(), true, n.InterfaceIdx)
			changed = append(changed, prefix)

		default:
			// Equal or higher cost via a different next hop: ignore.
		}
	}

	if len(changed) > 0 {
		inst.sendTriggeredUpdate(changed)
	}
}

func (inst *Instance) sendTriggeredUpdate(changed []netip.Prefix) {
	for _, n := range inst.neighbors {
		var entries []Entry
		for _, prefix := range changed {
			st, ok := inst.routes[prefix]
			if !ok {
				continue
			}
			entries = append(entries, prefixToEntry(prefix, inst.costForNeighbor(prefix, st, n)))
		}
		if len(entries) > 0 {
			inst.transport.SendRIPPacket(n, Packet{Command: CommandResponse, Entries: entries})
		}
	}
}

// Tick ages elapsed time, fires the periodic full update every
// EntryTimeMs, and garbage-collects rip-kind entries older than
// RouteTimeoutMs.
func (inst *Instance) Tick(ms uint64) {
	prevElapsed := inst.elapsedMs
	inst.elapsedMs += ms

	if prevElapsed/EntryTimeMs != inst.elapsedMs/EntryTimeMs {
		for _, n := range inst.neighbors {
			inst.transport.SendRIPPacket(n, Packet{Command: CommandResponse, Entries: inst.fullUpdateEntries(n)})
		}
	}

	for prefix, st := range inst.routes {
		if st.kind != kindRIP {
			continue
		}
		if inst.elapsedMs-st.lastRefresh >= RouteTimeoutMs {
			delete(inst.routes, prefix)
			inst.rt.RemoveRoute(prefix)
		}
	}
}

// RouteCount reports how many entries (of any kind) this instance currently
// tracks, a test accessor.
func (inst *Instance) RouteCount() int { return len(inst.routes) }
