// Package nodeconfig defines the in-memory node configuration the
// node runtime (cmd/vhost, cmd/vrouter) is built against, per
// SPEC_FULL.md §3's Node config. LoadJSON reads it from a JSON file; the
// teacher's ".lnx" config format is not parsed.
package nodeconfig

import "net/netip"

// InterfaceConfig describes one local interface: its name, assigned IP
// and subnet, and the UDP address it binds to (standing in for its
// physical Ethernet port).
type InterfaceConfig struct {
	Name         string
	AssignedIP   netip.Addr
	AssignedPrefix netip.Prefix
	BindAddr     netip.AddrPort
}

// NeighborConfig describes a peer reachable over one local interface: its
// IP and the UDP address to send frames addressed to it.
type NeighborConfig struct {
	InterfaceName string
	PeerIP        netip.Addr
	PeerUDPAddr   netip.AddrPort
}

// StaticRoute is an operator-configured route, never timed out or
// re-advertised with a learned cost, per SPEC_FULL.md §3/§4.8.
type StaticRoute struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
}

// Config is the full node configuration consumed by cmd/vhost/cmd/vrouter
// at startup.
type Config struct {
	Interfaces   []InterfaceConfig
	Neighbors    []NeighborConfig
	StaticRoutes []StaticRoute
	RIPNeighbors []netip.Addr
	RIPEnabled   bool
}

// InterfaceByName returns the configured interface named name, if any.
func (c Config) InterfaceByName(name string) (InterfaceConfig, bool) {
	for _, ifc := range c.Interfaces {
		if ifc.Name == name {
			return ifc, true
		}
	}
	return InterfaceConfig{}, false
}
