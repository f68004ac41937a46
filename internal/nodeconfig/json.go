package nodeconfig

import (
	"encoding/json"
	"net/netip"
	"os"

	"github.com/pkg/errors"
)

// jsonConfig mirrors Config with string fields, the on-disk shape cmd/vhost
// and cmd/vrouter load at startup. The teacher's own config format
// (lnxconfig's custom ini-style ".lnx" files) is never vendored into the
// retrieval pack, so this module defines its own minimal JSON shape instead
// of reimplementing an unavailable parser.
type jsonConfig struct {
	Interfaces []struct {
		Name     string `json:"name"`
		Addr     string `json:"addr"`
		BindAddr string `json:"bind_addr"`
	} `json:"interfaces"`
	Neighbors []struct {
		Interface string `json:"interface"`
		PeerIP    string `json:"peer_ip"`
		PeerAddr  string `json:"peer_addr"`
	} `json:"neighbors"`
	StaticRoutes []struct {
		Prefix  string `json:"prefix"`
		NextHop string `json:"next_hop"`
	} `json:"static_routes"`
	RIPNeighbors []string `json:"rip_neighbors"`
	RIPEnabled   bool     `json:"rip_enabled"`
}

// LoadJSON reads and parses a node configuration file.
func LoadJSON(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	var jc jsonConfig
	if err := json.Unmarshal(raw, &jc); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}

	var cfg Config
	for _, ifc := range jc.Interfaces {
		prefix, err := netip.ParsePrefix(ifc.Addr)
		if err != nil {
			return Config{}, errors.Wrapf(err, "interface %s: parse addr", ifc.Name)
		}
		bindAddr, err := netip.ParseAddrPort(ifc.BindAddr)
		if err != nil {
			return Config{}, errors.Wrapf(err, "interface %s: parse bind_addr", ifc.Name)
		}
		cfg.Interfaces = append(cfg.Interfaces, InterfaceConfig{
			Name:           ifc.Name,
			AssignedIP:     prefix.Addr(),
			AssignedPrefix: prefix,
			BindAddr:       bindAddr,
		})
	}

	for _, nb := range jc.Neighbors {
		peerIP, err := netip.ParseAddr(nb.PeerIP)
		if err != nil {
			return Config{}, errors.Wrapf(err, "neighbor on %s: parse peer_ip", nb.Interface)
		}
		peerAddr, err := netip.ParseAddrPort(nb.PeerAddr)
		if err != nil {
			return Config{}, errors.Wrapf(err, "neighbor on %s: parse peer_addr", nb.Interface)
		}
		cfg.Neighbors = append(cfg.Neighbors, NeighborConfig{
			InterfaceName: nb.Interface,
			PeerIP:        peerIP,
			PeerUDPAddr:   peerAddr,
		})
	}

	for _, sr := range jc.StaticRoutes {
		prefix, err := netip.ParsePrefix(sr.Prefix)
		if err != nil {
			return Config{}, errors.Wrap(err, "parse static route prefix")
		}
		nextHop, err := netip.ParseAddr(sr.NextHop)
		if err != nil {
			return Config{}, errors.Wrap(err, "parse static route next_hop")
		}
		cfg.StaticRoutes = append(cfg.StaticRoutes, StaticRoute{Prefix: prefix, NextHop: nextHop})
	}

	for _, ripIP := range jc.RIPNeighbors {
		addr, err := netip.ParseAddr(ripIP)
		if err != nil {
			return Config{}, errors.Wrap(err, "parse rip_neighbors entry")
		}
		cfg.RIPNeighbors = append(cfg.RIPNeighbors, addr)
	}
	cfg.RIPEnabled = jc.RIPEnabled

	return cfg, nil
}
