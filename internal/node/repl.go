package node

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"tcpip-core/pkg/headers"
)

// Li lists every interface's name, assigned address/prefix, and
// administrative up/down state, matching the teacher's `li` command.
func (n *Node) Li() string {
	res := "Name  Addr/Prefix       State"
	for i, ifCfg := range n.config.Interfaces {
		state := "up"
		if !n.ports[i].isUp() {
			state = "down"
		}
		res += fmt.Sprintf("\n%s  %s/%d  %s", ifCfg.Name, ifCfg.AssignedIP, ifCfg.AssignedPrefix.Bits(), state)
	}
	return res
}

// Ln lists every neighbor reachable over an up interface, matching the
// teacher's `ln` command.
func (n *Node) Ln() string {
	res := "Iface  VIP              UDPAddr"
	for _, nb := range n.config.Neighbors {
		idx := n.interfaceIndex(nb.InterfaceName)
		if idx < 0 || !n.ports[idx].isUp() {
			continue
		}
		res += fmt.Sprintf("\n%s  %s  %s", nb.InterfaceName, nb.PeerIP, nb.PeerUDPAddr)
	}
	return res
}

// Lr lists every route in the routing table, matching the teacher's `lr`
// command.
func (n *Node) Lr() string {
	res := "T  Prefix           Next hop"
	for _, route := range n.rt.AllRoutes() {
		kind := "R"
		nextHop := route.NextHop.String()
		if !route.HasNextHop {
			kind = "L"
			nextHop = "LOCAL:" + n.config.Interfaces[route.InterfaceIdx].Name
		}
		res += fmt.Sprintf("\n%s  %s  %s", kind, route.Prefix, nextHop)
	}
	return res
}

// Up brings interface name back up; down is the inverse. Both match the
// teacher's `up`/`down` commands.
func (n *Node) Up(name string) {
	if idx := n.interfaceIndex(name); idx >= 0 {
		n.ports[idx].setUp(true)
	}
}

func (n *Node) Down(name string) {
	if idx := n.interfaceIndex(name); idx >= 0 {
		n.ports[idx].setUp(false)
	}
}

// Send routes a test-protocol message to dest, matching the teacher's
// `send` command.
func (n *Node) Send(dest netip.Addr, message string) {
	route, ok := n.rt.Lookup(dest)
	if !ok {
		return
	}
	var srcAddr netip.Addr
	if route.InterfaceIdx >= 0 && route.InterfaceIdx < len(n.interfaces) {
		srcAddr = n.interfaces[route.InterfaceIdx].IP()
	}
	dgram := headers.NewIPv4Datagram(srcAddr, dest, headers.ProtocolTest, 64, []byte(message))
	n.sendIPv4(dgram)
}

// RunREPL reads operator commands from in and writes responses to out,
// until in is exhausted, matching the teacher's cmd/vhost.go /
// cmd/vrouter.go scanner loop.
func (n *Node) RunREPL(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Enter command:")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n.runCommand(line, out)
	}
}

func (n *Node) runCommand(line string, out io.Writer) {
	fields := strings.Fields(line)
	switch {
	case line == "li":
		fmt.Fprintln(out, n.Li())
	case line == "ln":
		fmt.Fprintln(out, n.Ln())
	case line == "lr":
		fmt.Fprintln(out, n.Lr())
	case line == "ls":
		n.listSockets(out)
	case len(fields) == 2 && fields[0] == "up":
		n.Up(fields[1])
	case len(fields) == 2 && fields[0] == "down":
		n.Down(fields[1])
	case len(fields) >= 3 && fields[0] == "send":
		dest, err := netip.ParseAddr(fields[1])
		if err != nil {
			fmt.Fprintln(out, "invalid IP address")
			return
		}
		n.Send(dest, strings.Join(fields[2:], " "))
	case len(fields) == 2 && fields[0] == "a":
		port, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		go n.acceptLoop(uint16(port), out)
	case len(fields) == 3 && fields[0] == "c":
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		n.connectCommand(addr, uint16(port), out)
	case len(fields) >= 3 && fields[0] == "s":
		id, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		n.writeCommand(uint32(id), strings.Join(fields[2:], " "), out)
	case len(fields) == 3 && fields[0] == "r":
		id, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		numBytes, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		n.readCommand(uint32(id), int(numBytes), out)
	case len(fields) == 2 && fields[0] == "cl":
		id, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		n.closeCommand(uint32(id), out)
	default:
		fmt.Fprintln(out, "Invalid command.")
	}
}
