package socket

import (
	"math/rand"
	"net/netip"
	"sync"

	"github.com/pkg/errors"

	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// Listener holds a bound local port and hands off newly-completed Sockets
// from the handshake path to VAccept, per SPEC_FULL.md §4.10.
type Listener struct {
	port     uint16
	localIP  netip.Addr
	accepted chan *Socket
	closed   chan struct{}
}

// VAccept blocks until a three-way handshake completes for this
// listener's port and returns the resulting ESTABLISHED Socket.
func (l *Listener) VAccept() (*Socket, error) {
	select {
	case s, ok := <-l.accepted:
		if !ok {
			return nil, errors.New("socket: listener closed")
		}
		return s, nil
	case <-l.closed:
		return nil, errors.New("socket: listener closed")
	}
}

// VClose stops the listener from accepting further connections.
func (l *Listener) VClose() error {
	close(l.closed)
	return nil
}

// Table demultiplexes inbound TCP segments by four-tuple (falling back to
// a listener's port-only key for the handshake SYN), matching the
// teacher's TCPHandler dispatch in pkg/tcp_protocol.go, but driving
// pkg/tcpsender/pkg/tcpreceiver instead of hand-rolled buffers.
type Table struct {
	mu sync.Mutex

	transport SegmentTransport

	listeners   map[uint16]*Listener
	connections map[FourTuple]*Socket
}

// NewTable constructs an empty connection table sending segments through
// transport.
func NewTable(transport SegmentTransport) *Table {
	return &Table{
		transport:   transport,
		listeners:   make(map[uint16]*Listener),
		connections: make(map[FourTuple]*Socket),
	}
}

// VListen registers a listener on port.
func (t *Table) VListen(localIP netip.Addr, port uint16) (*Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.listeners[port]; exists {
		return nil, errors.Errorf("socket: port %d already listening", port)
	}
	l := &Listener{
		port:     port,
		localIP:  localIP,
		accepted: make(chan *Socket, 16),
		closed:   make(chan struct{}),
	}
	t.listeners[port] = l
	return l, nil
}

// VConnect initiates an active open to remoteAddr:remotePort from
// localAddr, picking an ephemeral local port, and blocks until the
// handshake completes.
func (t *Table) VConnect(localAddr netip.Addr, remoteAddr netip.Addr, remotePort uint16) (*Socket, error) {
	t.mu.Lock()
	localPort, err := t.allocateEphemeralPortLocked()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	ft := FourTuple{LocalAddr: localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}
	sock := newSocket(ft, t.transport, randomISN())
	t.connections[ft] = sock
	t.mu.Unlock()

	sock.mu.Lock()
	sock.state = StateSynSent
	sock.startHandshakeLocked()
	sock.mu.Unlock()

	sock.waitEstablished()
	return sock, nil
}

func (t *Table) allocateEphemeralPortLocked() (uint16, error) {
	for attempt := 0; attempt < 1000; attempt++ {
		port := uint16(ephemeralPortLo + rand.Intn(ephemeralPortHi-ephemeralPortLo+1))
		inUse := false
		for ft := range t.connections {
			if ft.LocalPort == port {
				inUse = true
				break
			}
		}
		if !inUse {
			return port, nil
		}
	}
	return 0, errors.New("socket: no ephemeral port available")
}

// DispatchSegment routes an inbound segment to its matching Socket (or, for
// a handshake SYN, to a Listener on the destination port), per
// SPEC_FULL.md §4.10's four-tuple demultiplexing.
func (t *Table) DispatchSegment(localAddr netip.Addr, localPort uint16, remoteAddr netip.Addr, remotePort uint16,
	msg tcpmsg.Sender, ackno wrap.Wrap32, hasAck bool, window uint16) {

	ft := FourTuple{LocalAddr: localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}

	t.mu.Lock()
	sock, exists := t.connections[ft]
	if !exists && msg.SYN {
		listener, hasListener := t.listeners[localPort]
		if !hasListener {
			t.mu.Unlock()
			return
		}
		sock = newSocket(ft, t.transport, randomISN())
		t.connections[ft] = sock
		t.mu.Unlock()

		sock.mu.Lock()
		sock.state = StateSynReceived
		sock.receiver.Receive(msg)
		sock.startHandshakeLocked()
		sock.mu.Unlock()

		go func() {
			sock.waitEstablished()
			select {
			case listener.accepted <- sock:
			case <-listener.closed:
			}
		}()
		return
	}
	t.mu.Unlock()

	if !exists {
		return
	}
	sock.HandleSegment(msg, ackno, hasAck, window)
}

// TickAll advances every connection's retransmission timer by ms.
func (t *Table) TickAll(ms uint64) {
	t.mu.Lock()
	sockets := make([]*Socket, 0, len(t.connections))
	for _, s := range t.connections {
		sockets = append(sockets, s)
	}
	t.mu.Unlock()

	for _, s := range sockets {
		s.Tick(ms)
	}
}

// Connections returns a snapshot of all tracked sockets, for the `ls`
// REPL command.
func (t *Table) Connections() []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Socket, 0, len(t.connections))
	for _, s := range t.connections {
		out = append(out, s)
	}
	return out
}
