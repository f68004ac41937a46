// Package socket implements a byte-stream-oriented connection API
// (VListen/VAccept/VConnect/VRead/VWrite/VClose) layered on top of
// pkg/tcpsender and pkg/tcpreceiver, per SPEC_FULL.md §4.10.
package socket

import (
	"io"
	"math/rand"
	"net/netip"
	"sync"

	"github.com/pkg/errors"

	"tcpip-core/pkg/bytestream"
	"tcpip-core/pkg/reassembler"
	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/tcpreceiver"
	"tcpip-core/pkg/tcpsender"
	"tcpip-core/pkg/wrap"
)

// DefaultWindowSize bounds both the outbound and inbound ByteStreams a
// Socket is built over.
const DefaultWindowSize = 64 * 1024

// DefaultInitialRTOms is the sender's starting retransmission timeout.
const DefaultInitialRTOms = 1000

// ephemeralPortLo/Hi bound VConnect's ephemeral port allocation, matching
// the teacher's 20000-65535 range in pkg/socket.go.
const ephemeralPortLo = 20000
const ephemeralPortHi = 65535

// FourTuple identifies a TCP connection the way the teacher's
// tcp_pkg/tcp_protocol.go keys its connections table.
type FourTuple struct {
	LocalAddr   netip.Addr
	LocalPort   uint16
	RemoteAddr  netip.Addr
	RemotePort  uint16
}

// State is a display-only label mirrored from the sender/receiver flags;
// the sender/receiver remain the authoritative state per spec.md §4.5.
type State int

const (
	StateSynSent State = iota
	StateSynReceived
	StateEstablished
	StateFinWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SegmentTransport sends a TCP segment to a peer; the node runtime
// supplies an implementation that serializes via pkg/headers and hands
// the datagram to pkg/router.
type SegmentTransport interface {
	SendSegment(ft FourTuple, msg tcpmsg.Sender, ackno wrap.Wrap32, hasAck bool, window uint16)
}

// Socket is one established (or establishing) TCP connection.
type Socket struct {
	mu sync.Mutex

	ft        FourTuple
	transport SegmentTransport

	outbound *bytestream.ByteStream
	inbound  *bytestream.ByteStream

	sender   *tcpsender.Sender
	receiver *tcpreceiver.Receiver

	state State

	established       chan struct{}
	establishedClosed bool
	handshakeStarted  bool
}

func newSocket(ft FourTuple, transport SegmentTransport, isn wrap.Wrap32) *Socket {
	outbound := bytestream.New(DefaultWindowSize)
	inbound := bytestream.New(DefaultWindowSize)
	return &Socket{
		ft:          ft,
		transport:   transport,
		outbound:    outbound,
		inbound:     inbound,
		sender:      tcpsender.New(isn, DefaultInitialRTOms, outbound),
		receiver:    tcpreceiver.New(reassembler.New(inbound)),
		established: make(chan struct{}),
	}
}

// FourTuple returns the connection's identifying four-tuple.
func (s *Socket) FourTuple() FourTuple {
	return s.ft
}

// State returns the connection's display-only state label.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transmit sends one segment for this socket's sender, attaching the
// receiver's current ack/window report, per the teacher's sendTCP.
func (s *Socket) transmit(msg tcpmsg.Sender) {
	report := s.receiver.Send()
	s.transport.SendSegment(s.ft, msg, report.Ackno, report.HasAckno, report.WindowSize)
}

// pushLocked drains the outbound stream into segments under the current
// lock. Callers must hold s.mu.
func (s *Socket) pushLocked() {
	s.sender.Push(s.transmit)
}

// startHandshakeLocked emits the connection's first segment (SYN for an
// active open, SYN-ACK for a passive open) and arms the established-wait.
// Callers must hold s.mu.
func (s *Socket) startHandshakeLocked() {
	s.handshakeStarted = true
	s.pushLocked()
}

// VWrite pushes data into the outbound ByteStream for the sender to
// segment and transmit.
func (s *Socket) VWrite(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.outboundStream()
	if stream.IsClosed() {
		return 0, errors.New("socket: write on closed connection")
	}
	before := stream.BytesPushed()
	stream.Push(data)
	n := int(stream.BytesPushed() - before)
	s.pushLocked()
	return n, nil
}

// VRead pops up to len(buf) bytes delivered by the receiver's reassembler.
// It returns io.EOF once the inbound stream is finished and drained.
func (s *Socket) VRead(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.inboundStream()
	n := stream.Read(buf)
	if n == 0 && stream.IsFinished() {
		return 0, io.EOF
	}
	return n, nil
}

// VClose closes the outbound ByteStream's writer side so the sender emits
// FIN once buffered data drains, per spec.md §4.5 step 4.
func (s *Socket) VClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outboundStream().Close()
	s.pushLocked()
	s.state = StateFinWait
	return nil
}

// HandleSegment feeds an inbound segment to the receiver and drains any
// newly-sendable data/acks through the sender, called by the node
// runtime's dispatch loop.
func (s *Socket) HandleSegment(msg tcpmsg.Sender, ackno wrap.Wrap32, hasAck bool, window uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receiver.Receive(msg)
	s.sender.Receive(tcpmsg.Receiver{Ackno: ackno, HasAckno: hasAck, WindowSize: window, RST: msg.RST})
	pushed := false
	s.sender.Push(func(m tcpmsg.Sender) {
		pushed = true
		s.transmit(m)
	})

	if !pushed && (msg.SYN || msg.FIN || len(msg.Payload) > 0) {
		s.sender.SendAck(s.transmit)
	}

	if s.handshakeStarted && s.state != StateEstablished && s.sender.SequenceNumbersInFlight() == 0 {
		s.markEstablished()
	}
}

// Tick advances the sender's retransmission timer.
func (s *Socket) Tick(ms uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender.Tick(ms, s.transmit)
}

func (s *Socket) markEstablished() {
	s.state = StateEstablished
	if !s.establishedClosed {
		close(s.established)
		s.establishedClosed = true
	}
}

// waitEstablished blocks until the handshake completes.
func (s *Socket) waitEstablished() {
	<-s.established
}

func (s *Socket) outboundStream() *bytestream.ByteStream {
	return s.outbound
}

func (s *Socket) inboundStream() *bytestream.ByteStream {
	return s.inbound
}

func randomISN() wrap.Wrap32 {
	return wrap.WrapUint32(rand.Uint32())
}
