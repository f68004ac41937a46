// Package tcpsender implements the TCP sender half of a connection: turning
// bytes pushed into an outbound ByteStream into segments under the
// receiver's advertised window, and retransmitting with exponential
// backoff.
package tcpsender

import (
	"container/list"

	"tcpip-core/pkg/bytestream"
	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// TransmitFunc is called by Push and Tick for every segment (including
// retransmissions) that needs to go out on the wire.
type TransmitFunc func(tcpmsg.Sender)

// outstanding is one not-yet-fully-acknowledged segment still sitting in
// the retransmission queue.
type outstanding struct {
	msg tcpmsg.Sender
}

// Sender is the TCP sender state machine described in spec.md §4.5.
type Sender struct {
	isn   wrap.Wrap32
	input *bytestream.ByteStream

	nextSeqno uint64
	ackno     uint64
	window    uint16

	bytesInFlight uint64
	synSent       bool
	finSent       bool

	initialRTOms uint64
	currentRTOms uint64

	elapsedMs      uint64
	timerRunning   bool
	consecutiveRTX uint64

	outstanding *list.List // of outstanding
}

// New constructs a Sender over input with the given ISN and initial RTO (in
// milliseconds). The advertised window starts at 1, per spec.md §3.
func New(isn wrap.Wrap32, initialRTOms uint64, input *bytestream.ByteStream) *Sender {
	return &Sender{
		isn:          isn,
		input:        input,
		window:       1,
		initialRTOms: initialRTOms,
		currentRTOms: initialRTOms,
		outstanding:  list.New(),
	}
}

// SequenceNumbersInFlight is a test accessor equal to bytesInFlight.
func (s *Sender) SequenceNumbersInFlight() uint64 {
	return s.bytesInFlight
}

// ConsecutiveRetransmissions is a test accessor.
func (s *Sender) ConsecutiveRetransmissions() uint64 {
	return s.consecutiveRTX
}

func (s *Sender) effectiveWindow() uint64 {
	if s.window == 0 {
		return 1
	}
	return uint64(s.window)
}

// Push sends as many segments as the effective window currently allows,
// draining input as it goes.
func (s *Sender) Push(transmit TransmitFunc) {
	for {
		effective := s.effectiveWindow()
		if s.bytesInFlight >= effective || s.finSent {
			return
		}

		msg := tcpmsg.Sender{Seqno: wrap.Wrap(s.nextSeqno, s.isn)}

		if !s.synSent {
			msg.SYN = true
			s.synSent = true
		}

		currentLen := msg.SequenceLength()
		remaining := effective - s.bytesInFlight - currentLen
		payloadCap := remaining
		if tcpmsg.MaxPayloadSize < payloadCap {
			payloadCap = tcpmsg.MaxPayloadSize
		}
		if buffered := s.input.BytesBuffered(); buffered < payloadCap {
			payloadCap = buffered
		}

		if payloadCap > 0 {
			payload := make([]byte, payloadCap)
			n := s.input.Read(payload)
			msg.Payload = payload[:n]
		}

		remainingAfterPayload := remaining - uint64(len(msg.Payload))
		if !s.finSent && s.input.IsClosed() && s.input.BytesBuffered() == 0 && remainingAfterPayload >= 1 {
			msg.FIN = true
			s.finSent = true
		}

		seqLen := msg.SequenceLength()
		if seqLen == 0 {
			return
		}

		transmit(msg)
		s.outstanding.PushBack(&outstanding{msg: msg})
		s.nextSeqno += seqLen
		s.bytesInFlight += seqLen

		if !s.timerRunning {
			s.timerRunning = true
			s.elapsedMs = 0
		}
	}
}

// SendAck transmits a zero-length, flagless segment at the current
// sequence position, used by a connection layer to acknowledge inbound
// data when Push had nothing of its own to piggyback the ack on. Unlike a
// normal segment, it is not added to the retransmission queue.
func (s *Sender) SendAck(transmit TransmitFunc) {
	transmit(tcpmsg.Sender{Seqno: wrap.Wrap(s.nextSeqno, s.isn)})
}

// Receive processes an acknowledgement/window update from the receiver.
func (s *Sender) Receive(msg tcpmsg.Receiver) {
	if msg.RST {
		s.input.SetError()
		return
	}

	s.window = msg.WindowSize

	if !msg.HasAckno {
		return
	}

	ackAbs := msg.Ackno.Unwrap(s.isn, s.nextSeqno)
	if ackAbs > s.nextSeqno {
		return
	}
	if ackAbs <= s.ackno {
		return
	}

	s.ackno = ackAbs

	poppedAny := false
	for e := s.outstanding.Front(); e != nil; {
		seg := e.Value.(*outstanding)
		segStart := seg.msg.Seqno.Unwrap(s.isn, s.nextSeqno)
		segEnd := segStart + seg.msg.SequenceLength()
		if segEnd > ackAbs {
			break
		}
		next := e.Next()
		s.bytesInFlight -= seg.msg.SequenceLength()
		s.outstanding.Remove(e)
		poppedAny = true
		e = next
	}

	if poppedAny {
		s.currentRTOms = s.initialRTOms
		s.consecutiveRTX = 0
		s.elapsedMs = 0
		s.timerRunning = s.outstanding.Len() > 0
	}
}

// Tick advances the retransmission timer by ms and retransmits the oldest
// outstanding segment if the timer has expired.
func (s *Sender) Tick(ms uint64, transmit TransmitFunc) {
	s.elapsedMs += ms

	if !s.timerRunning || s.outstanding.Len() == 0 {
		return
	}
	if s.elapsedMs < s.currentRTOms {
		return
	}

	front := s.outstanding.Front().Value.(*outstanding)
	transmit(front.msg)

	if s.window > 0 {
		s.consecutiveRTX++
		s.currentRTOms *= 2
	}

	s.elapsedMs = 0
}
