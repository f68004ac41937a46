package tcpsender

import (
	"testing"

	"tcpip-core/pkg/bytestream"
	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

func TestSynDataFinAck(t *testing.T) {
	isn := wrap.WrapUint32(12345)
	in := bytestream.New(64)
	s := New(isn, 1000, in)

	var sent []tcpmsg.Sender
	transmit := func(m tcpmsg.Sender) { sent = append(sent, m) }

	s.Receive(tcpmsg.Receiver{HasAckno: false, WindowSize: 1}) // prime window to 1
	s.Push(transmit)
	if len(sent) != 1 || !sent[0].SYN || len(sent[0].Payload) != 0 {
		t.Fatalf("expected a single SYN-only segment, got %+v", sent)
	}
	if sent[0].Seqno.Raw() != isn.Raw() {
		t.Fatalf("SYN seqno = %d, want %d", sent[0].Seqno.Raw(), isn.Raw())
	}
	if s.SequenceNumbersInFlight() != 1 {
		t.Fatalf("in flight = %d, want 1", s.SequenceNumbersInFlight())
	}

	sent = nil
	s.Receive(tcpmsg.Receiver{HasAckno: true, Ackno: wrap.Wrap(1, isn), WindowSize: 1024})
	if s.SequenceNumbersInFlight() != 0 {
		t.Fatalf("in flight after ack = %d, want 0", s.SequenceNumbersInFlight())
	}

	in.Push([]byte("ab"))
	in.Close()
	s.Push(transmit)
	if len(sent) != 1 || string(sent[0].Payload) != "ab" || !sent[0].FIN {
		t.Fatalf("expected one segment with payload ab + FIN, got %+v", sent)
	}
	if sent[0].SequenceLength() != 3 {
		t.Fatalf("sequence length = %d, want 3", sent[0].SequenceLength())
	}

	s.Receive(tcpmsg.Receiver{HasAckno: true, Ackno: wrap.Wrap(4, isn), WindowSize: 1024})
	if s.SequenceNumbersInFlight() != 0 {
		t.Fatalf("in flight after final ack = %d, want 0", s.SequenceNumbersInFlight())
	}
}

func TestImpossibleAckIgnored(t *testing.T) {
	isn := wrap.WrapUint32(100)
	in := bytestream.New(64)
	s := New(isn, 1000, in)

	var sent []tcpmsg.Sender
	s.Push(func(m tcpmsg.Sender) { sent = append(sent, m) })
	if len(sent) != 1 {
		t.Fatalf("expected SYN to be sent")
	}

	s.Receive(tcpmsg.Receiver{HasAckno: true, Ackno: wrap.Wrap(2, isn), WindowSize: 1000})
	if s.SequenceNumbersInFlight() != 1 {
		t.Fatalf("in flight = %d, want 1 after impossible ack", s.SequenceNumbersInFlight())
	}
}

func TestExponentialBackoff(t *testing.T) {
	isn := wrap.WrapUint32(7)
	in := bytestream.New(64)
	s := New(isn, 1000, in)
	s.window = 1000 // non-zero window for the retransmission count/backoff rule

	var transmits int
	transmit := func(m tcpmsg.Sender) { transmits++ }
	s.Push(transmit)
	transmits = 0

	s.Tick(999, transmit)
	if transmits != 0 {
		t.Fatalf("no retransmit expected before RTO elapses")
	}
	s.Tick(1, transmit)
	if transmits != 1 || s.currentRTOms != 2000 {
		t.Fatalf("expected one retransmit and RTO doubled to 2000, got transmits=%d rto=%d", transmits, s.currentRTOms)
	}

	s.Tick(1999, transmit)
	if transmits != 1 {
		t.Fatalf("no second retransmit expected before new RTO elapses")
	}
	s.Tick(1, transmit)
	if transmits != 2 || s.currentRTOms != 4000 {
		t.Fatalf("expected second retransmit and RTO doubled to 4000, got transmits=%d rto=%d", transmits, s.currentRTOms)
	}
	if s.ConsecutiveRetransmissions() != 2 {
		t.Fatalf("consecutive retransmissions = %d, want 2", s.ConsecutiveRetransmissions())
	}
}

func TestRetransmissionNeverChangesBytesInFlight(t *testing.T) {
	isn := wrap.WrapUint32(1)
	in := bytestream.New(64)
	s := New(isn, 1000, in)
	s.window = 1000

	s.Push(func(tcpmsg.Sender) {})
	before := s.SequenceNumbersInFlight()

	s.Tick(1000, func(tcpmsg.Sender) {})
	if s.SequenceNumbersInFlight() != before {
		t.Fatalf("retransmission changed bytes in flight: before=%d after=%d", before, s.SequenceNumbersInFlight())
	}
}

func TestRSTSetsErrorOnInput(t *testing.T) {
	isn := wrap.WrapUint32(1)
	in := bytestream.New(64)
	s := New(isn, 1000, in)

	s.Receive(tcpmsg.Receiver{RST: true})
	if !in.HasError() {
		t.Fatalf("RST from receiver should set error on the input stream")
	}
}
