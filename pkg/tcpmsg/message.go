// Package tcpmsg defines the wire-form messages exchanged between a
// TCPSender and a TCPReceiver, independent of how they are carried
// (directly in tests, or encapsulated in IP datagrams by pkg/socket).
package tcpmsg

import "tcpip-core/pkg/wrap"

// MaxPayloadSize bounds a single segment's payload at 1452 bytes.
const MaxPayloadSize = 1452

// Sender is a segment sent from the sender side of a connection to the
// receiver side: SYN/data/FIN framed at some wire sequence number.
type Sender struct {
	Seqno   wrap.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
	RST     bool
}

// SequenceLength is the number of sequence-number units this segment
// consumes: one for SYN, one per payload byte, one for FIN.
func (m Sender) SequenceLength() uint64 {
	length := uint64(len(m.Payload))
	if m.SYN {
		length++
	}
	if m.FIN {
		length++
	}
	return length
}

// Receiver is a segment sent from the receiver side back to the sender:
// acknowledgement, advertised window, and RST.
type Receiver struct {
	Ackno      wrap.Wrap32
	HasAckno   bool
	WindowSize uint16
	RST        bool
}
