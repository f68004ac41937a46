// Package tcpreceiver implements the TCP receiver half of a connection: it
// drives a Reassembler from inbound sender segments and reports an ackno,
// advertised window, and RST back to the sender.
package tcpreceiver

import (
	"tcpip-core/pkg/reassembler"
	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// Receiver is the TCP receiver state machine described in spec.md §4.4.
type Receiver struct {
	isn      wrap.Wrap32
	isnKnown bool

	reassembler *reassembler.Reassembler
}

// New constructs a Receiver that owns r; the ISN is unknown until the SYN
// segment arrives.
func New(r *reassembler.Reassembler) *Receiver {
	return &Receiver{reassembler: r}
}

// Reassembler exposes the owned reassembler, e.g. for reading delivered
// bytes off its output stream.
func (rc *Receiver) Reassembler() *reassembler.Reassembler {
	return rc.reassembler
}

// Receive processes one inbound sender segment.
func (rc *Receiver) Receive(msg tcpmsg.Sender) {
	if msg.RST {
		rc.reassembler.Output().SetError()
		return
	}

	if msg.SYN && !rc.isnKnown {
		rc.isn = msg.Seqno
		rc.isnKnown = true
	}

	if !rc.isnKnown {
		return
	}

	checkpoint := rc.reassembler.Output().BytesPushed()
	absSeqno := msg.Seqno.Unwrap(rc.isn, checkpoint)

	var streamIndex uint64
	if msg.SYN {
		streamIndex = 0
	} else {
		streamIndex = absSeqno - 1
	}

	rc.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)
}

// Send produces the ackno/window/RST report to hand back to the sender.
func (rc *Receiver) Send() tcpmsg.Receiver {
	var out tcpmsg.Receiver

	if rc.isnKnown {
		out.HasAckno = true
		absAckno := 1 + rc.reassembler.Output().BytesPushed()
		if rc.reassembler.Output().IsClosed() {
			absAckno++
		}
		out.Ackno = wrap.Wrap(absAckno, rc.isn)
	}

	window := rc.reassembler.Output().AvailableCapacity()
	if window > 65535 {
		window = 65535
	}
	out.WindowSize = uint16(window)

	out.RST = rc.reassembler.Output().HasError()

	return out
}
