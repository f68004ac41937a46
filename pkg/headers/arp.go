package headers

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ARPOpcode distinguishes ARP requests from replies.
type ARPOpcode uint16

const (
	ARPOpRequest ARPOpcode = 1
	ARPOpReply   ARPOpcode = 2
)

// arpMessageLen is the fixed on-the-wire size of the IPv4-over-Ethernet ARP
// message this codec supports, per spec.md §6.
const arpMessageLen = 28

// ARPMessage is the fixed 28-byte ARP message described in spec.md §6.
type ARPMessage struct {
	Opcode     ARPOpcode
	SenderMAC  MACAddr
	SenderIP   uint32
	TargetMAC  MACAddr
	TargetIP   uint32
}

// SerializeARP encodes msg into its 28-byte wire form. Hardware type
// (Ethernet, 1), protocol type (IPv4, 0x0800), and address-length fields
// are fixed and not exposed on ARPMessage since the core never inspects
// them.
func SerializeARP(msg ARPMessage) []byte {
	out := make([]byte, arpMessageLen)
	binary.BigEndian.PutUint16(out[0:2], 1)      // hardware type: Ethernet
	binary.BigEndian.PutUint16(out[2:4], 0x0800) // protocol type: IPv4
	out[4] = 6                                   // hardware address length
	out[5] = 4                                   // protocol address length
	binary.BigEndian.PutUint16(out[6:8], uint16(msg.Opcode))
	copy(out[8:14], msg.SenderMAC[:])
	binary.BigEndian.PutUint32(out[14:18], msg.SenderIP)
	copy(out[18:24], msg.TargetMAC[:])
	binary.BigEndian.PutUint32(out[24:28], msg.TargetIP)
	return out
}

// ParseARP decodes raw into an ARPMessage.
func ParseARP(raw []byte) (ARPMessage, error) {
	if len(raw) < arpMessageLen {
		return ARPMessage{}, errors.New("arp message shorter than fixed length")
	}
	var msg ARPMessage
	msg.Opcode = ARPOpcode(binary.BigEndian.Uint16(raw[6:8]))
	copy(msg.SenderMAC[:], raw[8:14])
	msg.SenderIP = binary.BigEndian.Uint32(raw[14:18])
	copy(msg.TargetMAC[:], raw[18:24])
	msg.TargetIP = binary.BigEndian.Uint32(raw[24:28])
	return msg, nil
}
