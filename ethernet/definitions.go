// Package ethernet implements Ethernet II framing and the device that
// demultiplexes received frames to ARP or IPv4 and re-encapsulates outbound
// payloads for transmission over a link driver.
package ethernet

import "strconv"

// sizeHeader is the fixed Ethernet II header length: destination (6) +
// source (6) + ethertype (2). This stack does not interpret 802.1Q VLAN
// tags or 802.2 LLC/SNAP framing.
const sizeHeader = 14

// AppendAddr appends the text representation of the hardware address to dst.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all-ones Ethernet broadcast address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Type is the EtherType field identifying the encapsulated L3 protocol.
type Type uint16

// The two EtherTypes this stack dispatches on.
const (
	TypeIPv4 Type = 0x0800
	TypeARP  Type = 0x0806
)

func (t Type) String() string {
	switch t {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	default:
		return "EtherType(0x" + strconv.FormatUint(uint64(t), 16) + ")"
	}
}
