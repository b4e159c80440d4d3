package ethernet

import (
	"encoding/binary"
	"errors"
)

var errShort = errors.New("ethernet: frame shorter than 14 byte header")

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the 14 byte Ethernet II header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a zero-copy view over an Ethernet II frame: 6 byte destination
// address, 6 byte source address, 2 byte EtherType, followed by payload.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was constructed with.
func (f Frame) RawData() []byte { return f.buf }

// DestinationHardwareAddr returns the frame's destination MAC address.
func (f Frame) DestinationHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[0:6]) }

// SourceHardwareAddr returns the frame's source MAC address.
func (f Frame) SourceHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[6:12]) }

// EtherType returns the frame's EtherType field.
func (f Frame) EtherType() Type { return Type(binary.BigEndian.Uint16(f.buf[12:14])) }

// SetEtherType sets the frame's EtherType field.
func (f Frame) SetEtherType(t Type) { binary.BigEndian.PutUint16(f.buf[12:14], uint16(t)) }

// Payload returns the frame's payload, the bytes following the 14 byte header.
func (f Frame) Payload() []byte { return f.buf[sizeHeader:] }

// IsBroadcast reports whether the destination address is the Ethernet
// broadcast address.
func (f Frame) IsBroadcast() bool {
	d := f.DestinationHardwareAddr()
	for _, b := range d {
		if b != 0xff {
			return false
		}
	}
	return true
}

// BuildHeader writes the 14 byte Ethernet header (destination, source,
// ethertype) at the start of buf. buf must be at least 14 bytes.
func BuildHeader(buf []byte, dst, src [6]byte, ethertype Type) {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(ethertype))
}

// HeaderLen is the fixed Ethernet II header length.
const HeaderLen = sizeHeader
