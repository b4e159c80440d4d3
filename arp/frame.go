package arp

import (
	"encoding/binary"

	"github.com/cerdav/microps/ethernet"
)

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the fixed 28 byte IPv4-over-Ethernet ARP frame.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a zero-copy view over an ARP packet restricted to the
// IPv4-over-Ethernet case: hardware type, protocol type, hw-len (6),
// proto-len (4), operation, then sender/target hardware and protocol
// addresses (distilled spec §4.2).
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was constructed with.
func (f Frame) RawData() []byte { return f.buf }

// HardwareType returns the hardware type field. Must be 1 (Ethernet) for a
// frame this stack accepts.
func (f Frame) HardwareType() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetHardwareType sets the hardware type field.
func (f Frame) SetHardwareType(t uint16) { binary.BigEndian.PutUint16(f.buf[0:2], t) }

// ProtocolType returns the protocol type field. Must be 0x0800 (IPv4) for a
// frame this stack accepts.
func (f Frame) ProtocolType() ethernet.Type {
	return ethernet.Type(binary.BigEndian.Uint16(f.buf[2:4]))
}

// SetProtocolType sets the protocol type field.
func (f Frame) SetProtocolType(t ethernet.Type) { binary.BigEndian.PutUint16(f.buf[2:4], uint16(t)) }

// HardwareLen returns the hardware address length field. Must be 6.
func (f Frame) HardwareLen() uint8 { return f.buf[4] }

// ProtocolLen returns the protocol address length field. Must be 4.
func (f Frame) ProtocolLen() uint8 { return f.buf[5] }

// Operation returns the ARP operation field.
func (f Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(f.buf[6:8])) }

// SetOperation sets the ARP operation field.
func (f Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(op)) }

// SenderHardwareAddr returns the sender hardware (MAC) address.
func (f Frame) SenderHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[8:14]) }

// SenderProtocolAddr returns the sender protocol (IPv4) address.
func (f Frame) SenderProtocolAddr() *[4]byte { return (*[4]byte)(f.buf[14:18]) }

// TargetHardwareAddr returns the target hardware (MAC) address.
func (f Frame) TargetHardwareAddr() *[6]byte { return (*[6]byte)(f.buf[18:24]) }

// TargetProtocolAddr returns the target protocol (IPv4) address.
func (f Frame) TargetProtocolAddr() *[4]byte { return (*[4]byte)(f.buf[24:28]) }

// ValidateFixedFields checks the fixed fields (hardware/protocol type and
// length) against the IPv4-over-Ethernet constants this stack requires. Any
// mismatch is a parse error per distilled spec §4.2.
func (f Frame) ValidateFixedFields() error {
	if f.HardwareType() != hwTypeEthernet || f.HardwareLen() != 6 {
		return errBadHardware
	}
	if f.ProtocolType() != ethernet.TypeIPv4 || f.ProtocolLen() != 4 {
		return errBadProtocol
	}
	return nil
}

// BuildRequest writes an ARP request for targetIP into buf (which must be at
// least 28 bytes), from senderMAC/senderIP.
func BuildRequest(buf []byte, senderMAC [6]byte, senderIP [4]byte, targetIP [4]byte) Frame {
	f := Frame{buf: buf[:sizeHeader]}
	f.SetHardwareType(hwTypeEthernet)
	f.SetProtocolType(ethernet.TypeIPv4)
	f.buf[4] = 6
	f.buf[5] = 4
	f.SetOperation(OpRequest)
	*f.SenderHardwareAddr() = senderMAC
	*f.SenderProtocolAddr() = senderIP
	*f.TargetHardwareAddr() = [6]byte{}
	*f.TargetProtocolAddr() = targetIP
	return f
}

// BuildReply writes an ARP reply to requester (senderMAC/senderIP of the
// original request) into buf, from ourMAC/ourIP.
func BuildReply(buf []byte, ourMAC [6]byte, ourIP [4]byte, requesterMAC [6]byte, requesterIP [4]byte) Frame {
	f := Frame{buf: buf[:sizeHeader]}
	f.SetHardwareType(hwTypeEthernet)
	f.SetProtocolType(ethernet.TypeIPv4)
	f.buf[4] = 6
	f.buf[5] = 4
	f.SetOperation(OpReply)
	*f.SenderHardwareAddr() = ourMAC
	*f.SenderProtocolAddr() = ourIP
	*f.TargetHardwareAddr() = requesterMAC
	*f.TargetProtocolAddr() = requesterIP
	return f
}
