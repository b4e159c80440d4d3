package udp

import (
	"encoding/binary"

	"github.com/cerdav/microps/internal/buffers"
	"github.com/cerdav/microps/ipv4"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 8.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: buf}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a UDP datagram
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC768].
//
// [RFC768]: https://tools.ietf.org/html/rfc768
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// SourcePort identifies the sending port for the UDP packet. Must be non-zero.
func (ufrm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[0:2])
}

// SetSourcePort sets UDP source port. See [Frame.SourcePort]
func (ufrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[0:2], src)
}

// DestinationPort identifies the receiving port for the UDP packet. Must be non-zero.
func (ufrm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[2:4])
}

// SetDestinationPort sets UDP destination port. See [Frame.DestinationPort]
func (ufrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[2:4], dst)
}

// Length specifies length in bytes of UDP header and UDP payload. The minimum length
// is 8 bytes (UDP header length). This field should match the result of the IP header
// TotalLength field minus the IP header size: udp.Length == ip.TotalLength - 4*ip.IHL
func (ufrm Frame) Length() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[4:6])
}

// SetLength sets the UDP header's length field. See [Frame.Length].
func (ufrm Frame) SetLength(length uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[4:6], length)
}

// CRC returns the checksum field in the UDP header.
func (ufrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[6:8])
}

// SetCRC sets the UDP header's CRC field. See [Frame.CRC].
func (ufrm Frame) SetCRC(checksum uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[6:8], checksum)
}

// Payload returns the payload content section of the UDP packet.
// Be sure to call [Frame.Validate] beforehand to avoid panic.
func (ufrm Frame) Payload() []byte {
	l := ufrm.Length()
	return ufrm.buf[sizeHeader:l]
}

// CalculateIPv4Checksum computes the RFC 768 pseudo-header checksum for this
// datagram given the IPv4 addresses it travels between. It excludes the CRC
// field itself, matching ipv4.Frame.CalculateHeaderCRC's convention.
func (ufrm Frame) CalculateIPv4Checksum(src, dst [4]byte) uint16 {
	var c buffers.Checksum791
	c.Write(src[:])
	c.Write(dst[:])
	c.AddUint16(uint16(ipv4.ProtoUDP))
	c.AddUint16(ufrm.Length())
	c.Write(ufrm.buf[0:6]) // source port, destination port, length
	c.WritePadded(ufrm.Payload())
	return buffers.NeverZero(c.Sum16())
}

// VerifyIPv4Checksum reports whether ufrm's CRC field is consistent with its
// contents and the given pseudo-header addresses. A stored checksum of zero
// means the sender opted out of coverage, per RFC 768.
func (ufrm Frame) VerifyIPv4Checksum(src, dst [4]byte) bool {
	if ufrm.CRC() == 0 {
		return true
	}
	return ufrm.CalculateIPv4Checksum(src, dst) == ufrm.CRC()
}

// ClearHeader zeros out the header contents.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:sizeHeader] {
		frm.buf[i] = 0
	}
}

// Validate checks the frame's size fields and compares with the actual
// buffer backing the frame.
func (ufrm Frame) Validate() error {
	ul := ufrm.Length()
	if ul < sizeHeader {
		return errBadLen
	}
	if int(ul) > len(ufrm.RawData()) {
		return errShort
	}
	return nil
}

// BuildHeader fills in a fresh UDP header over buf (sized sizeHeader plus
// the payload) and returns the Frame view, leaving the checksum for the
// caller to compute once the payload is copied in.
func BuildHeader(buf []byte, srcPort, dstPort uint16, payloadLen int) Frame {
	f := Frame{buf: buf}
	f.ClearHeader()
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	f.SetLength(uint16(sizeHeader + payloadLen))
	return f
}
