package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cerdav/microps/internal/buffers"
)

// NewFrame returns a Frame viewing buf. An error is returned if buf is
// shorter than the fixed 20 byte header; callers working with options or
// payload should still call Validate before trusting derived offsets.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame is a zero-copy view over an IPv4 datagram (RFC 791).
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was constructed with.
func (f Frame) RawData() []byte { return f.buf }

// HeaderLength returns the IPv4 header length in bytes, options included.
func (f Frame) HeaderLength() int { return int(f.ihl()) * 4 }

func (f Frame) ihl() uint8     { return f.buf[0] & 0xf }
func (f Frame) version() uint8 { return f.buf[0] >> 4 }

// VersionAndIHL returns the version and IHL header fields.
func (f Frame) VersionAndIHL() (version, ihl uint8) { return f.version(), f.ihl() }

// SetVersionAndIHL sets the version and IHL header fields.
func (f Frame) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

// ToS returns the Type of Service / DSCP+ECN field.
func (f Frame) ToS() ToS { return ToS(f.buf[1]) }

// SetToS sets the ToS field.
func (f Frame) SetToS(tos ToS) { f.buf[1] = byte(tos) }

// TotalLength returns the entire datagram size in bytes, header included.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets the TotalLength field.
func (f Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(f.buf[2:4], tl) }

// ID returns the identification field used to group a datagram's fragments.
func (f Frame) ID() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetID sets the ID field.
func (f Frame) SetID(id uint16) { binary.BigEndian.PutUint16(f.buf[4:6], id) }

// Flags returns the packed flags/fragment-offset field.
func (f Frame) Flags() Flags { return Flags(binary.BigEndian.Uint16(f.buf[6:8])) }

// SetFlags sets the flags/fragment-offset field.
func (f Frame) SetFlags(flags Flags) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(flags)) }

// TTL returns the time-to-live field.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets the TTL field.
func (f Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

// Protocol returns the upper-layer protocol field.
func (f Frame) Protocol() Protocol { return Protocol(f.buf[9]) }

// SetProtocol sets the upper-layer protocol field.
func (f Frame) SetProtocol(p Protocol) { f.buf[9] = uint8(p) }

// CRC returns the header checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetCRC sets the header checksum field.
func (f Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(f.buf[10:12], crc) }

// CalculateHeaderCRC computes the RFC 1071 checksum over the header only
// (the CRC field itself excluded): the upper-layer protocols that need a
// pseudo-header sum (UDP) compute their own, so this stack never folds the
// payload into the IPv4-layer checksum.
func (f Frame) CalculateHeaderCRC() uint16 {
	var c buffers.Checksum791
	hl := f.HeaderLength()
	c.Write(f.buf[0:10])
	c.Write(f.buf[12:hl])
	return c.Sum16()
}

// SourceAddr returns a pointer to the source address field.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer to the destination address field.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Payload returns the datagram payload, sized from TotalLength.
func (f Frame) Payload() []byte {
	off := f.HeaderLength()
	return f.buf[off:f.TotalLength()]
}

// Options returns the header's options bytes, which may be zero length.
func (f Frame) Options() []byte {
	off := f.HeaderLength()
	return f.buf[sizeHeader:off]
}

// ClearHeader zeros the fixed (non-option) portion of the header.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
}

// Validate checks the frame's size fields, version, and header checksum for
// internal consistency, per distilled spec §4.3's "reject/drop malformed
// datagrams" requirement. It does not validate upper-layer content.
func (f Frame) Validate() error {
	ihl := f.ihl()
	tl := f.TotalLength()
	if ihl < 5 {
		return errBadIHL
	}
	if int(tl) < int(ihl)*4 || int(tl) > len(f.buf) {
		return errBadTL
	}
	if f.version() != 4 {
		return errBadVersion
	}
	if f.CalculateHeaderCRC() != f.CRC() {
		return errBadCRC
	}
	return nil
}

func (f Frame) String() string {
	src := netip.AddrFrom4(*f.SourceAddr())
	dst := netip.AddrFrom4(*f.DestinationAddr())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d TTL=%d ID=%d", f.Protocol(), src, dst, f.TotalLength(), f.TTL(), f.ID())
}

// BuildHeader fills in a fresh header (version 4, no options) for a
// locally-originated datagram with the given payload length, leaving the
// checksum for the caller to compute once the header is complete (typically
// via CalculateHeaderCRC after SetTTL/SetID/etc).
func BuildHeader(buf []byte, proto Protocol, src, dst [4]byte, payloadLen int) Frame {
	f := Frame{buf: buf[:sizeHeader]}
	f.ClearHeader()
	f.SetVersionAndIHL(4, 5)
	f.SetTotalLength(uint16(sizeHeader + payloadLen))
	f.SetTTL(DefaultTTL)
	f.SetProtocol(proto)
	*f.SourceAddr() = src
	*f.DestinationAddr() = dst
	return f
}
