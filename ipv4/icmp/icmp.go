// Package icmp implements ICMPv4 frame parsing/construction and the stock
// error/echo messages the stack emits, per the distilled spec's §4.6.
package icmp

import (
	"encoding/binary"
	"errors"

	"github.com/cerdav/microps/internal/buffers"
)

type Type uint8

const (
	TypeEchoReply Type = 0
	TypeEcho      Type = 8

	TypeDestinationUnreachable Type = 3
	TypeRedirect               Type = 5

	TypeTimeExceeded     Type = 11
	TypeParameterProblem Type = 12
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo_reply"
	case TypeEcho:
		return "echo"
	case TypeDestinationUnreachable:
		return "destination_unreachable"
	case TypeRedirect:
		return "redirect"
	case TypeTimeExceeded:
		return "time_exceeded"
	case TypeParameterProblem:
		return "parameter_problem"
	default:
		return "unknown"
	}
}

type CodeTimeExceeded uint8

const (
	CodeExceededInTransit  CodeTimeExceeded = iota // TTL exceeded in transit
	CodeFragmentReassembly                         // fragment reassembly time exceeded
)

type CodeDestinationUnreachable uint8

const (
	CodeNetUnreachable      CodeDestinationUnreachable = iota
	CodeHostUnreachable
	CodeProtoUnreachable
	CodePortUnreachable
	CodeFragNeededAndDFSet
	CodeSourceRouteFailed
)

var errShortFrame = errors.New("icmp: short frame")

// sizeHeader is the fixed 8-byte ICMP header (type, code, checksum, and the
// 4-byte rest-of-header that varies by type).
const sizeHeader = 8

// NewFrame returns a Frame viewing buf. buf must be at least 8 bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame is a zero-copy view over an ICMPv4 message (RFC 792).
type Frame struct {
	buf []byte
}

func (f Frame) RawData() []byte { return f.buf }

func (f Frame) Type() Type { return Type(f.buf[0]) }

func (f Frame) SetType(t Type) { f.buf[0] = uint8(t) }

func (f Frame) Code() uint8 { return f.buf[1] }

func (f Frame) SetCode(code uint8) { f.buf[1] = code }

// CRC returns the checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetCRC sets the checksum field.
func (f Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(f.buf[2:4], crc) }

// Payload returns everything past the fixed 8-byte header.
func (f Frame) Payload() []byte { return f.buf[sizeHeader:] }

// CalculateCRC computes the RFC 1071 checksum over the whole message,
// treating the checksum field itself as zero.
func (f Frame) CalculateCRC() uint16 {
	var c buffers.Checksum791
	c.AddUint16(uint16(f.buf[0])<<8 | uint16(f.buf[1]))
	c.WritePadded(f.buf[4:])
	return c.Sum16()
}

// FrameEcho is an ICMP echo/echo-reply message: identifier, sequence
// number, then opaque data that must be mirrored back unchanged.
type FrameEcho struct {
	Frame
}

func (f FrameEcho) Identifier() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

func (f FrameEcho) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(f.buf[4:6], id) }

func (f FrameEcho) SequenceNumber() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

func (f FrameEcho) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(f.buf[6:8], seq) }

func (f FrameEcho) Data() []byte { return f.buf[8:] }

// BuildEchoReply writes an echo-reply mirroring echoReq (identifier,
// sequence, and data) into buf, which must be at least len(echoReq.buf).
func BuildEchoReply(buf []byte, echoReq FrameEcho) FrameEcho {
	reply := FrameEcho{Frame{buf: buf[:len(echoReq.buf)]}}
	reply.SetType(TypeEchoReply)
	reply.SetCode(0)
	reply.SetIdentifier(echoReq.Identifier())
	reply.SetSequenceNumber(echoReq.SequenceNumber())
	copy(reply.Data(), echoReq.Data())
	reply.SetCRC(reply.CalculateCRC())
	return reply
}

// BuildError writes a RFC 792 error message of the given type/code into
// buf. The message body is the first 28 bytes of originalDatagram (all of
// it if shorter): for an option-less datagram that is the 20 byte header
// plus 8 bytes of payload, RFC 792's "internet header + 64 bits". Header
// options are not accounted for, so a datagram carrying options is quoted
// with less than 8 bytes of its payload.
func BuildError(buf []byte, t Type, code uint8, originalDatagram []byte) Frame {
	quoteLen := len(originalDatagram)
	const maxQuote = 28 // 20 byte IPv4 header + 8 bytes of payload
	if quoteLen > maxQuote {
		quoteLen = maxQuote
	}
	f := Frame{buf: buf[:sizeHeader+quoteLen]}
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
	f.SetType(t)
	f.SetCode(code)
	copy(f.buf[sizeHeader:], originalDatagram[:quoteLen])
	f.SetCRC(f.CalculateCRC())
	return f
}
