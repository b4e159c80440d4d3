package microps

import (
	"errors"
	"fmt"
)

// Error kinds surfaced on the send path and recorded (but not propagated) on
// the receive path. These are sentinel values rather than a generic
// exception type so callers can compare with errors.Is.
var (
	// ErrParse marks a short buffer or disallowed constant encountered while
	// parsing a wire header.
	ErrParse = errors.New("microps: parse error")
	// ErrBadChecksum marks a computed checksum mismatch.
	ErrBadChecksum = errors.New("microps: bad checksum")
	// ErrBadProtocol marks an IPv4 protocol field this stack does not handle.
	ErrBadProtocol = errors.New("microps: unhandled protocol")
	// ErrNoInterface marks a device with no attached IPv4 interface.
	ErrNoInterface = errors.New("microps: no interface")
	// ErrNoRoute marks a send with no matching route table entry.
	ErrNoRoute = errors.New("microps: no route")
	// ErrNoPort marks UDP auto port assignment exhausting the ephemeral range.
	ErrNoPort = errors.New("microps: no free port")
	// ErrInvalidAddress marks a bind against an address no local interface owns.
	ErrInvalidAddress = errors.New("microps: address not local")
	// ErrArpTimeout marks ARP resolution that did not complete within its deadline.
	ErrArpTimeout = errors.New("microps: arp resolution timed out")
	// ErrTimeout marks a blocking receive whose deadline elapsed.
	ErrTimeout = errors.New("microps: timeout")
	// ErrTimeExceeded marks a forwarded datagram whose TTL reached zero.
	ErrTimeExceeded = errors.New("microps: ttl exceeded")
	// ErrFragmentNeeded marks a forwarded datagram that needed fragmentation
	// but carried the Don't-Fragment flag.
	ErrFragmentNeeded = errors.New("microps: fragmentation needed")
	// ErrDestUnreach marks a forwarding failure that produced an ICMP
	// destination-unreachable response.
	ErrDestUnreach = errors.New("microps: destination unreachable")
	// ErrTooManyFragments marks a full reassembly table.
	ErrTooManyFragments = errors.New("microps: too many in-flight fragment sets")
	// ErrLinkOpen, ErrLinkRead, ErrLinkWrite mark failures from the external
	// link driver (§6 of the design: TAP or packet socket).
	ErrLinkOpen  = errors.New("microps: link open failed")
	ErrLinkRead  = errors.New("microps: link read failed")
	ErrLinkWrite = errors.New("microps: link write failed")
)

// OpError wraps a lower-level error with the operation and address context
// that produced it, in the style of net.OpError.
type OpError struct {
	Op   string
	Addr fmt.Stringer
	Err  error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Addr != nil {
		s += " " + e.Addr.String()
	}
	return s + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
