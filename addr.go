// Package microps implements a userspace TCP/IP protocol stack: Ethernet
// framing, ARP resolution, IPv4 input/output with fragmentation and
// forwarding, ICMP, and a UDP socket layer, atop an external L2 link
// (TAP device or promiscuous packet socket).
package microps

import (
	"encoding/binary"
	"strconv"
)

// MacAddr is a 6 octet Ethernet hardware address.
type MacAddr [6]byte

// MacAny is the zero MAC address, used to mean "unknown" or "not yet resolved".
var MacAny = MacAddr{}

// MacBroadcast is the all-ones Ethernet broadcast address.
var MacBroadcast = MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsZero reports whether m is the all-zero address.
func (m MacAddr) IsZero() bool { return m == MacAny }

// IsBroadcast reports whether m is the Ethernet broadcast address.
func (m MacAddr) IsBroadcast() bool { return m == MacBroadcast }

func (m MacAddr) String() string {
	buf := make([]byte, 0, 17)
	for i, b := range m {
		if i != 0 {
			buf = append(buf, ':')
		}
		if b < 16 {
			buf = append(buf, '0')
		}
		buf = strconv.AppendUint(buf, uint64(b), 16)
	}
	return string(buf)
}

// IpAddr is a 4 octet IPv4 address, ordered so that the natural array
// comparison matches numeric address ordering.
type IpAddr [4]byte

// IPAny is 0.0.0.0.
var IPAny = IpAddr{}

// IPBroadcast is 255.255.255.255.
var IPBroadcast = IpAddr{0xff, 0xff, 0xff, 0xff}

// IpAddrFromUint32 builds an IpAddr from a big-endian encoded 32 bit value.
func IpAddrFromUint32(v uint32) IpAddr {
	var a IpAddr
	binary.BigEndian.PutUint32(a[:], v)
	return a
}

// Uint32 returns a as a big-endian encoded 32 bit value.
func (a IpAddr) Uint32() uint32 { return binary.BigEndian.Uint32(a[:]) }

// Mask returns a & m (the network portion of a under netmask m).
func (a IpAddr) Mask(m IpAddr) IpAddr {
	var out IpAddr
	for i := range a {
		out[i] = a[i] & m[i]
	}
	return out
}

// Or returns the bitwise OR of a and b.
func (a IpAddr) Or(b IpAddr) IpAddr {
	var out IpAddr
	for i := range a {
		out[i] = a[i] | b[i]
	}
	return out
}

// Not returns the bitwise complement of a.
func (a IpAddr) Not() IpAddr {
	var out IpAddr
	for i := range a {
		out[i] = ^a[i]
	}
	return out
}

// Less reports whether a sorts before b, treating both as big-endian uint32s.
func (a IpAddr) Less(b IpAddr) bool { return a.Uint32() < b.Uint32() }

// IsZero reports whether a is 0.0.0.0.
func (a IpAddr) IsZero() bool { return a == IPAny }

func (a IpAddr) String() string {
	buf := make([]byte, 0, 15)
	for i, b := range a {
		if i != 0 {
			buf = append(buf, '.')
		}
		buf = strconv.AppendUint(buf, uint64(b), 10)
	}
	return string(buf)
}
