//go:build linux

package link

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cerdav/microps"
)

// PacketSocket is an ethernet.Link backed by a promiscuous AF_PACKET raw
// socket bound to an existing host interface, letting the stack share a
// real NIC instead of owning a dedicated TAP device. Interface resolution
// goes through netlink; frame I/O still needs the raw socket syscalls since
// netlink carries no packet data.
type PacketSocket struct {
	fd    int
	name  string
	index int
}

// NewPacketSocket opens a raw, promiscuous socket bound to the named host
// interface.
func NewPacketSocket(name string) (*PacketSocket, error) {
	index, err := interfaceIndex(name)
	if err != nil {
		return nil, err
	}
	proto := htons(syscall.ETH_P_ALL)
	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, int(proto))
	if err != nil {
		return nil, err
	}
	ll := syscall.SockaddrLinklayer{Protocol: proto, Ifindex: index}
	if err := syscall.Bind(fd, &ll); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	mreq := unix.PacketMreq{Ifindex: int32(index), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &PacketSocket{fd: fd, name: name, index: index}, nil
}

// Addr returns the bound interface's hardware address.
func (p *PacketSocket) Addr() microps.MacAddr {
	sock, err := dgramSocket()
	if err != nil {
		return microps.MacAny
	}
	defer syscall.Close(sock)
	hw, err := getSocketHW(sock, p.name)
	if err != nil {
		return microps.MacAny
	}
	return microps.MacAddr(hw)
}

// Poll blocks until a frame is readable or timeout elapses.
func (p *PacketSocket) Poll(timeout time.Duration) (bool, error) {
	return pollReadable(p.fd, timeout)
}

// Rx reads one frame. Poll should be called first to avoid blocking.
func (p *PacketSocket) Rx() ([]byte, error) {
	buf := make([]byte, 65535)
	n, err := syscall.Read(p.fd, buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

// Tx writes one complete frame.
func (p *PacketSocket) Tx(frame []byte) error {
	_, err := syscall.Write(p.fd, frame)
	return err
}

// Close releases the underlying socket.
func (p *PacketSocket) Close() error { return syscall.Close(p.fd) }

func htons(i uint16) uint16 { return (i<<8)&0xff00 | i>>8 }
