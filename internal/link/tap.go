//go:build linux

// Package link provides the ethernet.Link implementations that connect a
// Device to a real network namespace: a TAP character device and a
// promiscuous AF_PACKET socket bound to an existing interface.
package link

import (
	"errors"
	"fmt"
	"math/bits"
	"net/netip"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cerdav/microps"
)

const safamilyHW6 = 1

// Tap is an ethernet.Link backed by a Linux TAP character device
// (/dev/net/tun, IFF_TAP|IFF_NO_PI): every Tx/Rx exchanges one full
// Ethernet frame, header included.
type Tap struct {
	fd   int
	name string
}

// NewTap creates (or attaches to) the named TAP interface. If addr is
// valid, the interface is brought up and assigned that address via netlink.
func NewTap(name string, addr netip.Prefix) (*Tap, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("link: interface name too long")
	}
	fd, err := syscall.Open("/dev/net/tun", os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("link: open /dev/net/tun: %w", err)
	}
	ifr := makeifreq(name)
	ifr.setFlags(uint16(syscall.IFF_TAP | syscall.IFF_NO_PI))
	if err := ioctl(fd, syscall.TUNSETIFF, ifr.ptr()); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("link: TUNSETIFF: %w", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("link: set nonblocking: %w", err)
	}
	tap := &Tap{fd: fd, name: name}
	if addr.IsValid() {
		if err := bringUpWithAddress(name, addr); err != nil {
			tap.Close()
			return nil, err
		}
	}
	return tap, nil
}

// Addr returns the interface's hardware address.
func (t *Tap) Addr() microps.MacAddr {
	sock, err := dgramSocket()
	if err != nil {
		return microps.MacAny
	}
	defer syscall.Close(sock)
	hw, err := getSocketHW(sock, t.name)
	if err != nil {
		return microps.MacAny
	}
	return microps.MacAddr(hw)
}

// Poll blocks until a frame is readable or timeout elapses.
func (t *Tap) Poll(timeout time.Duration) (bool, error) {
	return pollReadable(t.fd, timeout)
}

// Rx reads one frame. Poll should be called first to avoid blocking.
func (t *Tap) Rx() ([]byte, error) {
	buf := make([]byte, 65535)
	n, err := syscall.Read(t.fd, buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

// Tx writes one complete frame.
func (t *Tap) Tx(frame []byte) error {
	_, err := syscall.Write(t.fd, frame)
	return err
}

// Close releases the underlying file descriptor.
func (t *Tap) Close() error { return syscall.Close(t.fd) }

func ioctl(fd int, request uintptr, argp unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), request, uintptr(argp))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

func dgramSocket() (int, error) {
	return syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_IP)
}

func getSocketHW(sockfd int, ifaceName string) (hw [6]byte, err error) {
	ifr := makeifreq(ifaceName)
	if err = ioctl(sockfd, syscall.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return hw, err
	}
	family := *(*uint16)(unsafe.Pointer(&ifr.data[0]))
	if family != safamilyHW6 {
		return hw, fmt.Errorf("link: unexpected sa_family %d reading hwaddr", family)
	}
	copy(hw[:], ifr.data[2:8])
	return hw, nil
}

func getSocketMTU(sockfd int, ifaceName string) (int, error) {
	ifr := makeifreq(ifaceName)
	if err := ioctl(sockfd, syscall.SIOCGIFMTU, ifr.ptr()); err != nil {
		return 0, err
	}
	return int(*(*int32)(unsafe.Pointer(&ifr.data[0]))), nil
}

func getSocketMask(sockfd int, ifaceName string) (netip.Prefix, error) {
	addrPort, err := getSocketAddr(sockfd, ifaceName)
	if err != nil {
		return netip.Prefix{}, err
	}
	ifr := makeifreq(ifaceName)
	if err := ioctl(sockfd, syscall.SIOCGIFNETMASK, ifr.ptr()); err != nil {
		return netip.Prefix{}, err
	}
	maskBits := bits.OnesCount32(uint32(ifr.data[4])<<24 | uint32(ifr.data[5])<<16 | uint32(ifr.data[6])<<8 | uint32(ifr.data[7]))
	return netip.PrefixFrom(addrPort, maskBits), nil
}

func getSocketAddr(sockfd int, ifaceName string) (netip.Addr, error) {
	ifr := makeifreq(ifaceName)
	if err := ioctl(sockfd, syscall.SIOCGIFADDR, ifr.ptr()); err != nil {
		return netip.Addr{}, err
	}
	family := *(*uint16)(unsafe.Pointer(&ifr.data[0]))
	if family != syscall.AF_INET {
		return netip.Addr{}, fmt.Errorf("link: unsupported sa_family %d reading address", family)
	}
	addr, _ := netip.AddrFromSlice(ifr.data[4:8])
	return addr, nil
}

type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) setFlags(flags uint16) { *(*uint16)(unsafe.Pointer(&ifr.data[0])) = flags }
func (ifr *ifreq) ptr() unsafe.Pointer   { return unsafe.Pointer(ifr) }

func pollReadable(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}
