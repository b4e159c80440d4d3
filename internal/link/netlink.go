//go:build linux

package link

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// bringUpWithAddress assigns addr to the named interface and sets it up,
// replacing the teacher's exec.Command("ip", ...) calls with netlink
// syscalls issued directly over NETLINK_ROUTE.
func bringUpWithAddress(name string, addr netip.Prefix) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link: lookup %q: %w", name, err)
	}
	nlAddr, err := netlink.ParseAddr(addr.String())
	if err != nil {
		return fmt.Errorf("link: parse address %s: %w", addr, err)
	}
	if err := netlink.AddrAdd(link, nlAddr); err != nil {
		return fmt.Errorf("link: assign address to %q: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link: set %q up: %w", name, err)
	}
	return nil
}

// interfaceIndex resolves an interface name to its kernel ifindex via
// netlink, used by PacketSocket to bind its AF_PACKET socket.
func interfaceIndex(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("link: lookup %q: %w", name, err)
	}
	return link.Attrs().Index, nil
}
