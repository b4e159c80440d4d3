// Package stack wires the layered packages (ethernet, arp, ipv4, udp) into
// one running protocol stack from a parsed configuration, owning every
// piece of shared state explicitly rather than through package-level
// globals.
package stack

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/arp"
	"github.com/cerdav/microps/ethernet"
	"github.com/cerdav/microps/internal/config"
	"github.com/cerdav/microps/internal/link"
	"github.com/cerdav/microps/ipv4"
	"github.com/cerdav/microps/udp"
)

// Stack owns every device, interface, and shared table that makes up one
// running protocol stack instance.
type Stack struct {
	devices    []*ethernet.Device
	interfaces map[string]*ipv4.Interface
	resolver   *arp.Resolver
	routes     *ipv4.RouteTable
	udp        *udp.EndpointTable
}

// New builds a Stack from cfg: one ethernet.Device and ipv4.Interface per
// configured interface, a shared ARP resolver and route table, static
// routes installed, and the UDP endpoint table registered on every
// interface.
func New(cfg *config.Config) (*Stack, error) {
	s := &Stack{
		interfaces: make(map[string]*ipv4.Interface),
		resolver:   arp.NewResolver(),
		routes:     &ipv4.RouteTable{},
		udp:        udp.NewEndpointTable(),
	}

	for _, ifcCfg := range cfg.Interfaces {
		prefix, err := netip.ParsePrefix(ifcCfg.Address)
		if err != nil {
			return nil, fmt.Errorf("stack: interface %q: %w", ifcCfg.Name, err)
		}

		l, err := openLink(ifcCfg)
		if err != nil {
			return nil, fmt.Errorf("stack: interface %q: %w", ifcCfg.Name, err)
		}

		dev, err := ethernet.Open(ifcCfg.Name, microps.MacAny, l)
		if err != nil {
			return nil, fmt.Errorf("stack: interface %q: %w", ifcCfg.Name, err)
		}
		dev.RegisterProtocol(ethernet.TypeARP, s.resolver)

		var gateway *microps.IpAddr
		if ifcCfg.Gateway != "" {
			addr, err := netip.ParseAddr(ifcCfg.Gateway)
			if err != nil {
				return nil, fmt.Errorf("stack: interface %q: invalid gateway: %w", ifcCfg.Name, err)
			}
			gw := microps.IpAddr(addr.As4())
			gateway = &gw
		}

		ip := microps.IpAddr(prefix.Addr().As4())
		mask := prefixMask(prefix.Bits())
		iface := ipv4.NewInterface(dev, ip, mask, s.resolver, s.routes, gateway, cfg.Forwarding)
		s.udp.Attach(iface)

		s.devices = append(s.devices, dev)
		s.interfaces[ifcCfg.Name] = iface
	}

	for _, r := range cfg.Routes {
		prefix, err := netip.ParsePrefix(r.Dest)
		if err != nil {
			return nil, fmt.Errorf("stack: route %q: %w", r.Dest, err)
		}
		iface, ok := s.interfaces[r.Interface]
		if !ok {
			return nil, fmt.Errorf("stack: route %q: unknown interface %q", r.Dest, r.Interface)
		}
		var nextHop microps.IpAddr
		if r.NextHop != "" {
			addr, err := netip.ParseAddr(r.NextHop)
			if err != nil {
				return nil, fmt.Errorf("stack: route %q: invalid next hop: %w", r.Dest, err)
			}
			nextHop = microps.IpAddr(addr.As4())
		}
		s.routes.Add(ipv4.Route{
			Dest:    microps.IpAddr(prefix.Addr().As4()),
			Mask:    prefixMask(prefix.Bits()),
			NextHop: nextHop,
			Iface:   iface,
		})
	}

	return s, nil
}

func openLink(ifcCfg config.InterfaceConfig) (ethernet.Link, error) {
	switch ifcCfg.Link {
	case "packet":
		return link.NewPacketSocket(ifcCfg.Device)
	default:
		prefix, err := netip.ParsePrefix(ifcCfg.Address)
		if err != nil {
			return nil, err
		}
		return link.NewTap(ifcCfg.Device, prefix)
	}
}

func prefixMask(bits int) microps.IpAddr {
	var m microps.IpAddr
	for i := 0; i < bits; i++ {
		m[i/8] |= 1 << uint(7-i%8)
	}
	return m
}

// Interface returns the named interface, or nil if it is not part of this
// stack.
func (s *Stack) Interface(name string) *ipv4.Interface { return s.interfaces[name] }

// UDP returns the shared UDP endpoint table.
func (s *Stack) UDP() *udp.EndpointTable { return s.udp }

// Run starts every device's receive task. It returns immediately; devices
// run until ctx is canceled.
func (s *Stack) Run(ctx context.Context) {
	for _, dev := range s.devices {
		dev.Run(ctx)
	}
}

// Close tears down every device in reverse start order.
func (s *Stack) Close() error {
	var firstErr error
	for i := len(s.devices) - 1; i >= 0; i-- {
		if err := s.devices[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
