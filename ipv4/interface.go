package ipv4

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/arp"
	"github.com/cerdav/microps/ethernet"
)

// L4Handler is implemented by upper-layer protocol state (this package's
// own ICMP responder, and the udp package's endpoint table) that an
// Interface dispatches decapsulated payloads to.
type L4Handler interface {
	RxIPv4(srcIP, dstIP microps.IpAddr, payload []byte, iface *Interface) error
}

// Interface is one IPv4 attachment to an ethernet.Device: its address and
// mask, the shared ARP resolver and route table, fragment reassembly
// state, and the upper-layer dispatch table. It implements both
// ethernet.Protocol (as the registered TypeIPv4 handler) and
// ethernet.IPv4Attachment.
type Interface struct {
	dev      *ethernet.Device
	ip       microps.IpAddr
	mask     microps.IpAddr
	resolver *arp.Resolver
	routes   *RouteTable
	// forwarding gates RxEthernet's non-local-destination branch: datagrams
	// not addressed to this interface are silently dropped unless set.
	forwarding bool

	reassembler *Reassembler

	mu       sync.Mutex
	handlers map[Protocol]L4Handler
	nextID   uint16
}

// NewInterface creates an IPv4 attachment over dev, attaches it to dev, and
// registers it as dev's TypeIPv4 handler. routes is shared across every
// Interface on the stack so forwarding can reach any attached device. If
// gateway is non-nil, a 0.0.0.0/0 route via that address is installed for
// this interface in addition to its directly-connected subnet route.
func NewInterface(dev *ethernet.Device, ip, mask microps.IpAddr, resolver *arp.Resolver, routes *RouteTable, gateway *microps.IpAddr, forwarding bool) *Interface {
	iface := &Interface{
		dev:         dev,
		ip:          ip,
		mask:        mask,
		resolver:    resolver,
		routes:      routes,
		forwarding:  forwarding,
		reassembler: newReassembler(),
		handlers:    make(map[Protocol]L4Handler),
	}
	iface.handlers[ProtoICMP] = &icmpResponder{}
	dev.AddInterface(iface)
	dev.RegisterProtocol(ethernet.TypeIPv4, iface)

	routes.Add(Route{Dest: ip.Mask(mask), Mask: mask, Iface: iface})
	if gateway != nil {
		routes.Add(Route{Dest: microps.IPAny, Mask: microps.IPAny, NextHop: *gateway, Iface: iface})
	}
	return iface
}

// Unicast implements ethernet.IPv4Attachment.
func (iface *Interface) Unicast() microps.IpAddr { return iface.ip }

// Netmask implements ethernet.IPv4Attachment.
func (iface *Interface) Netmask() microps.IpAddr { return iface.mask }

// Device returns the ethernet device this interface is attached to.
func (iface *Interface) Device() *ethernet.Device { return iface.dev }

// CanReach reports whether this interface owns a route to dst, scoped the
// same way Tx scopes its own route lookup. Used by upper layers (the udp
// package's wildcard-bound endpoints) to pick an egress interface for a
// peer address without actually sending anything.
func (iface *Interface) CanReach(dst microps.IpAddr) bool {
	_, ok := iface.routes.Lookup(iface, dst)
	return ok
}

// RegisterHandler binds the L4Handler invoked for payloads of the given
// IPv4 protocol. Used by the udp package to register its endpoint table for
// ProtoUDP.
func (iface *Interface) RegisterHandler(p Protocol, h L4Handler) {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	iface.handlers[p] = h
}

func (iface *Interface) nextDatagramID() uint16 {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	iface.nextID++
	return iface.nextID
}

// Tx originates a datagram from this interface to dst, fragmenting payload
// as needed for the link MTU, per distilled spec §4.3/§4.6. Route lookup is
// scoped to this interface: only routes it owns (its direct subnet and, if
// configured, its gateway) are candidates. Each fragment resolves its next
// hop's hardware address through the same non-blocking resolve-or-hold path
// forwarding uses (ipv4/forward.go), so a brand-new target never stalls the
// caller — the resolver takes ownership of the datagram and transmits it
// itself once the reply arrives.
func (iface *Interface) Tx(proto Protocol, dst microps.IpAddr, payload []byte) error {
	route, ok := iface.routes.Lookup(iface, dst)
	if !ok {
		return microps.ErrNoRoute
	}
	nextHop := route.NextHop
	if nextHop.IsZero() {
		nextHop = dst
	}

	chunks := fragmentChunks(payload)
	id := iface.nextDatagramID()
	byteOffset := 0
	for i, chunk := range chunks {
		buf := make([]byte, sizeHeader+len(chunk))
		f := BuildHeader(buf, proto, iface.ip, dst, len(chunk))
		f.SetID(id)
		mf := i != len(chunks)-1
		f.SetFlags(FlagsFrom(false, mf, uint16(byteOffset/8)))
		copy(f.Payload(), chunk)
		f.SetCRC(f.CalculateHeaderCRC())

		mac, held, err := iface.resolver.Resolve(iface.dev, iface.ip, nextHop, buf)
		if err != nil {
			return fmt.Errorf("ipv4 tx fragment %d/%d: %w", i+1, len(chunks), err)
		}
		if !held {
			if err := iface.dev.Tx(ethernet.TypeIPv4, buf, mac); err != nil {
				return fmt.Errorf("ipv4 tx fragment %d/%d: %w", i+1, len(chunks), err)
			}
		}
		byteOffset += len(chunk)
	}
	return nil
}

// RxEthernet implements ethernet.Protocol: the entry point dev.rx calls for
// every TypeIPv4 frame received on dev.
func (iface *Interface) RxEthernet(payload []byte, dev *ethernet.Device) error {
	f, err := NewFrame(payload)
	if err != nil {
		return fmt.Errorf("%w: %s", microps.ErrParse, err)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %s", microps.ErrParse, err)
	}

	dst := *f.DestinationAddr()
	if dst != iface.ip && dst != microps.IPBroadcast && dst != iface.broadcastAddr() {
		if iface.forwarding {
			iface.forward(f)
		}
		return nil
	}

	if f.Flags().MoreFragments() || f.Flags().FragmentOffset() != 0 {
		full, err := iface.reassembler.Insert(f)
		if err != nil {
			slog.Debug("ipv4 reassembly drop", slog.String("err", err.Error()))
			return nil
		}
		if full == nil {
			return nil // awaiting more fragments
		}
		f, err = NewFrame(full)
		if err != nil {
			return err
		}
	}

	return iface.deliver(f)
}

func (iface *Interface) broadcastAddr() microps.IpAddr {
	return iface.ip.Mask(iface.mask).Or(iface.mask.Not())
}

func (iface *Interface) deliver(f Frame) error {
	iface.mu.Lock()
	h, ok := iface.handlers[f.Protocol()]
	iface.mu.Unlock()
	if !ok {
		return nil // no handler registered for this upper-layer protocol; silently dropped
	}
	return h.RxIPv4(*f.SourceAddr(), *f.DestinationAddr(), f.Payload(), iface)
}
