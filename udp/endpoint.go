package udp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/internal/metrics"
	"github.com/cerdav/microps/ipv4"
)

// Packet is one datagram delivered to an Endpoint's receive queue.
type Packet struct {
	Addr microps.IpAddr
	Port uint16
	Data []byte
}

// EndpointTable binds local UDP ports to Endpoints and dispatches inbound
// datagrams to the matching one. It implements ipv4.L4Handler and is
// shared across every ipv4.Interface on a stack that should accept UDP
// traffic: Attach registers it once per interface, which also lets it
// resolve a wildcard-bound Endpoint's egress interface lazily on SendTo.
type EndpointTable struct {
	mu            sync.Mutex
	endpoints     map[uint16]*Endpoint
	interfaces    []*ipv4.Interface
	nextEphemeral uint16
}

// NewEndpointTable returns an empty table ready to accept Open calls.
func NewEndpointTable() *EndpointTable {
	return &EndpointTable{
		endpoints:     make(map[uint16]*Endpoint),
		nextEphemeral: ephemeralLow,
	}
}

// Attach registers the table as iface's ProtoUDP handler and makes iface a
// candidate for wildcard-bound endpoints' lazy interface resolution.
func (t *EndpointTable) Attach(iface *ipv4.Interface) {
	t.mu.Lock()
	t.interfaces = append(t.interfaces, iface)
	t.mu.Unlock()
	iface.RegisterHandler(ipv4.ProtoUDP, t)
}

// Open binds a new Endpoint to localAddr:port. localAddr may be
// microps.IPAny, leaving the endpoint unbound to any one interface: its
// egress interface is then resolved lazily on each SendTo call instead of
// at open time, per distilled spec §4.9. A concrete localAddr must match an
// attached interface's address or SendTo fails with
// microps.ErrInvalidAddress. If port is zero, an unused port in [49152,
// 65535] is assigned automatically.
func (t *EndpointTable) Open(localAddr microps.IpAddr, port uint16) (*Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if port == 0 {
		assigned, err := t.assignLocked()
		if err != nil {
			return nil, err
		}
		port = assigned
	} else if _, taken := t.endpoints[port]; taken {
		return nil, microps.ErrNoPort
	}

	ep := &Endpoint{
		table:     t,
		localAddr: localAddr,
		port:      port,
	}
	ep.cond = sync.NewCond(&ep.mu)
	t.endpoints[port] = ep
	metrics.UDPEndpointsOpen.Set(float64(len(t.endpoints)))
	return ep, nil
}

func (t *EndpointTable) assignLocked() (uint16, error) {
	start := t.nextEphemeral
	for {
		port := t.nextEphemeral
		t.nextEphemeral++
		if t.nextEphemeral > ephemeralHigh || t.nextEphemeral < ephemeralLow {
			t.nextEphemeral = ephemeralLow
		}
		if _, taken := t.endpoints[port]; !taken {
			return port, nil
		}
		if t.nextEphemeral == start {
			return 0, microps.ErrNoPort
		}
	}
}

// resolveIface picks the interface Endpoint should send through for peer.
// A concrete local bind address must match an attached interface exactly;
// a wildcard bind picks the first attached interface that owns a route to
// peer.
func (t *EndpointTable) resolveIface(localAddr, peer microps.IpAddr) (*ipv4.Interface, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !localAddr.IsZero() {
		for _, ifc := range t.interfaces {
			if ifc.Unicast() == localAddr {
				return ifc, nil
			}
		}
		return nil, microps.ErrInvalidAddress
	}
	for _, ifc := range t.interfaces {
		if ifc.CanReach(peer) {
			return ifc, nil
		}
	}
	return nil, microps.ErrInvalidAddress
}

func (t *EndpointTable) release(port uint16) {
	t.mu.Lock()
	delete(t.endpoints, port)
	metrics.UDPEndpointsOpen.Set(float64(len(t.endpoints)))
	t.mu.Unlock()
}

// RxIPv4 implements ipv4.L4Handler: it parses the UDP header, verifies the
// pseudo-header checksum, and queues the payload on the bound endpoint.
// Datagrams with no matching endpoint are dropped silently.
func (t *EndpointTable) RxIPv4(srcIP, dstIP microps.IpAddr, payload []byte, iface *ipv4.Interface) error {
	f, err := NewFrame(payload)
	if err != nil {
		return fmt.Errorf("%w: %s", microps.ErrParse, err)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %s", microps.ErrParse, err)
	}
	if !f.VerifyIPv4Checksum([4]byte(srcIP), [4]byte(dstIP)) {
		slog.Debug("udp checksum mismatch", slog.String("src", srcIP.String()))
		metrics.UDPDatagramsDropped.WithLabelValues("checksum").Inc()
		return nil
	}

	t.mu.Lock()
	ep, ok := t.endpoints[f.DestinationPort()]
	t.mu.Unlock()
	if !ok {
		slog.Debug("udp no listener", slog.Int("port", int(f.DestinationPort())))
		metrics.UDPDatagramsDropped.WithLabelValues("no_listener").Inc()
		return nil
	}

	pkt := Packet{Addr: srcIP, Port: f.SourcePort(), Data: append([]byte(nil), f.Payload()...)}
	ep.mu.Lock()
	if !ep.closed {
		ep.queue = append(ep.queue, pkt)
		if len(ep.queue) > recvQueueDepth {
			ep.queue = ep.queue[1:] // drop oldest; no backpressure mechanism to the sender
			metrics.UDPDatagramsDropped.WithLabelValues("queue_full").Inc()
		}
		ep.cond.Broadcast()
	}
	ep.mu.Unlock()
	return nil
}

// Endpoint is a bound local UDP port: an RxIPv4 dispatch target with a
// blocking receive queue and a transmit path that fills in source/checksum
// fields automatically. localAddr is microps.IPAny for a wildcard bind,
// whose egress interface SendTo resolves per call rather than at Open time.
type Endpoint struct {
	table     *EndpointTable
	localAddr microps.IpAddr
	port      uint16

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Packet
	closed bool
}

// LocalPort returns the endpoint's bound local port.
func (ep *Endpoint) LocalPort() uint16 { return ep.port }

// RecvFrom blocks until a datagram arrives, the endpoint is closed, or
// timeout elapses (timeout < 0 disables the deadline).
func (ep *Endpoint) RecvFrom(timeout time.Duration) (microps.IpAddr, uint16, []byte, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if timeout >= 0 {
		deadline := time.Now().Add(timeout)
		for len(ep.queue) == 0 && !ep.closed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return microps.IpAddr{}, 0, nil, microps.ErrTimeout
			}
			timer := time.AfterFunc(remaining, func() {
				ep.mu.Lock()
				ep.cond.Broadcast()
				ep.mu.Unlock()
			})
			ep.cond.Wait()
			timer.Stop()
		}
	} else {
		for len(ep.queue) == 0 && !ep.closed {
			ep.cond.Wait()
		}
	}
	if ep.closed && len(ep.queue) == 0 {
		return microps.IpAddr{}, 0, nil, errClosed
	}
	pkt := ep.queue[0]
	ep.queue = ep.queue[1:]
	return pkt.Addr, pkt.Port, pkt.Data, nil
}

// SendTo resolves the endpoint's egress interface for peer, builds a UDP
// datagram from payload, computes its pseudo-header checksum, and hands it
// to that interface for transmission. Resolution is lazy: a wildcard-bound
// endpoint picks whichever attached interface can route to peer, a
// concretely-bound one requires an exact address match, failing with
// microps.ErrInvalidAddress otherwise.
func (ep *Endpoint) SendTo(payload []byte, peer microps.IpAddr, peerPort uint16) error {
	iface, err := ep.table.resolveIface(ep.localAddr, peer)
	if err != nil {
		return err
	}
	buf := make([]byte, sizeHeader+len(payload))
	f := BuildHeader(buf, ep.port, peerPort, len(payload))
	copy(f.Payload(), payload)
	f.SetCRC(f.CalculateIPv4Checksum([4]byte(iface.Unicast()), [4]byte(peer)))
	return iface.Tx(ipv4.ProtoUDP, peer, buf)
}

// Close unbinds the endpoint and wakes any goroutine blocked in RecvFrom.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	ep.closed = true
	ep.cond.Broadcast()
	ep.mu.Unlock()
	ep.table.release(ep.port)
	return nil
}
