package ethernet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/internal/metrics"
)

// Link is the external collaborator (§6 of the design) a Device drives: a
// TAP virtual interface or a promiscuous packet socket. The core treats it
// opaquely; concrete drivers live in internal/link.
type Link interface {
	// Poll blocks until a frame is available or timeout elapses, returning
	// true if Rx will return a frame without blocking.
	Poll(timeout time.Duration) (bool, error)
	// Rx returns one raw Ethernet frame, starting with the destination MAC.
	Rx() ([]byte, error)
	// Tx writes one raw Ethernet frame.
	Tx(frame []byte) error
	// Addr returns the link's hardware address.
	Addr() microps.MacAddr
	Close() error
}

// IPv4Attachment is the narrow view a Device needs of its attached IPv4
// interface, kept this way (rather than importing package ipv4 directly) to
// avoid a device<->interface ownership cycle (see design notes on the
// arena/handle approach to cyclic references).
type IPv4Attachment interface {
	Unicast() microps.IpAddr
	Netmask() microps.IpAddr
}

// Protocol is implemented by the ARP and IPv4 layers so Device can dispatch
// a received payload without importing either package.
type Protocol interface {
	RxEthernet(payload []byte, dev *Device) error
}

// Device is a named L2 endpoint: a link driver plus the local address state
// and receive-task lifecycle described in the distilled spec's data model.
// At most one IPv4 interface may be attached, matching the covered core.
type Device struct {
	Name      string
	link      Link
	mac       microps.MacAddr
	broadcast microps.MacAddr

	mu   sync.Mutex
	ip4iface IPv4Attachment // attached IPv4 interface, nil if none

	arpProto  Protocol
	ip4Proto  Protocol

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens a device named name over link. If desiredMAC is the zero
// address, the link's own hardware address is adopted.
func Open(name string, desiredMAC microps.MacAddr, link Link) (*Device, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", microps.ErrLinkOpen)
	}
	mac := desiredMAC
	if mac.IsZero() {
		mac = link.Addr()
	}
	return &Device{
		Name:      name,
		link:      link,
		mac:       mac,
		broadcast: microps.MacBroadcast,
	}, nil
}

// HardwareAddr returns the device's local MAC address.
func (d *Device) HardwareAddr() microps.MacAddr { return d.mac }

// BroadcastAddr returns the device's broadcast MAC address.
func (d *Device) BroadcastAddr() microps.MacAddr { return d.broadcast }

// AddInterface attaches iface to the device. A device may have at most one
// IPv4 interface in the covered core.
func (d *Device) AddInterface(iface IPv4Attachment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ip4iface = iface
}

// Interface returns the device's attached IPv4 interface, or nil.
func (d *Device) Interface() IPv4Attachment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ip4iface
}

// RegisterProtocol binds the handler invoked for payloads of the given
// EtherType. Only TypeARP and TypeIPv4 are dispatched.
func (d *Device) RegisterProtocol(t Type, p Protocol) {
	switch t {
	case TypeARP:
		d.arpProto = p
	case TypeIPv4:
		d.ip4Proto = p
	}
}

// Run starts a dedicated receive goroutine that repeatedly polls the link
// (1000ms timeout per the distilled spec) and dispatches each received
// frame, until ctx is canceled or Close is called.
func (d *Device) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.receiveLoop(ctx)
}

func (d *Device) receiveLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ready, err := d.link.Poll(1000 * time.Millisecond)
		if err != nil {
			slog.Error("device poll", slog.String("device", d.Name), slog.String("err", err.Error()))
			continue
		}
		if !ready {
			continue
		}
		buf, err := d.link.Rx()
		if err != nil {
			slog.Error("device rx", slog.String("device", d.Name), slog.String("err", err.Error()))
			continue
		}
		if err := d.rx(buf); err != nil {
			slog.Debug("device drop", slog.String("device", d.Name), slog.String("err", err.Error()))
		}
	}
}

// Close signals the receive task to stop, waits for it to exit, and closes
// the underlying link.
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return d.link.Close()
}

// Tx prepends the 14 byte Ethernet header and writes the frame to the link.
func (d *Device) Tx(ethertype Type, payload []byte, dst microps.MacAddr) error {
	buf := make([]byte, HeaderLen+len(payload))
	BuildHeader(buf, dst, d.mac, ethertype)
	copy(buf[HeaderLen:], payload)
	if err := d.link.Tx(buf); err != nil {
		return fmt.Errorf("%w: %s", microps.ErrLinkWrite, err)
	}
	metrics.FramesSent.WithLabelValues(d.Name, ethertype.String()).Inc()
	return nil
}

var errUnhandledEtherType = errors.New("ethernet: unhandled ethertype")

// rx parses the header and dispatches payload to the registered ARP or IPv4
// handler. Unknown ethertypes and parse failures are dropped.
func (d *Device) rx(buf []byte) error {
	f, err := NewFrame(buf)
	if err != nil {
		metrics.FrameErrors.WithLabelValues("ethernet").Inc()
		return fmt.Errorf("%w: %s", microps.ErrParse, err)
	}
	metrics.FramesReceived.WithLabelValues(d.Name, f.EtherType().String()).Inc()
	switch f.EtherType() {
	case TypeARP:
		if d.arpProto == nil {
			return nil
		}
		return d.arpProto.RxEthernet(f.Payload(), d)
	case TypeIPv4:
		if d.ip4Proto == nil {
			return nil
		}
		return d.ip4Proto.RxEthernet(f.Payload(), d)
	default:
		return errUnhandledEtherType
	}
}
