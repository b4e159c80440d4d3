package arp

import (
	"testing"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/ethernet"
)

func TestFrameBuildRequestRoundTrip(t *testing.T) {
	senderMAC := [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 0}
	senderIP := [4]byte{192, 168, 1, 1}
	targetIP := [4]byte{192, 168, 1, 2}

	var buf [sizeHeader]byte
	BuildRequest(buf[:], senderMAC, senderIP, targetIP)

	f, err := NewFrame(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ValidateFixedFields(); err != nil {
		t.Fatal(err)
	}
	if f.Operation() != OpRequest {
		t.Fatalf("operation = %v, want request", f.Operation())
	}
	if *f.SenderHardwareAddr() != senderMAC {
		t.Fatalf("sender hw = %v", f.SenderHardwareAddr())
	}
	if *f.SenderProtocolAddr() != senderIP {
		t.Fatalf("sender proto = %v", f.SenderProtocolAddr())
	}
	if *f.TargetProtocolAddr() != targetIP {
		t.Fatalf("target proto = %v", f.TargetProtocolAddr())
	}
}

func TestFrameShort(t *testing.T) {
	_, err := NewFrame(make([]byte, sizeHeader-1))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestFrameValidateFixedFieldsRejectsBadHardware(t *testing.T) {
	var buf [sizeHeader]byte
	BuildRequest(buf[:], [6]byte{1}, [4]byte{1}, [4]byte{2})
	f, err := NewFrame(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	f.SetHardwareType(6)
	if err := f.ValidateFixedFields(); err == nil {
		t.Fatal("expected error for bad hardware type")
	}
}

// loopbackLink is a minimal ethernet.Link that delivers every Tx frame as
// the peer link's next Rx, connecting two devices back to back.
type loopbackLink struct {
	mac  microps.MacAddr
	peer chan []byte
	recv chan []byte
}

func newLoopbackPair(macA, macB microps.MacAddr) (*loopbackLink, *loopbackLink) {
	ab := make(chan []byte, 8)
	ba := make(chan []byte, 8)
	a := &loopbackLink{mac: macA, peer: ab, recv: ba}
	b := &loopbackLink{mac: macB, peer: ba, recv: ab}
	return a, b
}

func (l *loopbackLink) Poll(timeout time.Duration) (bool, error) {
	select {
	case frame := <-l.recv:
		l.recv <- frame
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (l *loopbackLink) Rx() ([]byte, error) {
	select {
	case frame := <-l.recv:
		return frame, nil
	default:
		return nil, nil
	}
}

func (l *loopbackLink) Tx(frame []byte) error {
	cp := append([]byte(nil), frame...)
	l.peer <- cp
	return nil
}

func (l *loopbackLink) Addr() microps.MacAddr { return l.mac }
func (l *loopbackLink) Close() error          { return nil }

type staticIface struct {
	ip, mask microps.IpAddr
}

func (s staticIface) Unicast() microps.IpAddr { return s.ip }
func (s staticIface) Netmask() microps.IpAddr { return s.mask }

func TestResolverRequestReplyRoundTrip(t *testing.T) {
	macA := microps.MacAddr{0, 1, 2, 3, 4, 5}
	macB := microps.MacAddr{1, 1, 2, 3, 4, 6}
	linkA, linkB := newLoopbackPair(macA, macB)

	devA, err := ethernet.Open("a", macA, linkA)
	if err != nil {
		t.Fatal(err)
	}
	devB, err := ethernet.Open("b", macB, linkB)
	if err != nil {
		t.Fatal(err)
	}

	ipA := microps.IpAddr{192, 168, 1, 1}
	ipB := microps.IpAddr{192, 168, 1, 2}
	devA.AddInterface(staticIface{ip: ipA, mask: microps.IpAddr{255, 255, 255, 0}})
	devB.AddInterface(staticIface{ip: ipB, mask: microps.IpAddr{255, 255, 255, 0}})

	resolverA := NewResolver()
	resolverB := NewResolver()
	devA.RegisterProtocol(ethernet.TypeARP, resolverA)
	devB.RegisterProtocol(ethernet.TypeARP, resolverB)

	// B answers A's request by polling its own link directly (no Run loop
	// needed for this synchronous exchange).
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			frame, err := linkB.Rx()
			if err != nil || frame == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			f, err := ethernet.NewFrame(frame)
			if err != nil {
				continue
			}
			resolverB.RxEthernet(f.Payload(), devB)
			return
		}
	}()

	mac, held, err := resolverA.Resolve(devA, ipA, ipB, []byte("probe-payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !held {
		t.Fatal("expected first resolve to broadcast a request and hold")
	}
	if mac != microps.MacAny {
		t.Fatalf("expected no mac yet, got %v", mac)
	}

	// The goroutine above answers asynchronously; poll devA's link for the
	// reply and feed it to resolverA the way Device.receiveLoop would.
	deadline := time.Now().Add(2 * time.Second)
	var resolved microps.MacAddr
	for time.Now().Before(deadline) {
		frame, err := linkA.Rx()
		if err != nil {
			t.Fatal(err)
		}
		if frame == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		f, err := ethernet.NewFrame(frame)
		if err != nil {
			continue
		}
		if err := resolverA.RxEthernet(f.Payload(), devA); err != nil {
			t.Fatal(err)
		}
		resolverA.mu.Lock()
		for _, e := range resolverA.entries {
			if e.ip == ipB && !e.mac.IsZero() {
				resolved = e.mac
			}
		}
		resolverA.mu.Unlock()
		if !resolved.IsZero() {
			break
		}
	}
	if resolved != macB {
		t.Fatalf("resolved mac = %v, want %v", resolved, macB)
	}
}

func TestResolverTimeout(t *testing.T) {
	macA := microps.MacAddr{0, 1, 2, 3, 4, 5}
	linkA, _ := newLoopbackPair(macA, microps.MacAddr{9})
	devA, err := ethernet.Open("a", macA, linkA)
	if err != nil {
		t.Fatal(err)
	}
	devA.AddInterface(staticIface{ip: microps.IpAddr{10, 0, 0, 1}, mask: microps.IpAddr{255, 255, 255, 0}})

	r := NewResolver()
	start := time.Now()
	_, _, err = r.Resolve(devA, microps.IpAddr{10, 0, 0, 1}, microps.IpAddr{10, 0, 0, 2}, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	// Unanswered target: a second Resolve on the same entry waits out the
	// resolution timeout.
	_, held, err := r.Resolve(devA, microps.IpAddr{10, 0, 0, 1}, microps.IpAddr{10, 0, 0, 2}, nil)
	if err != microps.ErrArpTimeout {
		t.Fatalf("err = %v, want ErrArpTimeout", err)
	}
	if held {
		t.Fatal("timed-out resolve should not report held")
	}
	if elapsed := time.Since(start); elapsed < resolveTimeout {
		t.Fatalf("returned before timeout elapsed: %v", elapsed)
	}
}
