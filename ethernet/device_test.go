package ethernet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cerdav/microps"
)

// fakeLink is an in-memory Link for device tests: frames pushed onto rx are
// delivered to Poll/Rx, and Tx appends to a recorded slice.
type fakeLink struct {
	mu     sync.Mutex
	mac    microps.MacAddr
	rx     [][]byte
	tx     [][]byte
	closed bool
}

func (l *fakeLink) Poll(timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx) > 0, nil
}

func (l *fakeLink) Rx() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rx) == 0 {
		return nil, nil
	}
	f := l.rx[0]
	l.rx = l.rx[1:]
	return f, nil
}

func (l *fakeLink) Tx(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]byte(nil), frame...)
	l.tx = append(l.tx, cp)
	return nil
}

func (l *fakeLink) Addr() microps.MacAddr { return l.mac }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) push(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, frame)
}

type recordingProto struct {
	mu       sync.Mutex
	received [][]byte
	done     chan struct{}
}

func (p *recordingProto) RxEthernet(payload []byte, dev *Device) error {
	p.mu.Lock()
	p.received = append(p.received, append([]byte(nil), payload...))
	p.mu.Unlock()
	if p.done != nil {
		select {
		case p.done <- struct{}{}:
		default:
		}
	}
	return nil
}

func TestOpenAdoptsLinkMAC(t *testing.T) {
	link := &fakeLink{mac: microps.MacAddr{1, 2, 3, 4, 5, 6}}
	dev, err := Open("tap0", microps.MacAny, link)
	if err != nil {
		t.Fatal(err)
	}
	if dev.HardwareAddr() != link.mac {
		t.Fatalf("device MAC = %v, want adopted link MAC %v", dev.HardwareAddr(), link.mac)
	}
}

func TestDeviceRxDispatchesToProtocol(t *testing.T) {
	link := &fakeLink{mac: microps.MacAddr{1, 1, 1, 1, 1, 1}}
	dev, err := Open("tap0", microps.MacAny, link)
	if err != nil {
		t.Fatal(err)
	}
	proto := &recordingProto{done: make(chan struct{}, 1)}
	dev.RegisterProtocol(TypeIPv4, proto)

	payload := []byte{1, 2, 3, 4}
	buf := make([]byte, HeaderLen+len(payload))
	BuildHeader(buf, dev.HardwareAddr(), microps.MacAddr{9, 9, 9, 9, 9, 9}, TypeIPv4)
	copy(buf[HeaderLen:], payload)
	link.push(buf)

	ctx, cancel := context.WithCancel(context.Background())
	dev.Run(ctx)
	select {
	case <-proto.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	cancel()
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if !link.closed {
		t.Fatal("expected link to be closed")
	}

	proto.mu.Lock()
	defer proto.mu.Unlock()
	if len(proto.received) != 1 {
		t.Fatalf("got %d dispatches, want 1", len(proto.received))
	}
}

func TestDeviceTxPrependsHeader(t *testing.T) {
	link := &fakeLink{mac: microps.MacAddr{1, 1, 1, 1, 1, 1}}
	dev, _ := Open("tap0", microps.MacAny, link)
	dst := microps.MacAddr{2, 2, 2, 2, 2, 2}
	if err := dev.Tx(TypeIPv4, []byte("payload"), dst); err != nil {
		t.Fatal(err)
	}
	if len(link.tx) != 1 {
		t.Fatalf("got %d tx frames, want 1", len(link.tx))
	}
	f, err := NewFrame(link.tx[0])
	if err != nil {
		t.Fatal(err)
	}
	if *f.DestinationHardwareAddr() != dst {
		t.Fatalf("dst = %v, want %v", f.DestinationHardwareAddr(), dst)
	}
	if f.EtherType() != TypeIPv4 {
		t.Fatalf("ethertype = %v", f.EtherType())
	}
}
