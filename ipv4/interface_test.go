package ipv4

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/arp"
	"github.com/cerdav/microps/ethernet"
)

// loopbackLink mirrors the one in package arp's tests: every Tx is
// delivered as the peer's next Rx.
type loopbackLink struct {
	mac  microps.MacAddr
	peer chan []byte
	recv chan []byte
}

func newLoopbackPair(macA, macB microps.MacAddr) (*loopbackLink, *loopbackLink) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &loopbackLink{mac: macA, peer: ab, recv: ba}, &loopbackLink{mac: macB, peer: ba, recv: ab}
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
	l.peer <- append([]byte(nil), frame...)
	return nil
}

func (l *loopbackLink) Addr() microps.MacAddr { return l.mac }
func (l *loopbackLink) Close() error          { return nil }

type recordingHandler struct {
	mu       sync.Mutex
	received [][]byte
	done     chan struct{}
}

func (h *recordingHandler) RxIPv4(srcIP, dstIP microps.IpAddr, payload []byte, iface *Interface) error {
	h.mu.Lock()
	h.received = append(h.received, append([]byte(nil), payload...))
	h.mu.Unlock()
	select {
	case h.done <- struct{}{}:
	default:
	}
	return nil
}

func TestInterfaceTxDeliversAcrossDevices(t *testing.T) {
	macA := microps.MacAddr{0, 1, 2, 3, 4, 1}
	macB := microps.MacAddr{0, 1, 2, 3, 4, 2}
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
	mask := microps.IpAddr{255, 255, 255, 0}

	resolverA := arp.NewResolver()
	resolverB := arp.NewResolver()
	devA.RegisterProtocol(ethernet.TypeARP, resolverA)
	devB.RegisterProtocol(ethernet.TypeARP, resolverB)

	var routesA, routesB RouteTable
	ifaceA := NewInterface(devA, ipA, mask, resolverA, &routesA, nil, false)
	ifaceB := NewInterface(devB, ipB, mask, resolverB, &routesB, nil, false)

	handler := &recordingHandler{done: make(chan struct{}, 1)}
	ifaceB.RegisterHandler(ProtoUDP, handler)

	ctx, cancel := context.WithCancel(context.Background())
	devA.Run(ctx)
	devB.Run(ctx)
	defer func() {
		cancel()
		devA.Close()
		devB.Close()
	}()

	if err := ifaceA.Tx(ProtoUDP, ipB, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.received) != 1 || string(handler.received[0]) != "hello" {
		t.Fatalf("received = %v, want [hello]", handler.received)
	}
}

func TestInterfaceTxFragmentsLargePayloads(t *testing.T) {
	macA := microps.MacAddr{0, 1, 2, 3, 4, 3}
	macB := microps.MacAddr{0, 1, 2, 3, 4, 4}
	linkA, linkB := newLoopbackPair(macA, macB)

	devA, err := ethernet.Open("a", macA, linkA)
	if err != nil {
		t.Fatal(err)
	}
	devB, err := ethernet.Open("b", macB, linkB)
	if err != nil {
		t.Fatal(err)
	}

	ipA := microps.IpAddr{10, 0, 0, 1}
	ipB := microps.IpAddr{10, 0, 0, 2}
	mask := microps.IpAddr{255, 255, 255, 0}

	resolverA := arp.NewResolver()
	resolverB := arp.NewResolver()
	devA.RegisterProtocol(ethernet.TypeARP, resolverA)
	devB.RegisterProtocol(ethernet.TypeARP, resolverB)

	var routesA, routesB RouteTable
	ifaceA := NewInterface(devA, ipA, mask, resolverA, &routesA, nil, false)
	ifaceB := NewInterface(devB, ipB, mask, resolverB, &routesB, nil, false)

	handler := &recordingHandler{done: make(chan struct{}, 1)}
	ifaceB.RegisterHandler(ProtoUDP, handler)

	ctx, cancel := context.WithCancel(context.Background())
	devA.Run(ctx)
	devB.Run(ctx)
	defer func() {
		cancel()
		devA.Close()
		devB.Close()
	}()

	big := make([]byte, 4000)
	for i := range big {
		big[i] = byte(i)
	}
	if err := ifaceA.Tx(ProtoUDP, ipB, big); err != nil {
		t.Fatal(err)
	}

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.received) != 1 || len(handler.received[0]) != len(big) {
		t.Fatalf("received length = %d, want %d", len(handler.received[0]), len(big))
	}
	for i := range big {
		if handler.received[0][i] != big[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}
