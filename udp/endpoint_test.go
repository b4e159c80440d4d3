package udp

import (
	"context"
	"testing"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/arp"
	"github.com/cerdav/microps/ethernet"
	"github.com/cerdav/microps/ipv4"
)

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

func setupPair(t *testing.T) (ifaceA, ifaceB *ipv4.Interface, cleanup func()) {
	t.Helper()
	macA := microps.MacAddr{0, 1, 2, 3, 6, 1}
	macB := microps.MacAddr{0, 1, 2, 3, 6, 2}
	linkA, linkB := newLoopbackPair(macA, macB)

	devA, err := ethernet.Open("a", macA, linkA)
	if err != nil {
		t.Fatal(err)
	}
	devB, err := ethernet.Open("b", macB, linkB)
	if err != nil {
		t.Fatal(err)
	}

	ipA := microps.IpAddr{192, 168, 5, 1}
	ipB := microps.IpAddr{192, 168, 5, 2}
	mask := microps.IpAddr{255, 255, 255, 0}

	resolverA := arp.NewResolver()
	resolverB := arp.NewResolver()
	devA.RegisterProtocol(ethernet.TypeARP, resolverA)
	devB.RegisterProtocol(ethernet.TypeARP, resolverB)

	var routesA, routesB ipv4.RouteTable
	ifaceA = ipv4.NewInterface(devA, ipA, mask, resolverA, &routesA, nil, false)
	ifaceB = ipv4.NewInterface(devB, ipB, mask, resolverB, &routesB, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	devA.Run(ctx)
	devB.Run(ctx)
	cleanup = func() {
		cancel()
		devA.Close()
		devB.Close()
	}
	return ifaceA, ifaceB, cleanup
}

func TestEndpointSendToRecvFrom(t *testing.T) {
	ifaceA, ifaceB, cleanup := setupPair(t)
	defer cleanup()

	tableA := NewEndpointTable()
	tableB := NewEndpointTable()
	tableA.Attach(ifaceA)
	tableB.Attach(ifaceB)

	epA, err := tableA.Open(ifaceA.Unicast(), 7000)
	if err != nil {
		t.Fatal(err)
	}
	defer epA.Close()
	epB, err := tableB.Open(ifaceB.Unicast(), 9000)
	if err != nil {
		t.Fatal(err)
	}
	defer epB.Close()

	if err := epA.SendTo([]byte("hello"), ifaceB.Unicast(), 9000); err != nil {
		t.Fatal(err)
	}

	addr, port, data, err := epB.RecvFrom(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if addr != ifaceA.Unicast() || port != 7000 {
		t.Fatalf("got addr=%v port=%d, want %v/7000", addr, port, ifaceA.Unicast())
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
}

func TestEndpointOpenAutoAssignsPort(t *testing.T) {
	ifaceA, _, cleanup := setupPair(t)
	defer cleanup()

	table := NewEndpointTable()
	table.Attach(ifaceA)
	ep, err := table.Open(ifaceA.Unicast(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()
	if ep.LocalPort() < ephemeralLow || ep.LocalPort() > ephemeralHigh {
		t.Fatalf("assigned port %d outside ephemeral range", ep.LocalPort())
	}
}

func TestEndpointOpenDuplicatePort(t *testing.T) {
	ifaceA, _, cleanup := setupPair(t)
	defer cleanup()

	table := NewEndpointTable()
	table.Attach(ifaceA)
	ep, err := table.Open(ifaceA.Unicast(), 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()
	if _, err := table.Open(ifaceA.Unicast(), 5000); err != microps.ErrNoPort {
		t.Fatalf("err = %v, want microps.ErrNoPort", err)
	}
}

func TestEndpointRecvFromTimeout(t *testing.T) {
	ifaceA, _, cleanup := setupPair(t)
	defer cleanup()

	table := NewEndpointTable()
	table.Attach(ifaceA)
	ep, err := table.Open(ifaceA.Unicast(), 6001)
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()

	start := time.Now()
	_, _, _, err = ep.RecvFrom(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("returned before the requested timeout elapsed")
	}
}

func TestEndpointCloseUnblocksRecvFrom(t *testing.T) {
	ifaceA, _, cleanup := setupPair(t)
	defer cleanup()

	table := NewEndpointTable()
	table.Attach(ifaceA)
	ep, err := table.Open(ifaceA.Unicast(), 6002)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, _, err := ep.RecvFrom(-1)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ep.Close()

	select {
	case err := <-done:
		if err != errClosed {
			t.Fatalf("err = %v, want errClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock RecvFrom")
	}
}
