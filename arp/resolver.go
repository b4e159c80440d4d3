package arp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/ethernet"
	"github.com/cerdav/microps/internal/logattr"
	"github.com/cerdav/microps/internal/metrics"
)

const (
	entryExpiry    = 300 * time.Second
	patrolInterval = 10 * time.Second
	resolveTimeout = 1 * time.Second
)

// entry is one ARP cache row (distilled spec §3). mac == MacAny means
// resolution is in flight; a non-empty pending holds the IPv4 datagrams
// waiting on this resolution to complete, in arrival order.
type entry struct {
	ip        microps.IpAddr
	mac       microps.MacAddr
	timestamp time.Time
	cond      *sync.Cond
	pending   [][]byte
	dev       *ethernet.Device
}

// Resolver is the process-wide ARP cache: an ordered table guarded by a
// single mutex, implementing both the ARP receive path (as an
// ethernet.Protocol) and the resolve-for-egress path IPv4 output and
// forwarding call into.
type Resolver struct {
	mu         sync.Mutex
	entries    []*entry
	lastPatrol time.Time
}

// NewResolver returns a ready-to-use Resolver.
func NewResolver() *Resolver {
	return &Resolver{lastPatrol: time.Time{}}
}

// RxEthernet implements ethernet.Protocol. dev is the device the frame
// arrived on; its attached IPv4 interface (if any) supplies "my_ip" for the
// targeted-at-us check.
func (r *Resolver) RxEthernet(payload []byte, dev *ethernet.Device) error {
	f, err := NewFrame(payload)
	if err != nil {
		return err
	}
	if err := f.ValidateFixedFields(); err != nil {
		return err
	}

	r.patrol()

	senderMAC := *f.SenderHardwareAddr()
	senderIP := microps.IpAddr(*f.SenderProtocolAddr())
	targetIP := microps.IpAddr(*f.TargetProtocolAddr())

	merged := r.updateTable(senderIP, senderMAC)

	iface := dev.Interface()
	if iface == nil {
		return nil
	}
	myIP := iface.Unicast()
	if targetIP != myIP {
		return nil
	}

	if !merged {
		r.mu.Lock()
		r.entries = append(r.entries, &entry{
			ip:        senderIP,
			mac:       senderMAC,
			timestamp: time.Now(),
			dev:       dev,
		})
		metrics.ARPCacheSize.Set(float64(len(r.entries)))
		r.mu.Unlock()
	}

	if f.Operation() == OpRequest {
		go r.sendReply(dev, myIP, senderMAC, senderIP)
	}
	return nil
}

// updateTable refreshes the cache entry for ip with mac if one exists (the
// entry otherwise stays cached until patrol expires it), waking any waiters
// and dispatching every held pending datagram exactly when any are present.
// It reports whether an entry was found.
func (r *Resolver) updateTable(ip microps.IpAddr, mac microps.MacAddr) (merged bool) {
	r.mu.Lock()
	var (
		pending [][]byte
		dev     *ethernet.Device
	)
	found := r.findLocked(ip)
	if found != nil {
		found.mac = mac
		found.timestamp = time.Now()
		if found.cond != nil {
			found.cond.Broadcast()
		}
		if len(found.pending) > 0 {
			pending = found.pending
			dev = found.dev
			found.pending = nil
		}
	}
	r.mu.Unlock()

	for _, dgram := range pending {
		if err := dev.Tx(ethernet.TypeIPv4, dgram, mac); err != nil {
			slog.Error("arp pending dispatch", slog.String("err", err.Error()), logattr.MAC("mac", mac))
		}
	}
	return found != nil
}

// removeLocked removes e from entries. Caller must hold r.mu.
func (r *Resolver) removeLocked(e *entry) {
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// patrol expires entries older than entryExpiry, waking their waiters so
// they observe ErrArpTimeout, at most once every patrolInterval.
func (r *Resolver) patrol() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.lastPatrol) < patrolInterval {
		return
	}
	r.lastPatrol = now
	kept := r.entries[:0]
	for _, e := range r.entries {
		if now.Sub(e.timestamp) > entryExpiry {
			if e.cond != nil {
				e.cond.Broadcast()
			}
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	metrics.ARPCacheSize.Set(float64(len(r.entries)))
}

// sendReply transmits an ARP reply to requesterMAC, answering on behalf of
// myIP.
func (r *Resolver) sendReply(dev *ethernet.Device, myIP microps.IpAddr, requesterMAC [6]byte, requesterIP microps.IpAddr) {
	var buf [sizeHeader]byte
	BuildReply(buf[:], dev.HardwareAddr(), myIP, requesterMAC, requesterIP)
	if err := dev.Tx(ethernet.TypeARP, buf[:], requesterMAC); err != nil {
		slog.Error("arp reply", slog.String("err", err.Error()), logattr.IP("for", myIP))
	}
}

// Resolve resolves target to a MAC address for egress on dev/ourIP.
//
// When pending is non-nil, Resolve never blocks: if target is already
// resolved it returns the MAC immediately (held=false), otherwise it queues
// pending on the (possibly freshly created) cache entry, behind any
// datagrams already held there, and returns held=true — the Resolver has
// taken ownership of pending and will transmit it itself once a reply
// arrives. This is the path both IPv4 forwarding and local origination
// (Interface.Tx) use, so a datagram to an unresolved neighbor never stalls
// the caller or the receive loop.
//
// When pending is nil, Resolve blocks (creating and broadcasting a request
// for a fresh target as needed) for up to 1 second waiting on resolution,
// per distilled spec §4.2. If the timeout elapses the entry is discarded and
// ErrArpTimeout is returned.
func (r *Resolver) Resolve(dev *ethernet.Device, ourIP, target microps.IpAddr, pending []byte) (mac microps.MacAddr, held bool, err error) {
	r.mu.Lock()
	e := r.findLocked(target)
	fresh := e == nil
	if fresh {
		e = &entry{ip: target, mac: microps.MacAny, timestamp: time.Now(), dev: dev}
		r.entries = append(r.entries, e)
	}

	if !e.mac.IsZero() {
		mac = e.mac
		r.mu.Unlock()
		metrics.ARPResolutions.WithLabelValues("hit").Inc()
		return mac, false, nil
	}

	if pending != nil {
		e.pending = append(e.pending, pending)
		e.dev = dev
		r.mu.Unlock()
		if fresh {
			r.sendRequest(dev, ourIP, target)
		}
		return microps.MacAny, true, nil
	}

	if e.cond == nil {
		e.cond = sync.NewCond(&r.mu)
	}
	r.mu.Unlock()
	if fresh {
		r.sendRequest(dev, ourIP, target)
	}
	r.mu.Lock()

	deadline := time.Now().Add(resolveTimeout)
	for e.mac.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.AfterFunc(remaining, func() {
			r.mu.Lock()
			e.cond.Broadcast()
			r.mu.Unlock()
		})
		e.cond.Wait()
		timer.Stop()
	}
	if e.mac.IsZero() {
		r.removeLocked(e)
		r.mu.Unlock()
		metrics.ARPResolutions.WithLabelValues("timeout").Inc()
		return microps.MacAny, false, microps.ErrArpTimeout
	}
	mac = e.mac
	r.mu.Unlock()
	metrics.ARPResolutions.WithLabelValues("resolved").Inc()
	return mac, false, nil
}

// findLocked returns the entry for ip, or nil. Caller must hold r.mu.
func (r *Resolver) findLocked(ip microps.IpAddr) *entry {
	for _, e := range r.entries {
		if e.ip == ip {
			return e
		}
	}
	return nil
}

func (r *Resolver) sendRequest(dev *ethernet.Device, ourIP, target microps.IpAddr) {
	var buf [sizeHeader]byte
	BuildRequest(buf[:], dev.HardwareAddr(), ourIP, target)
	if err := dev.Tx(ethernet.TypeARP, buf[:], microps.MacBroadcast); err != nil {
		slog.Error("arp request", slog.String("err", err.Error()))
	}
}
