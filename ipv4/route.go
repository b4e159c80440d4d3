package ipv4

import (
	"sync"

	"github.com/cerdav/microps"
)

// Route is one entry of a RouteTable: datagrams whose destination matches
// Dest/Mask are sent to NextHop over Iface, or delivered directly if
// NextHop is the zero address (an on-link/direct route).
type Route struct {
	Dest    microps.IpAddr
	Mask    microps.IpAddr
	NextHop microps.IpAddr
	Iface   *Interface
}

func (r Route) prefixLen() int {
	n := 0
	for _, b := range r.Mask {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) == 0 {
				return n
			}
			n++
		}
	}
	return n
}

func (r Route) matches(dst microps.IpAddr) bool {
	return dst.Mask(r.Mask) == r.Dest.Mask(r.Mask)
}

// RouteTable resolves a destination address to an egress route by longest
// prefix match, per distilled spec §4.3.
type RouteTable struct {
	mu     sync.RWMutex
	routes []Route
}

// Add inserts or replaces a route for the given destination/mask.
func (t *RouteTable) Add(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.routes {
		if existing.Dest == r.Dest && existing.Mask == r.Mask {
			t.routes[i] = r
			return
		}
	}
	t.routes = append(t.routes, r)
}

// Remove deletes the route for dest/mask, if present.
func (t *RouteTable) Remove(dest, mask microps.IpAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.routes {
		if existing.Dest == dest && existing.Mask == mask {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return
		}
	}
}

// DeleteFor purges every route whose Iface is iface, so a reconfigured
// interface can have its direct and gateway routes reinstalled from
// scratch instead of accumulating stale entries.
func (t *RouteTable) DeleteFor(iface *Interface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.Iface != iface {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

// Lookup returns the longest-prefix-matching route for dst, or ok=false if
// no route matches (including no default route). When scope is non-nil,
// only routes belonging to that interface are considered — the path local
// origination (Interface.Tx) uses, since a datagram can only leave through
// the device its own interface owns. A nil scope searches every route
// regardless of owning interface, which forwarding needs since the egress
// interface for a forwarded datagram is not yet known at lookup time.
func (t *RouteTable) Lookup(scope *Interface, dst microps.IpAddr) (route Route, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := -1
	for _, r := range t.routes {
		if scope != nil && r.Iface != scope {
			continue
		}
		if !r.matches(dst) {
			continue
		}
		if pl := r.prefixLen(); pl > best {
			best = pl
			route = r
			ok = true
		}
	}
	return route, ok
}
