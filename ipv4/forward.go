package ipv4

import (
	"log/slog"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/ethernet"
	"github.com/cerdav/microps/internal/logattr"
	"github.com/cerdav/microps/internal/metrics"
	"github.com/cerdav/microps/ipv4/icmp"
)

// forward routes a datagram not addressed to this interface onward, per
// distilled spec §4.5: TTL decrement, header checksum fixup, and the
// ICMP TimeExceeded/DestUnreach/FragmentNeeded error responses a router
// emits back to the original sender.
func (iface *Interface) forward(f Frame) {
	if f.TTL() <= 1 {
		metrics.ForwardingDrops.WithLabelValues("ttl_exceeded").Inc()
		iface.sendError(icmp.TypeTimeExceeded, uint8(icmp.CodeExceededInTransit), f)
		return
	}

	dst := *f.DestinationAddr()
	route, ok := iface.routes.Lookup(nil, dst)
	if !ok {
		metrics.ForwardingDrops.WithLabelValues("no_route").Inc()
		iface.sendError(icmp.TypeDestinationUnreachable, uint8(icmp.CodeNetUnreachable), f)
		return
	}
	nextHop := route.NextHop
	if nextHop.IsZero() {
		nextHop = dst
	}

	f.SetTTL(f.TTL() - 1)
	f.SetCRC(f.CalculateHeaderCRC())

	datagram := f.RawData()[:f.TotalLength()]
	if len(datagram) > mtu {
		if f.Flags().DontFragment() {
			metrics.ForwardingDrops.WithLabelValues("frag_needed_df_set").Inc()
			iface.sendError(icmp.TypeDestinationUnreachable, uint8(icmp.CodeFragNeededAndDFSet), f)
			return
		}
		iface.forwardFragmented(route.Iface, nextHop, f)
		return
	}

	egress := route.Iface
	mac, held, err := iface.resolver.Resolve(egress.dev, egress.ip, nextHop, datagram)
	if err != nil {
		slog.Debug("ipv4 forward unresolved", slog.String("err", err.Error()), logattr.IP("next_hop", nextHop))
		return
	}
	if held {
		return // resolver owns the datagram and will transmit it once resolved
	}
	if err := egress.dev.Tx(ethernet.TypeIPv4, datagram, mac); err != nil {
		slog.Error("ipv4 forward tx", slog.String("err", err.Error()), logattr.MAC("mac", mac))
	}
}

// forwardFragmented re-fragments f's payload for egress's MTU, preserving
// f's datagram ID and folding its existing fragment offset into each new
// fragment's offset.
func (iface *Interface) forwardFragmented(egress *Interface, nextHop microps.IpAddr, f Frame) {
	chunks := fragmentChunks(f.Payload())
	baseBlock := f.Flags().FragmentOffset()
	origMF := f.Flags().MoreFragments()
	byteOffset := 0
	for i, chunk := range chunks {
		buf := make([]byte, f.HeaderLength()+len(chunk))
		copy(buf, f.buf[:f.HeaderLength()])
		nf := Frame{buf: buf}
		nf.SetTotalLength(uint16(len(buf)))
		mf := origMF || i != len(chunks)-1
		nf.SetFlags(FlagsFrom(false, mf, baseBlock+uint16(byteOffset/8)))
		copy(nf.Payload(), chunk)
		nf.SetCRC(nf.CalculateHeaderCRC())

		dgram := nf.RawData()
		mac, held, err := iface.resolver.Resolve(egress.dev, egress.ip, nextHop, dgram)
		if err != nil {
			slog.Debug("ipv4 forward fragment unresolved", slog.String("err", err.Error()))
		} else if !held {
			if err := egress.dev.Tx(ethernet.TypeIPv4, dgram, mac); err != nil {
				slog.Error("ipv4 forward fragment tx", slog.String("err", err.Error()))
			}
		}
		byteOffset += len(chunk)
	}
}
