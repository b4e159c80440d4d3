package ipv4

import (
	"log/slog"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/internal/metrics"
	"github.com/cerdav/microps/ipv4/icmp"
)

// icmpResponder is the always-registered ProtoICMP handler: it answers
// echo requests. Error messages (time exceeded, destination unreachable)
// are emitted by Interface.sendError below, which forward calls.
type icmpResponder struct{}

// RxIPv4 implements L4Handler.
func (r *icmpResponder) RxIPv4(srcIP, dstIP microps.IpAddr, payload []byte, iface *Interface) error {
	f, err := icmp.NewFrame(payload)
	if err != nil {
		return err
	}
	if f.Type() != icmp.TypeEcho {
		return nil // only echo requests get an application-level reply; errors are not answered
	}
	echoReq := icmp.FrameEcho{Frame: f}
	replyBuf := make([]byte, len(payload))
	reply := icmp.BuildEchoReply(replyBuf, echoReq)
	metrics.ICMPMessagesSent.WithLabelValues("echo_reply").Inc()
	return iface.Tx(ProtoICMP, srcIP, reply.RawData())
}

// sendError builds and transmits an ICMP error message quoting orig back to
// orig's source address, unless orig is itself an ICMP error message (RFC
// 792 forbids answering errors with errors, preventing storms).
func (iface *Interface) sendError(t icmp.Type, code uint8, orig Frame) {
	if orig.Protocol() == ProtoICMP {
		if f, err := icmp.NewFrame(orig.Payload()); err == nil && isICMPError(f.Type()) {
			return
		}
	}
	msg := icmp.BuildError(make([]byte, 8+28), t, code, orig.RawData()[:orig.TotalLength()])
	src := *orig.SourceAddr()
	metrics.ICMPMessagesSent.WithLabelValues(t.String()).Inc()
	if err := iface.Tx(ProtoICMP, src, msg.RawData()); err != nil {
		slog.Error("icmp error send", slog.String("err", err.Error()))
	}
}

func isICMPError(t icmp.Type) bool {
	switch t {
	case icmp.TypeDestinationUnreachable, icmp.TypeTimeExceeded, icmp.TypeParameterProblem, icmp.TypeRedirect:
		return true
	default:
		return false
	}
}
