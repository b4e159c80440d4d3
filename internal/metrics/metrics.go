// Package metrics defines all Prometheus metrics for the microps stack.
// All metrics use the "microps_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "microps"

// --- Ethernet frame metrics ---

var (
	// FramesReceived counts frames received per device, by ethertype.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total Ethernet frames received, by device and ethertype.",
	}, []string{"device", "ethertype"})

	// FramesSent counts frames transmitted per device, by ethertype.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sent_total",
		Help:      "Total Ethernet frames sent, by device and ethertype.",
	}, []string{"device", "ethertype"})

	// FrameErrors counts frames dropped for a parse or validation failure.
	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_errors_total",
		Help:      "Total frames dropped due to a parse or validation error, by layer.",
	}, []string{"layer"})
)

// --- ARP metrics ---

var (
	// ARPCacheSize is a gauge of entries currently held in the ARP cache.
	ARPCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "arp_cache_size",
		Help:      "Number of entries currently held in the ARP cache.",
	})

	// ARPResolutions counts resolution attempts, by outcome (hit, resolved, timeout).
	ARPResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_resolutions_total",
		Help:      "Total ARP resolution attempts, by outcome.",
	}, []string{"outcome"})
)

// --- IPv4 metrics ---

var (
	// ReassemblyJobsActive is a gauge of in-flight fragment reassembly jobs.
	ReassemblyJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reassembly_jobs_active",
		Help:      "Number of fragment reassembly jobs currently in flight.",
	})

	// ReassemblyOutcomes counts completed reassembly jobs, by outcome (completed, expired, table_full).
	ReassemblyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reassembly_outcomes_total",
		Help:      "Total fragment reassembly job outcomes.",
	}, []string{"outcome"})

	// ForwardingDrops counts datagrams dropped while forwarding, by reason.
	ForwardingDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarding_drops_total",
		Help:      "Total datagrams dropped during forwarding, by reason.",
	}, []string{"reason"})

	// ICMPMessagesSent counts ICMP messages sent, by type.
	ICMPMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "icmp_messages_sent_total",
		Help:      "Total ICMP messages sent, by type.",
	}, []string{"type"})
)

// --- UDP metrics ---

var (
	// UDPEndpointsOpen is a gauge of currently bound UDP endpoints.
	UDPEndpointsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "udp_endpoints_open",
		Help:      "Number of currently bound UDP endpoints.",
	})

	// UDPDatagramsDropped counts inbound datagrams dropped, by reason
	// (checksum, no_listener, queue_full).
	UDPDatagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "udp_datagrams_dropped_total",
		Help:      "Total inbound UDP datagrams dropped, by reason.",
	}, []string{"reason"})
)
