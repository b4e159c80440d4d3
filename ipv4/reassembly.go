package ipv4

import (
	"sync"
	"time"

	"github.com/cerdav/microps"
	"github.com/cerdav/microps/internal/metrics"
)

type reassemblyKey struct {
	src, dst microps.IpAddr
	proto    Protocol
	id       uint16
}

type fragment struct {
	offsetBytes int
	data        []byte
}

// reassemblyJob tracks one in-flight datagram: which 8-octet payload blocks
// have arrived, and (once the zero-offset fragment is seen) a template
// header to rebuild the reassembled datagram from.
type reassemblyJob struct {
	fragments  []fragment
	gotBlocks  map[uint16]struct{}
	totalLen   int // payload length in bytes; -1 until the final fragment is seen
	header     []byte
	lastUpdate time.Time
}

// Reassembler holds up to MaxReassemblies concurrent fragment groups,
// keyed by (source, destination, protocol, ID) per RFC 791, discarding any
// group that has received no fragment for longer than ReassemblyExpiry.
type Reassembler struct {
	mu   sync.Mutex
	jobs map[reassemblyKey]*reassemblyJob
}

func newReassembler() *Reassembler {
	return &Reassembler{jobs: make(map[reassemblyKey]*reassemblyJob)}
}

// Insert feeds one validated, fragmented IPv4 frame into the reassembler.
// It returns the complete reassembled datagram the moment every block is
// accounted for, or nil while the group is still incomplete.
func (r *Reassembler) Insert(f Frame) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	key := reassemblyKey{src: *f.SourceAddr(), dst: *f.DestinationAddr(), proto: f.Protocol(), id: f.ID()}
	job, ok := r.jobs[key]
	if !ok {
		if len(r.jobs) >= MaxReassemblies {
			metrics.ReassemblyOutcomes.WithLabelValues("table_full").Inc()
			return nil, errNoReassemblySlot
		}
		job = &reassemblyJob{gotBlocks: make(map[uint16]struct{}), totalLen: -1}
		r.jobs[key] = job
		metrics.ReassemblyJobsActive.Set(float64(len(r.jobs)))
	}
	job.lastUpdate = time.Now()

	startBlock := f.Flags().FragmentOffset()
	offsetBytes := int(startBlock) * 8
	payload := append([]byte(nil), f.Payload()...)
	job.fragments = append(job.fragments, fragment{offsetBytes: offsetBytes, data: payload})

	numBlocks := (len(payload) + 7) / 8
	for b := uint16(0); b < uint16(numBlocks); b++ {
		job.gotBlocks[startBlock+b] = struct{}{}
	}
	if !f.Flags().MoreFragments() {
		job.totalLen = offsetBytes + len(payload)
	}
	if startBlock == 0 {
		job.header = append([]byte(nil), f.buf[:f.HeaderLength()]...)
	}

	if job.totalLen < 0 || job.header == nil {
		return nil, nil
	}
	neededBlocks := (job.totalLen + 7) / 8
	for b := uint16(0); b < uint16(neededBlocks); b++ {
		if _, have := job.gotBlocks[b]; !have {
			return nil, nil
		}
	}

	hl := len(job.header)
	full := make([]byte, hl+job.totalLen)
	copy(full, job.header)
	for _, frg := range job.fragments {
		copy(full[hl+frg.offsetBytes:], frg.data)
	}
	delete(r.jobs, key)
	metrics.ReassemblyJobsActive.Set(float64(len(r.jobs)))
	metrics.ReassemblyOutcomes.WithLabelValues("completed").Inc()

	nf := Frame{buf: full}
	nf.SetTotalLength(uint16(len(full)))
	nf.SetFlags(FlagsFrom(nf.Flags().DontFragment(), false, 0))
	nf.SetCRC(nf.CalculateHeaderCRC())
	return full, nil
}

// expireLocked discards reassembly jobs whose last fragment arrived more than
// ReassemblyExpiry ago. Caller must hold r.mu.
func (r *Reassembler) expireLocked() {
	now := time.Now()
	expired := 0
	for k, j := range r.jobs {
		if now.Sub(j.lastUpdate) > ReassemblyExpiry {
			delete(r.jobs, k)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReassemblyOutcomes.WithLabelValues("expired").Add(float64(expired))
		metrics.ReassemblyJobsActive.Set(float64(len(r.jobs)))
	}
}
