package runtime

import (
	"maps"
	"runtime"
	"runtime/metrics"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
	"github.com/drblury/fluxbridge/internal/runtime/pipeline"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// PayloadStats summarises every pass of the pipeline.
type PayloadStats struct {
	Processed       uint64            `json:"processed"`
	Dispatched      uint64            `json:"dispatched"`
	PointsWritten   uint64            `json:"points_written"`
	Failures        map[string]uint64 `json:"failures"`
	LastFailure     string            `json:"last_failure,omitempty"`
	LastProcessedAt time.Time         `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
}

// LatencyMetrics are pass durations. Percentiles cover the most recent
// passes only; the average covers all of them.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// payloadStats is fed by the pipeline observer and read by the status API.
type payloadStats struct {
	mu      sync.Mutex
	stats   PayloadStats
	elapsed time.Duration
	latency *latencyWindow
	rate    *throughputWindow
	usage   *resourceTracker
	now     func() time.Time
}

func newPayloadStats() *payloadStats {
	return &payloadStats{
		stats:   PayloadStats{Failures: map[string]uint64{}},
		latency: newLatencyWindow(latencySampleSize),
		rate:    newThroughputWindow(throughputWindowSize),
		usage:   newResourceTracker(),
		now:     time.Now,
	}
}

func (p *payloadStats) observe(report pipeline.Report) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	st := &p.stats
	st.Processed++
	st.LastProcessedAt = now.UTC()
	if report.Dispatched {
		st.Dispatched++
		st.PointsWritten += uint64(len(report.Points))
	}
	if report.Failure != nil {
		p.countFailure(report.Failure)
	}

	p.elapsed += report.Duration
	p.latency.Add(report.Duration)
	st.Latency = p.latency.Snapshot()
	st.Latency.AverageNs = int64(p.elapsed / time.Duration(st.Processed))

	win := p.rate.AddAndSnapshot(now)
	st.Throughput = ThroughputMetrics{
		CurrentRPS:       win.CurrentRPS,
		WindowSeconds:    win.WindowSeconds,
		MessagesInWindow: uint64(win.Count),
	}
}

// recordTransportFailure counts a failure reported outside a pipeline pass.
func (p *payloadStats) recordTransportFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.countFailure(err)
}

// countFailure must be called with p.mu held.
func (p *payloadStats) countFailure(err error) {
	kind := string(errspkg.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	p.stats.Failures[kind]++
	p.stats.LastFailure = err.Error()
}

// Snapshot returns a copy that is safe to encode.
func (p *payloadStats) Snapshot() PayloadStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Failures = maps.Clone(p.stats.Failures)
	return out
}

func (p *payloadStats) Resources() ResourceUsage {
	return p.usage.Snapshot()
}

// latencyWindow is a ring of the last len(ring) durations in nanoseconds.
type latencyWindow struct {
	ring  []int64
	head  int
	count int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.ring[lw.head] = int64(d)
	lw.head = (lw.head + 1) % len(lw.ring)
	lw.count = min(lw.count+1, len(lw.ring))
}

// Snapshot leaves AverageNs unset; only the caller knows the all-time total.
func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw.count == 0 {
		return LatencyMetrics{}
	}
	newest := (lw.head - 1 + len(lw.ring)) % len(lw.ring)

	var sorted []int64
	if lw.count < len(lw.ring) {
		sorted = slices.Clone(lw.ring[:lw.count])
	} else {
		sorted = slices.Clone(lw.ring)
	}
	slices.Sort(sorted)

	return LatencyMetrics{
		P50Ns:      percentile(sorted, 0.50),
		P95Ns:      percentile(sorted, 0.95),
		P99Ns:      percentile(sorted, 0.99),
		LastNs:     lw.ring[newest],
		SampleSize: lw.count,
	}
}

// percentile interpolates linearly between the neighbouring ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	i := int(rank)
	if i+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(i)
	return sorted[i] + int64(frac*float64(sorted[i+1]-sorted[i]))
}

// throughputWindow keeps the arrival times seen within horizon.
type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	keep := slices.IndexFunc(tw.samples, func(ts time.Time) bool { return !ts.Before(cutoff) })
	tw.samples = tw.samples[keep:]

	span := max(now.Sub(tw.samples[0]), time.Nanosecond)
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}

const (
	metricCPUSeconds = "/cpu/classes/total:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker derives CPU usage from the delta between two reads.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	lastCPU float64
	lastAt  time.Time
	numCPU  float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	if v := r.samples[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if wall := now.Sub(r.lastAt).Seconds(); !r.lastAt.IsZero() && wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
		}
		r.lastCPU = cpu
	}
	r.lastAt = now

	if v := r.samples[1].Value; v.Kind() == metrics.KindUint64 {
		usage.MemoryBytes = v.Uint64()
	} else {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		usage.MemoryBytes = mem.Alloc
	}
	if v := r.samples[2].Value; v.Kind() == metrics.KindUint64 {
		usage.Goroutines = int(v.Uint64())
	}
	return usage
}
