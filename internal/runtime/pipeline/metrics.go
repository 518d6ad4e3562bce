package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Payload results recorded by Metrics.
const (
	ResultOK         = "ok"
	ResultParseError = "parse_error"
	ResultWriteError = "write_error"
	ResultHalted     = "halted"
)

// Metrics tracks pipeline statistics both as Prometheus collectors and as an
// in-memory per-rule view served by the status API.
type Metrics struct {
	mu    sync.RWMutex
	rules map[string]*RuleMetrics

	payloadsTotal    *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec
	pointsTotal      prometheus.Counter
	poisonedTotal    prometheus.Counter
	dispatchDuration prometheus.Histogram
	halted           prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// RuleMetrics holds counters for a single rule.
type RuleMetrics struct {
	Produced       uint64    `json:"produced"`
	NotFound       uint64    `json:"not_found"`
	Failed         uint64    `json:"failed"`
	LastValue      float64   `json:"last_value"`
	LastError      string    `json:"last_error,omitempty"`
	LastProducedAt time.Time `json:"last_produced_at,omitempty"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// MetricsSnapshot provides a point-in-time view of rule metrics.
type MetricsSnapshot struct {
	Rules       map[string]*RuleMetrics `json:"rules"`
	CollectedAt time.Time               `json:"collected_at"`
}

const (
	metricsNamespace = "fluxbridge"
	metricsSubsystem = "pipeline"
)

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the pipeline collectors. A nil registerer means the
// Prometheus default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		rules:         make(map[string]*RuleMetrics),
		registerer:    registerer,
		payloadsTotal: newCounterVec("payloads_total", "Payloads processed by result", []string{"result"}),
		outcomesTotal: newCounterVec("rule_outcomes_total", "Rule outcomes by rule and status", []string{"rule", "status"}),
		pointsTotal:   newCounter("points_written_total", "Points accepted by the sink"),
		poisonedTotal: newCounter("poisoned_total", "Payloads forwarded to the poison queue"),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of sink writes",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "halted",
			Help:      "1 once the termination policy halted the pipeline",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.payloadsTotal,
		m.outcomesTotal,
		m.pointsTotal,
		m.poisonedTotal,
		m.dispatchDuration,
		m.halted,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordReport folds one pass into the metrics.
func (m *Metrics) RecordReport(r Report, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, o := range r.Outcomes {
		rm := m.getOrCreateRule(o.Rule)
		rm.LastUpdatedAt = now
		switch o.Status {
		case StatusProduced:
			rm.Produced++
			rm.LastValue = o.Value
			rm.LastProducedAt = r.StartedAt
		case StatusNotFound:
			rm.NotFound++
		case StatusEvaluationFailed:
			rm.Failed++
			if o.Err != nil {
				rm.LastError = o.Err.Error()
			}
		}
		m.outcomesTotal.WithLabelValues(o.Rule, string(o.Status)).Inc()
	}
	if r.Dispatched && result != ResultWriteError {
		m.pointsTotal.Add(float64(len(r.Points)))
	}
	m.payloadsTotal.WithLabelValues(result).Inc()
}

// ObserveDispatch records the duration of one sink write.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	m.dispatchDuration.Observe(d.Seconds())
}

// RecordPoisoned counts a payload forwarded to the poison queue.
func (m *Metrics) RecordPoisoned() {
	m.poisonedTotal.Inc()
}

// SetHalted flags the pipeline as halted.
func (m *Metrics) SetHalted() {
	m.halted.Set(1)
}

// Snapshot returns copies of the per-rule metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Rules:       make(map[string]*RuleMetrics, len(m.rules)),
		CollectedAt: time.Now(),
	}
	for name, rm := range m.rules {
		c := *rm
		snapshot.Rules[name] = &c
	}
	return snapshot
}

// Rule returns a copy of the metrics for one rule, or nil.
func (m *Metrics) Rule(name string) *RuleMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rm, ok := m.rules[name]; ok {
		c := *rm
		return &c
	}
	return nil
}

func (m *Metrics) getOrCreateRule(name string) *RuleMetrics {
	if rm, ok := m.rules[name]; ok {
		return rm
	}
	rm := &RuleMetrics{}
	m.rules[name] = rm
	return rm
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rules = make(map[string]*RuleMetrics)
	m.payloadsTotal.Reset()
	m.outcomesTotal.Reset()
	m.halted.Set(0)
}
