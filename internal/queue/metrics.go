package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "requests_total",
			Help:      "Requests that reached a terminal outcome",
		},
		[]string{"outcome"},
	)

	rejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Submissions refused because the admission queue was full",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "request_duration_seconds",
			Help:      "Time from submission to terminal outcome",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"outcome"},
	)

	tokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "generated_tokens_total",
			Help:      "Tokens produced across all requests",
		},
	)

	depthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Requests admitted and waiting for a worker",
		},
	)

	inflightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "inflight",
			Help:      "Requests claimed by a worker",
		},
	)

	workerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genserve",
			Subsystem: "queue",
			Name:      "worker_restarts_total",
			Help:      "Workers replaced after a panic",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, rejectedTotal, requestDuration, tokensTotal, depthGauge, inflightGauge, workerRestarts)
}

// Metrics holds the queue counters. All methods are safe for concurrent use.
type Metrics struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	cancelled atomic.Uint64
	rejected  atomic.Uint64
	inflight  atomic.Int64

	mu     sync.Mutex
	recent *circularbuffer.Queue // of sample, oldest evicted first
}

type sample struct {
	dur    time.Duration
	tokens int
}

// MetricsSnapshot is a read-only copy of the counters.
type MetricsSnapshot struct {
	Submitted       uint64
	Completed       uint64
	Failed          uint64
	TimedOut        uint64
	Cancelled       uint64
	Rejected        uint64
	Depth           int
	Inflight        int
	AvgLatency      time.Duration
	TokensPerSecond float64
}

func newMetrics(window int) *Metrics {
	return &Metrics{recent: circularbuffer.New(window)}
}

func (m *Metrics) onSubmit() {
	m.submitted.Add(1)
	depthGauge.Inc()
}

func (m *Metrics) onReject() {
	m.rejected.Add(1)
	rejectedTotal.Inc()
}

func (m *Metrics) onClaim() {
	m.inflight.Add(1)
	depthGauge.Dec()
	inflightGauge.Inc()
}

func (m *Metrics) onRelease() {
	m.inflight.Add(-1)
	inflightGauge.Dec()
}

// onUnclaimed accounts for a request drained from the queue without a worker.
func (m *Metrics) onUnclaimed() { depthGauge.Dec() }

// observe records one terminal outcome.
func (m *Metrics) observe(outcome string, dur time.Duration, tokens int) {
	switch outcome {
	case outcomeCompleted:
		m.completed.Add(1)
	case outcomeFailed:
		m.failed.Add(1)
	case outcomeTimeout:
		m.timedOut.Add(1)
	case outcomeCancelled:
		m.cancelled.Add(1)
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(dur.Seconds())
	tokensTotal.Add(float64(tokens))

	m.mu.Lock()
	m.recent.Enqueue(sample{dur: dur, tokens: tokens})
	m.mu.Unlock()
}

func (m *Metrics) snapshot(depth int) MetricsSnapshot {
	s := MetricsSnapshot{
		Submitted: m.submitted.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		TimedOut:  m.timedOut.Load(),
		Cancelled: m.cancelled.Load(),
		Rejected:  m.rejected.Load(),
		Depth:     depth,
		Inflight:  int(m.inflight.Load()),
	}
	m.mu.Lock()
	values := m.recent.Values()
	m.mu.Unlock()
	if len(values) == 0 {
		return s
	}
	var total time.Duration
	tokens := 0
	for _, v := range values {
		smp := v.(sample)
		total += smp.dur
		tokens += smp.tokens
	}
	s.AvgLatency = total / time.Duration(len(values))
	if total > 0 {
		s.TokensPerSecond = float64(tokens) / total.Seconds()
	}
	return s
}
