// Package telemetry holds the Prometheus collectors for the RPC and pipeline
// paths. A nil *Metrics is valid and records nothing, so components can be
// built without metrics in tests.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskflow"

// RPC call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Pipeline stages.
const (
	StageSplit      = "split"
	StagePart       = "part"
	StageChainStart = "chain_start"
	StageChain      = "chain"
)

// Metrics groups every taskflow collector.
type Metrics struct {
	mu sync.Mutex

	rpcCalls         *prometheus.CounterVec
	rpcDuration      prometheus.Histogram
	unmatchedReplies prometheus.Counter
	pendingCalls     prometheus.Gauge
	rejected         *prometheus.CounterVec
	pipelineSteps    *prometheus.CounterVec
	chainsCompleted  prometheus.Counter
	recordsCompleted prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New builds the collectors. Nothing is registered until Register is called.
// A nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:       registerer,
		rpcCalls:         newCounterVec("rpc", "calls_total", "RPC calls by outcome.", "outcome"),
		unmatchedReplies: newCounter("rpc", "unmatched_replies_total", "Replies that arrived with no pending call."),
		rpcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time from publishing a request until its reply or failure.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 30},
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending_calls",
			Help:      "Calls currently waiting for a reply.",
		}),
		rejected:         newCounterVec("", "messages_rejected_total", "Malformed messages routed to the rejection queue.", "handler"),
		pipelineSteps:    newCounterVec("pipeline", "steps_total", "Pipeline messages processed by stage.", "stage"),
		chainsCompleted:  newCounter("pipeline", "chains_completed_total", "Chains that reached their terminal cursor."),
		recordsCompleted: newCounter("work", "records_completed_total", "Work records marked complete."),
	}
}

// Register adds the collectors to the registerer. Safe to call repeatedly and
// tolerant of collectors registered by an earlier instance.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	r := m.registerer
	errs := []error{
		register(r, &m.rpcCalls),
		register(r, &m.rpcDuration),
		register(r, &m.unmatchedReplies),
		register(r, &m.pendingCalls),
		register(r, &m.rejected),
		register(r, &m.pipelineSteps),
		register(r, &m.chainsCompleted),
		register(r, &m.recordsCompleted),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// register adopts the already registered collector when another instance got
// there first, so every Metrics value in a process feeds the same series.
func register[C prometheus.Collector](r prometheus.Registerer, c *C) error {
	err := r.Register(*c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// ObserveCall records one finished RPC call.
func (m *Metrics) ObserveCall(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(outcome).Inc()
	m.rpcDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.pendingCalls.Set(float64(n))
}

func (m *Metrics) UnmatchedReply() {
	if m == nil {
		return
	}
	m.unmatchedReplies.Inc()
}

func (m *Metrics) Rejected(handler string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(handler).Inc()
}

func (m *Metrics) PipelineStep(stage string) {
	if m == nil {
		return
	}
	m.pipelineSteps.WithLabelValues(stage).Inc()
}

func (m *Metrics) ChainCompleted() {
	if m == nil {
		return
	}
	m.chainsCompleted.Inc()
}

func (m *Metrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.recordsCompleted.Inc()
}
