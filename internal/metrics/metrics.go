package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "economy"

// Flusher 批量落库指标
type Flusher struct {
	Batches     *prometheus.CounterVec // result=success|failure
	Committed   prometheus.Counter
	Requeued    prometheus.Counter
	DeadLetters prometheus.Counter
	Skipped     prometheus.Counter
	Duration    prometheus.Histogram
}

// NewFlusher 创建并注册指标；queueLen 非空时同时注册队列长度
func NewFlusher(reg prometheus.Registerer, queueLen func() int) *Flusher {
	m := &Flusher{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "batches_total",
			Help:      "Number of committed batches by result.",
		}, []string{"result"}),
		Committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "mutations_committed_total",
			Help:      "Number of pending mutations persisted.",
		}),
		Requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "mutations_requeued_total",
			Help:      "Number of pending mutations returned to the queue after a failed batch.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "mutations_dead_lettered_total",
			Help:      "Number of pending mutations dropped after exhausting their attempts.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "ticks_skipped_total",
			Help:      "Number of ticks skipped because a batch was in flight.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flusher",
			Name:      "commit_duration_seconds",
			Help:      "Latency of batch commits.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	reg.MustRegister(m.Batches, m.Committed, m.Requeued, m.DeadLetters, m.Skipped, m.Duration)

	if queueLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "length",
			Help:      "Pending mutations waiting to be flushed.",
		}, func() float64 { return float64(queueLen()) }))
	}
	return m
}

// NewNopFlusher 未注册的指标，测试和未启用监控时使用
func NewNopFlusher() *Flusher {
	return NewFlusher(prometheus.NewRegistry(), nil)
}
