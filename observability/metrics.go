package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExchangeMetrics records engine operations and fee payouts.
type ExchangeMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	fees       *prometheus.CounterVec
	openOffers prometheus.Gauge
}

var (
	exchangeMetricsOnce sync.Once
	exchangeRegistry    *ExchangeMetrics
)

// Exchange returns the lazily-initialised exchange metrics registered with the
// default prometheus registry.
func Exchange() *ExchangeMetrics {
	exchangeMetricsOnce.Do(func() {
		exchangeRegistry = NewExchangeMetrics(prometheus.DefaultRegisterer)
	})
	return exchangeRegistry
}

// NewExchangeMetrics builds the collectors and registers them with reg when it
// is non-nil.
func NewExchangeMetrics(reg prometheus.Registerer) *ExchangeMetrics {
	m := &ExchangeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftswap",
			Subsystem: "exchange",
			Name:      "operations_total",
			Help:      "Exchange operations segmented by operation and outcome code.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nftswap",
			Subsystem: "exchange",
			Name:      "operation_duration_seconds",
			Help:      "Latency of exchange operations including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftswap",
			Subsystem: "exchange",
			Name:      "fees_total",
			Help:      "Fee payouts in base units segmented by recipient kind.",
		}, []string{"recipient_kind"}),
		openOffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nftswap",
			Subsystem: "exchange",
			Name:      "registered_offers",
			Help:      "Highest offer id assigned by the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.fees, m.openOffers)
	}
	return m
}

// RecordOperation tracks one engine call. outcome is "ok" or an error code.
func (m *ExchangeMetrics) RecordOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordFee adds a payout. Amounts beyond float64 precision are approximated.
func (m *ExchangeMetrics) RecordFee(partner bool, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	kind := "sink"
	if partner {
		kind = "partner"
	}
	m.fees.WithLabelValues(kind).Add(amount)
}

// SetRegisteredOffers publishes the current swap id.
func (m *ExchangeMetrics) SetRegisteredOffers(n uint64) {
	if m == nil {
		return
	}
	m.openOffers.Set(float64(n))
}
