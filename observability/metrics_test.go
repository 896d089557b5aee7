package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestExchangeMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewExchangeMetrics(reg)

	m.RecordOperation("accept", "", 5*time.Millisecond)
	m.RecordOperation("accept", "offers_do_not_match", time.Millisecond)
	m.RecordFee(true, 30)
	m.RecordFee(false, 70)
	m.RecordFee(false, 0)
	m.SetRegisteredOffers(4)

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("accept", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("accept", "offers_do_not_match")))
	require.Equal(t, 30.0, testutil.ToFloat64(m.fees.WithLabelValues("partner")))
	require.Equal(t, 70.0, testutil.ToFloat64(m.fees.WithLabelValues("sink")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.openOffers))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *ExchangeMetrics
	m.RecordOperation("list", "ok", time.Second)
	m.RecordFee(true, 1)
	m.SetRegisteredOffers(1)
}

func TestOperationLatencyObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewExchangeMetrics(reg)
	m.RecordOperation("list", "ok", 2*time.Millisecond)
	m.RecordOperation("list", "expired", 3*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, family := range families {
		if family.GetName() != "nftswap_exchange_operation_duration_seconds" {
			continue
		}
		require.Equal(t, dto.MetricType_HISTOGRAM, family.GetType())
		require.Len(t, family.GetMetric(), 1)
		require.Equal(t, "list", family.GetMetric()[0].GetLabel()[0].GetValue())
		hist = family.GetMetric()[0].GetHistogram()
	}
	require.NotNil(t, hist)
	require.Equal(t, uint64(2), hist.GetSampleCount())
	require.InDelta(t, 0.005, hist.GetSampleSum(), 1e-9)
}
