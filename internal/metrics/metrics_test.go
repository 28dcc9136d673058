package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).(prometheus.Metric).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestObserveUsage_IncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveUsage("m", "completed", 10, 5, 150, 250*time.Millisecond)

	assert.Equal(t, float64(1), counterValue(t, r.requestsTotal, "m", "completed"))
	assert.Equal(t, float64(10), counterValue(t, r.tokensTotal, "m", "prompt"))
	assert.Equal(t, float64(5), counterValue(t, r.tokensTotal, "m", "completion"))
	assert.Equal(t, float64(150), counterValue(t, r.costNanoUSDTotal, "m"))
}

func TestObserveUsage_AccumulatesAcrossCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveUsage("m", "completed", 10, 5, 100, time.Millisecond)
	r.ObserveUsage("m", "completed", 20, 8, 200, time.Millisecond)

	assert.Equal(t, float64(2), counterValue(t, r.requestsTotal, "m", "completed"))
	assert.Equal(t, float64(30), counterValue(t, r.tokensTotal, "m", "prompt"))
	assert.Equal(t, float64(300), counterValue(t, r.costNanoUSDTotal, "m"))
}

func TestObserveUsage_NilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveUsage("m", "failed", 1, 1, 1, time.Millisecond)
	})
}

func TestHandler_ReturnsHandler(t *testing.T) {
	h := Handler()
	require.NotNil(t, h)
}
