package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Operation("schedule", "ok")
	m.Operation("schedule", "ok")
	m.Operation("schedule", "conflict")
	m.Sweep(3, nil)
	m.Sweep(0, errors.New("boom"))
	m.DeliveryFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("schedule", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("schedule", "conflict")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.partiesClaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryFailures))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Operation("join", "ok")
		m.Sweep(1, nil)
		m.DeliveryFailed()
	})
}
