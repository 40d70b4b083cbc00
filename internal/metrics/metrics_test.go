package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveAdmission(15 * time.Millisecond)
		IncLedgerRetry()
	})
}

func TestCounters(t *testing.T) {
	before := counterValue(t, bookingsCreated)
	IncBookingCreated()
	assert.Equal(t, before+1, counterValue(t, bookingsCreated))

	IncBookingRejected("room_unavailable")
	assert.Equal(t, float64(1), counterValue(t, bookingRejections.WithLabelValues("room_unavailable")))

	IncTransition("booked", "active")
	IncTransition("booked", "active")
	assert.Equal(t, float64(2), counterValue(t, bookingTransitions.WithLabelValues("booked", "active")))

	IncSweep("completed")
	assert.Equal(t, float64(1), counterValue(t, sweepTransitions.WithLabelValues("completed")))
}
