package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequestIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("acnd-test", "test", reg)

	m.RecordHTTPRequest("GET", "/agents", "200", 15*time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/agents", "200")))
}

func TestInFlightGaugeTracksConcurrentRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("acnd-test", "test", reg)

	m.IncrementInFlight()
	m.IncrementInFlight()
	require.Equal(t, float64(2), testutil.ToFloat64(m.RequestsInFlight))

	m.DecrementInFlight()
	require.Equal(t, float64(1), testutil.ToFloat64(m.RequestsInFlight))
}

func TestSetGaugesReflectLatestValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("acnd-test", "test", reg)

	m.SetAgentsActive(42)
	require.Equal(t, float64(42), testutil.ToFloat64(m.AgentsActive))

	m.SetDLQDepth(3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.DLQDepth))

	m.SetGatewayConnectionsOpen(7)
	require.Equal(t, float64(7), testutil.ToFloat64(m.GatewayConnectionsOpen))
}

func TestRecordErrorLabelsByKindAndComponent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("acnd-test", "test", reg)

	m.RecordError("NOT_FOUND", "registry")
	m.RecordError("NOT_FOUND", "registry")

	require.Equal(t, float64(2), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("NOT_FOUND", "registry")))
}
