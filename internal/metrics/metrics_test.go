package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.Refresh(RefreshSuccess)
	m.Refresh(RefreshSuccess)
	m.Refresh(RefreshFailure)
	m.SyncAttempt(false)
	m.SyncAttempt(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues(RefreshSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues(RefreshFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SyncAttempts.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SyncAttempts.WithLabelValues("success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.Refresh(RefreshSuccess)
	m.SyncAttempt(true)
	m.ObserveBackend("GET", "200", 0.1)
	m.ServedRequest("GET", "200")
}
