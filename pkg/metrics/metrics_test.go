package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveClick(false, 10)
	m.ObserveClick(true, 90)
	m.ObserveClick(true, 90)
	m.ObserveSignup("review", 55)
	m.ObserveClaim("all", 48)
	m.ObserveClaim("all", 0)
	m.ObserveStatsRefresh(nil)
	m.ObserveStatsRefresh(errors.New("db gone"))
	m.ObserveThrottled()

	require.Equal(t, 1.0, testutil.ToFloat64(m.ClicksCounter().WithLabelValues("allowed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ClicksCounter().WithLabelValues("blocked")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SignupsCounter().WithLabelValues("review")))
	require.Equal(t, 48.0, testutil.ToFloat64(m.ClaimedCoins()))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StatsRefreshCounter().WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ThrottledCounter()))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveClick(true, 1)
		m.ObserveSignup("verified", 1)
		m.ObserveClaim("clicks", 5)
		m.ObserveStatsRefresh(nil)
		m.ObserveThrottled()
	})
}
