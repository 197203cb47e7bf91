package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the referral engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	clicks       *prometheus.CounterVec
	signups      *prometheus.CounterVec
	claims       *prometheus.CounterVec
	claimedCoins prometheus.Counter
	riskScore    *prometheus.HistogramVec
	statsRefresh *prometheus.CounterVec
	throttled    prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "clicks_total",
			Help:      "Referral link clicks by outcome.",
		}, []string{"outcome"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "signups_total",
			Help:      "Referred signups by outcome (verified, review, blocked).",
		}, []string{"outcome"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "claims_total",
			Help:      "Claim calls that credited a non-zero amount, by claim type.",
		}, []string{"type"}),
		claimedCoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "claimed_coins_total",
			Help:      "Coins credited to user balances through claims.",
		}),
		riskScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "referral",
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"kind"}),
		statsRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "stats_refresh_total",
			Help:      "Background stats rebuilds by result.",
		}, []string{"result"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "http_throttled_total",
			Help:      "Public referral requests rejected by the edge rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.clicks, m.signups, m.claims, m.claimedCoins, m.riskScore, m.statsRefresh, m.throttled)
	}
	return m
}

func (m *Metrics) ObserveClick(blocked bool, riskScore int) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if blocked {
		outcome = "blocked"
	}
	m.clicks.WithLabelValues(outcome).Inc()
	m.riskScore.WithLabelValues("click").Observe(float64(riskScore))
}

// ObserveSignup takes one of "verified", "review", "blocked"
func (m *Metrics) ObserveSignup(outcome string, riskScore int) {
	if m == nil {
		return
	}
	m.signups.WithLabelValues(outcome).Inc()
	m.riskScore.WithLabelValues("signup").Observe(float64(riskScore))
}

func (m *Metrics) ObserveClaim(claimType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.claims.WithLabelValues(claimType).Inc()
	m.claimedCoins.Add(float64(amount))
}

func (m *Metrics) ObserveStatsRefresh(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.statsRefresh.WithLabelValues("error").Inc()
		return
	}
	m.statsRefresh.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// Counters exported for tests and dashboards

func (m *Metrics) ClicksCounter() *prometheus.CounterVec  { return m.clicks }
func (m *Metrics) SignupsCounter() *prometheus.CounterVec { return m.signups }
func (m *Metrics) ClaimedCoins() prometheus.Counter       { return m.claimedCoins }
func (m *Metrics) StatsRefreshCounter() *prometheus.CounterVec {
	return m.statsRefresh
}
func (m *Metrics) ThrottledCounter() prometheus.Counter { return m.throttled }
