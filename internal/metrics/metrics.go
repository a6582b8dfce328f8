// Package metrics exposes Prometheus instruments for scan and execution
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "arbbot"

// Metrics holds every collector the bot updates.
type Metrics struct {
	reg prometheus.Gatherer

	Scans               *prometheus.CounterVec
	Rejections          *prometheus.CounterVec
	Opportunities       *prometheus.CounterVec
	Executions          *prometheus.CounterVec
	ExecutionDur        *prometheus.HistogramVec
	PoolPrice           *prometheus.GaugeVec
	OraclePrice         *prometheus.GaugeVec
	CumulativeProfitUSD prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

// NewWithRegisterer registers the collectors on r. Handler serves r only when
// it is also a Gatherer.
func NewWithRegisterer(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_total",
			Help: "Pair scans by outcome.",
		}, []string{"pair", "outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Opportunity search rejections by reason.",
		}, []string{"pair", "reason"}),
		Opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "opportunities_total",
			Help: "Opportunities found by direction.",
		}, []string{"pair", "direction"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Execution attempts by status (success, failure, busy).",
		}, []string{"pair", "status"}),
		ExecutionDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_seconds",
			Help:    "Wall time from guard entry to terminal status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"pair"}),
		PoolPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_price",
			Help: "Last observed pool price, quote per external token.",
		}, []string{"pair"}),
		OraclePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "oracle_price",
			Help: "Last observed oracle price, quote per external token.",
		}, []string{"pair"}),
		CumulativeProfitUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cumulative_profit_usd",
			Help: "Cumulative realised profit from the profit ledger.",
		}),
	}
	r.MustRegister(m.Scans, m.Rejections, m.Opportunities, m.Executions,
		m.ExecutionDur, m.PoolPrice, m.OraclePrice, m.CumulativeProfitUSD)
	if g, ok := r.(prometheus.Gatherer); ok {
		m.reg = g
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gauges are display-only; profit-affecting values stay integral.
func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v, -18).Float64()
	return f
}

func (m *Metrics) ScanOutcome(pair, outcome string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(pair, outcome).Inc()
}

func (m *Metrics) Rejected(pair, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(pair, reason).Inc()
}

func (m *Metrics) Found(pair, direction string) {
	if m == nil {
		return
	}
	m.Opportunities.WithLabelValues(pair, direction).Inc()
}

func (m *Metrics) Prices(pair string, pool, oracle *big.Int) {
	if m == nil {
		return
	}
	m.PoolPrice.WithLabelValues(pair).Set(weiFloat(pool))
	m.OraclePrice.WithLabelValues(pair).Set(weiFloat(oracle))
}

func (m *Metrics) Executed(pair, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(pair, status).Inc()
	if status != "busy" {
		m.ExecutionDur.WithLabelValues(pair).Observe(d.Seconds())
	}
}

func (m *Metrics) Profit(cumulativeUSDWei *big.Int) {
	if m == nil {
		return
	}
	m.CumulativeProfitUSD.Set(weiFloat(cumulativeUSDWei))
}
