package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alpha_bot/internal/models"
)

const namespace = "alphabot"

// Metrics — свой реестр, без глобального default registry.
type Metrics struct {
	registry *prometheus.Registry

	Cycles             *prometheus.CounterVec
	Balance            *prometheus.GaugeVec
	ManualReview       *prometheus.CounterVec
	VerificationBlocks *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished trading cycles by account and resolution branch",
		}, []string{"account", "branch"}),
		Balance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Last observed available balance",
		}, []string{"account"}),
		ManualReview: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_review_total",
			Help:      "Cycles counted complete although liquidation was not confirmed",
		}, []string{"account"}),
		VerificationBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_blocks_total",
			Help:      "Verification overlay episodes cleared by the guard",
		}, []string{"account"}),
	}
}

func (m *Metrics) ObserveCycle(account string, out models.CycleOutcome) {
	m.Cycles.WithLabelValues(account, string(out.Branch)).Inc()
	if out.ManualReview {
		m.ManualReview.WithLabelValues(account).Inc()
	}
}

func (m *Metrics) ObserveBalance(account string, v float64) {
	m.Balance.WithLabelValues(account).Set(v)
}

func (m *Metrics) VerificationBlock(account string) {
	m.VerificationBlocks.WithLabelValues(account).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
