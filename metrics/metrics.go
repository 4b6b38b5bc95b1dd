// Package metrics exposes prometheus collectors for conversational turns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emoface"

// Turn outcomes.
const (
	OutcomeMarker    = "marker"
	OutcomeExhausted = "exhausted"
	OutcomeUnmatched = "unmatched"
	OutcomeFailed    = "failed"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by extraction outcome.",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn latency by stage (total, llm, param).",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	fragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Model fragments fed to extractor sessions.",
		},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open websocket connections.",
		},
	)

	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Session records saved, by result.",
		},
		[]string{"result"},
	)

	allMetrics = []prometheus.Collector{
		turnsTotal,
		turnDuration,
		fragmentsTotal,
		connectionsActive,
		recordsTotal,
	}
)

// NewRegistry returns a registry holding every collector of this package
// plus the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func RecordTurn(outcome string) { turnsTotal.WithLabelValues(outcome).Inc() }

func ObserveStage(stage string, d time.Duration) {
	turnDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func RecordFragment() { fragmentsTotal.Inc() }

func ConnectionOpened() { connectionsActive.Inc() }

func ConnectionClosed() { connectionsActive.Dec() }

func RecordSave(ok bool) {
	if ok {
		recordsTotal.WithLabelValues("ok").Inc()
		return
	}
	recordsTotal.WithLabelValues("error").Inc()
}
