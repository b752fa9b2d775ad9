package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка relay-запроса (включая сеть)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во relay-запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker по целевому хосту (0 - ок, 1 - выбило, 2 - пробуем)
	CircuitBreakerState *prometheus.GaugeVec

	// Consent: исходы диалогов согласия
	ConsentDecisions *prometheus.CounterVec

	// Audit: заполненность буфера журнала (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corsrelay_request_duration_seconds",
			Help:    "Histogram of relay request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "corsrelay_requests_total",
			Help: "Total number of relay requests.",
		}, []string{"method"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "corsrelay_errors_total",
			Help: "Total number of relay errors by type.",
		}, []string{"type"}), // not_permitted, network_failure, throttled, bad_request

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "corsrelay_circuit_breaker_state",
			Help: "Current state of the per-host circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"host"}),

		ConsentDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "corsrelay_consent_decisions_total",
			Help: "Consent outcomes delivered to requesting pages.",
		}, []string{"decision"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "corsrelay_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
