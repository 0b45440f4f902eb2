package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_requests_total",
			Help: "Total number of relayed requests",
		},
		[]string{"mode", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertexgw_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_tokens_total",
			Help: "Total number of tokens reported by the backend",
		},
		[]string{"model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_cost_usd_total",
			Help: "Total priced cost in USD",
		},
		[]string{"model"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_backend_errors_total",
			Help: "Total number of non-success backend replies and transport failures",
		},
		[]string{"kind"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgw_credential_refreshes_total",
			Help: "Bearer token refreshes by outcome (provider, shared, error)",
		},
		[]string{"result"},
	)

	StreamFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexgw_stream_fragments_total",
			Help: "Total number of backend stream fragments relayed",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertexgw_active_streams",
			Help: "Number of streaming relays in progress",
		},
	)

	UsageRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexgw_usage_record_failures_total",
			Help: "Usage records that could not be written",
		},
	)
)

func RecordRequest(mode, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(mode, status).Inc()
	RequestDuration.WithLabelValues(mode).Observe(durationSec)
}

func RecordTokens(model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

func RecordCost(model string, costUSD float64) {
	CostTotal.WithLabelValues(model).Add(costUSD)
}

func RecordBackendError(kind string) {
	BackendErrors.WithLabelValues(kind).Inc()
}

func RecordCredentialRefresh(result string) {
	CredentialRefreshes.WithLabelValues(result).Inc()
}

func RecordStreamFragment() {
	StreamFragments.Inc()
}

func RecordUsageRecordFailure() {
	UsageRecordFailures.Inc()
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
