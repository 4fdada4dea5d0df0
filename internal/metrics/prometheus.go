// Package metrics registers Prometheus collectors for the Tinge gateway and engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinge_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	CredentialsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinge_credentials_active",
		Help: "Number of ephemeral credentials tracked in the usage ledger",
	})

	TokensActualTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinge_tokens_actual_total",
		Help: "Cumulative actual tokens reported across all credentials",
	})

	TokenLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinge_token_limit_rejections_total",
		Help: "Requests rejected because a credential reached its token limit",
	})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinge_upstream_request_duration_seconds",
		Help:    "Upstream request duration by service",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"service", "status"})

	SearchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinge_knowledge_search_requests_total",
		Help: "Knowledge search proxy requests by outcome",
	}, []string{"status"})

	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinge_transcription_duration_seconds",
		Help:    "Audio transcription proxy duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinge_correction_verifications_total",
		Help: "Correction verification outcomes",
	}, []string{"status"})
)
