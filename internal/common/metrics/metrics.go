// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM provider HTTP calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Duration of a single LLM provider HTTP call in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"provider"},
	)

	LLMFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_provider_fallbacks_total",
			Help: "Number of times the router moved past a failed provider",
		},
		[]string{"from_provider"},
	)

	KeyRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_key_rotations_total",
			Help: "Number of active API key rotations per provider",
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_lookups_total",
			Help: "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_recommendations_total",
			Help: "Recommendation pipeline runs by terminal path",
		},
		[]string{"path"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "assistant_recommendation_duration_seconds",
			Help: "End to end recommendation duration in seconds",
		},
		[]string{"path"},
	)

	RecommendationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_recommendations_active",
			Help: "Number of recommendation pipelines currently running",
		},
	)
)
