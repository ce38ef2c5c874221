package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation outcomes
const (
	OutcomeFired     = "fired"
	OutcomeNoMatch   = "no_match"
	OutcomeCooldown  = "cooldown"
	OutcomeEmptyPool = "empty_pool"
)

var (
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atendigram_autoreply_evaluations_total",
		Help: "Total number of inbound messages evaluated against auto-reply rules",
	}, []string{"outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atendigram_autoreply_evaluation_duration_seconds",
		Help:    "Duration of auto-reply evaluations",
		Buckets: prometheus.DefBuckets,
	})

	EmptyPools = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atendigram_autoreply_empty_pool_total",
		Help: "Matching rules skipped because they have no messages",
	})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atendigram_autoreply_dispatch_total",
		Help: "Auto-reply messages handed to Telegram",
	}, []string{"status"})

	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atendigram_broadcast_deliveries_total",
		Help: "Campaign deliveries by result",
	}, []string{"status"})

	RuleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atendigram_rule_cache_hits_total",
		Help: "Rule set lookups served from cache",
	})

	RuleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atendigram_rule_cache_misses_total",
		Help: "Rule set lookups that hit the database",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atendigram_active_sessions",
		Help: "Telegram sessions currently polled for updates",
	})
)

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
