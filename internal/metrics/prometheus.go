package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InterpretationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlq_interpretation_duration_seconds",
			Help:    "Prompt interpretation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"terminal_state"},
	)

	PromptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_prompts_total",
			Help: "Total prompts processed by outcome code",
		},
		[]string{"code"},
	)

	BlockedCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_blocked_commands_total",
			Help: "Queries rejected by the safety validator, by matched command",
		},
		[]string{"command"},
	)

	EngineAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_engine_attempts_total",
			Help: "Language model engine attempts by result",
		},
		[]string{"result"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlq_confidence_score",
			Help:    "Confidence of completed interpretations",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlq_active_sessions",
			Help: "Currently connected streaming sessions",
		},
	)

	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlq_sessions_total",
			Help: "Total streaming sessions accepted",
		},
	)

	QueriesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_queries_executed_total",
			Help: "Explicitly requested query executions by result",
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(InterpretationDuration)
	prometheus.MustRegister(PromptsTotal)
	prometheus.MustRegister(BlockedCommands)
	prometheus.MustRegister(EngineAttempts)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(QueriesExecuted)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
