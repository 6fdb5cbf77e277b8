// Package telemetry records pipeline metrics on a private prometheus
// registry, so tests can run many instances without collisions.
package telemetry

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rfvalente/morada/models"
)

// Chat outcomes.
const (
	OutcomeGathering = "gathering"
	OutcomeResults   = "results"
	OutcomeGeneral   = "general"
	OutcomeError     = "error"
)

type Telemetry struct {
	logger   *log.Logger
	registry *prometheus.Registry

	chatRequests  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	llmRetries    prometheus.Counter
	negotiations  *prometheus.CounterVec
}

func New(logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Telemetry{
		logger:   logger,
		registry: reg,
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_chat_requests_total",
			Help: "Chat requests by outcome.",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "morada_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"agent"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_stage_failures_total",
			Help: "Stage failures by agent and error kind.",
		}, []string{"agent", "kind"}),
		llmRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "morada_llm_retries_total",
			Help: "LLM attempts beyond the first.",
		}),
		negotiations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_negotiations_total",
			Help: "Negotiation calls by result.",
		}, []string{"result"}),
	}
}

// Handler serves this instance's registry.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// ObserveSessions registers a live-session gauge backed by fn.
func (t *Telemetry) ObserveSessions(fn func() int) {
	t.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "morada_sessions_live",
		Help: "Sessions currently held in the store.",
	}, func() float64 { return float64(fn()) }))
}

// RecordChat counts one finished chat request.
func (t *Telemetry) RecordChat(outcome string) {
	t.chatRequests.WithLabelValues(outcome).Inc()
}

// RecordStage observes one agent dispatch.
func (t *Telemetry) RecordStage(agent string, d time.Duration, err error) {
	t.stageDuration.WithLabelValues(agent).Observe(d.Seconds())
	if err != nil {
		t.stageFailures.WithLabelValues(agent, models.KindOf(err).String()).Inc()
	}
}

// RecordLLMRetry counts a retried LLM attempt.
func (t *Telemetry) RecordLLMRetry() { t.llmRetries.Inc() }

// RecordNegotiation counts one finished negotiation.
func (t *Telemetry) RecordNegotiation(success bool) {
	result := "failed"
	if success {
		result = "ended"
	}
	t.negotiations.WithLabelValues(result).Inc()
}
