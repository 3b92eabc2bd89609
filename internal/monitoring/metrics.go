// Package monitoring exposes curation metrics, config health snapshots and
// webhook alerts.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/trend-curator/internal/model"
)

const metricsNamespace = "curator"

// Metrics holds the Prometheus collectors for curation runs. A nil *Metrics
// is a no-op.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunsSkipped      prometheus.Counter
	RunsInProgress   prometheus.Gauge
	RunDuration      prometheus.Histogram
	StageCandidates  *prometheus.CounterVec
	CreditsSpent     prometheus.Counter
	ProviderFailures *prometheus.CounterVec
	AutoPaused       prometheus.Counter
	ConfigsByStatus  *prometheus.GaugeVec
	BreakerState     *prometheus.GaugeVec
}

// NewMetrics creates and registers the metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Curation runs by outcome",
		}, []string{"outcome"}),
		RunsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_skipped_total",
			Help:      "Triggers skipped because a run for the same config was in progress",
		}),
		RunsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "runs_in_progress",
			Help:      "Curation runs currently executing",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of curation runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		}),
		StageCandidates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_candidates_total",
			Help:      "Candidates surviving each pipeline stage",
		}, []string{"stage"}),
		CreditsSpent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credits_spent_total",
			Help:      "Credits charged to users",
		}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_failures_total",
			Help:      "Failed external calls by provider",
		}, []string{"service"}),
		AutoPaused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "configs_auto_paused_total",
			Help:      "Configs moved to error state after repeated failures",
		}),
		ConfigsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "configs",
			Help:      "Scan configs by status",
		}, []string{"status"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by service (0 closed, 1 open, 2 half-open)",
		}, []string{"service"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome model.RunOutcome, stats *model.RunStats, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(outcome)).Inc()
	m.RunDuration.Observe(d.Seconds())
	if stats == nil {
		return
	}
	m.StageCandidates.WithLabelValues("scraped").Add(float64(stats.Scraped))
	m.StageCandidates.WithLabelValues("views_date").Add(float64(stats.AfterViewsFilter))
	m.StageCandidates.WithLabelValues("metadata").Add(float64(stats.AfterMetadata))
	m.StageCandidates.WithLabelValues("relevance").Add(float64(stats.AfterAIText))
	m.StageCandidates.WithLabelValues("vision").Add(float64(stats.VisionAnalyzed))
	m.StageCandidates.WithLabelValues("stored").Add(float64(stats.FinalResults))
	m.CreditsSpent.Add(float64(stats.CreditsDeducted.Total()))
	m.ProviderFailures.WithLabelValues("gemini").Add(float64(stats.VisionFailed))
}

// RunStarted marks a run as executing and returns the func that ends it.
func (m *Metrics) RunStarted() func() {
	if m == nil {
		return func() {}
	}
	m.RunsInProgress.Inc()
	return m.RunsInProgress.Dec
}

// RunSkipped counts a trigger dropped because the config was busy.
func (m *Metrics) RunSkipped() {
	if m == nil {
		return
	}
	m.RunsSkipped.Inc()
}

// ConfigAutoPaused counts a config moved to error state.
func (m *Metrics) ConfigAutoPaused() {
	if m == nil {
		return
	}
	m.AutoPaused.Inc()
}

// ProviderFailed counts a failed external call.
func (m *Metrics) ProviderFailed(service string) {
	if m == nil {
		return
	}
	m.ProviderFailures.WithLabelValues(service).Inc()
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(service).Set(float64(state))
}

// SetConfigCounts publishes config counts from a snapshot.
func (m *Metrics) SetConfigCounts(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.ConfigsByStatus.WithLabelValues(string(model.ScanStatusActive)).Set(float64(snap.ConfigsActive))
	m.ConfigsByStatus.WithLabelValues(string(model.ScanStatusPaused)).Set(float64(snap.ConfigsPaused))
	m.ConfigsByStatus.WithLabelValues(string(model.ScanStatusError)).Set(float64(snap.ConfigsError))
}
