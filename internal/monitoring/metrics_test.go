package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/model"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func TestMetrics_ObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(model.RunOutcomeSuccess, &model.RunStats{
		Scraped:         40,
		AfterAIText:     6,
		VisionAnalyzed:  3,
		VisionFailed:    1,
		FinalResults:    3,
		CreditsDeducted: model.CreditSplit{Bonus: 5, Main: 18},
	}, 3*time.Second)
	m.ObserveRun(model.RunOutcomeFailed, nil, time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 40, testutil.ToFloat64(m.StageCandidates.WithLabelValues("scraped")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.StageCandidates.WithLabelValues("stored")), 0)
	assert.InDelta(t, 23, testutil.ToFloat64(m.CreditsSpent), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("gemini")), 0)

	count, err := testutil.GatherAndCount(reg, "curator_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	done := m.RunStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsInProgress), 0)
	done()
	assert.InDelta(t, 0, testutil.ToFloat64(m.RunsInProgress), 0)

	m.RunSkipped()
	m.ConfigAutoPaused()
	m.ProviderFailed("apify")
	m.SetBreakerState("anthropic", 1)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsSkipped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AutoPaused), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("apify")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BreakerState.WithLabelValues("anthropic")), 0)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(model.RunOutcomeSuccess, &model.RunStats{}, time.Second)
		m.RunStarted()()
		m.RunSkipped()
		m.ConfigAutoPaused()
		m.ProviderFailed("gemini")
		m.SetBreakerState("gemini", 0)
		m.SetConfigCounts(&Snapshot{})
	})
}
