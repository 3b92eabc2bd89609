package curation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/filter"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/scheduler"
	"github.com/sells-group/trend-curator/internal/store"
	"github.com/sells-group/trend-curator/pkg/apify"
)

// fortyItems returns 40 scraped items of which exactly 3 have at least
// 500k views and were posted within the last 7 days.
func fortyItems(now time.Time) []apify.Item {
	var items []apify.Item
	for i := range 3 {
		items = append(items, item(fmt.Sprintf("hit%d", i), 900_000, now.Add(-48*time.Hour), "home workout routine"))
	}
	for i := range 17 {
		items = append(items, item(fmt.Sprintf("low%d", i), 10_000, now.Add(-24*time.Hour), "home workout"))
	}
	for i := range 20 {
		items = append(items, item(fmt.Sprintf("old%d", i), 2_000_000, now.AddDate(0, 0, -30), "home workout"))
	}
	return items
}

func TestRun_FortyScrapedThreeEnterPrefilter(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	h.scraper.rounds = [][]apify.Item{fortyItems(time.Now())}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeSuccess, got.LastRunStatus)
	require.NotNil(t, got.LastRunStats)
	stats := got.LastRunStats
	assert.Equal(t, 40, stats.Scraped)
	assert.Equal(t, 3, stats.AfterViewsFilter)
	assert.Equal(t, 3, stats.AfterMetadata)
	assert.Equal(t, 3, stats.AfterAIText)
	assert.Equal(t, 1, stats.RelevanceBatches)
	assert.Equal(t, 3, stats.VisionCalls)
	assert.Equal(t, 3, stats.VisionAnalyzed)
	assert.Equal(t, 3, stats.FinalResults)
	assert.Equal(t, []string{"home workout"}, stats.Keywords)
	assert.Positive(t, stats.EstimatedCostUSD)

	// base 2 + one batch 2 + three vision calls 15
	assert.Equal(t, int64(19), stats.CreditsUsed)
	assert.Equal(t, model.CreditSplit{Bonus: 10, Rollover: 5, Main: 4}, stats.CreditsDeducted)
	u, err := h.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.CreditPool{Bonus: 0, Rollover: 0, Main: 96}, u.Credits)

	// Paused configs hold no next run, even after a manual run.
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 0, got.ConsecutiveErrors)

	results, total, err := h.store.ListResults(context.Background(), store.ResultFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, r := range results {
		require.NotNil(t, r.VisionScore)
		assert.Equal(t, 80, *r.VisionScore)
		// 90*0.4 + 80*0.6
		assert.InDelta(t, 84.0, r.FinalScore, 0.001)
		assert.Equal(t, 90, r.TextScore)
		assert.Equal(t, stats.BatchID, r.BatchID)
		assert.Positive(t, r.ViralScore)
	}
}

func TestRun_MalformedRelevanceIsNeutral(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Update(context.Background(), "u1", cfg.ID, ConfigPatch{TextScoreThreshold: intPtr(40)})
	require.NoError(t, err)
	h.claude.malformed = true
	h.scraper.rounds = [][]apify.Item{fortyItems(time.Now())}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeSuccess, got.LastRunStatus)

	results, _, err := h.store.ListResults(context.Background(), store.ResultFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, filter.NeutralScore, r.TextScore)
		assert.Equal(t, filter.ReasonScoringError, r.TextReason)
	}

	// Failed verdicts are not cached.
	cached, err := h.store.GetRelevanceScores(context.Background(), "p1", []string{"hit0"}, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestRun_CapsResultsAtMaxVision(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())

	now := time.Now()
	var items []apify.Item
	for i := range 12 {
		desc := fmt.Sprintf("home workout score=%d", 71+i)
		items = append(items, item(fmt.Sprintf("v%02d", i), 800_000, now.Add(-time.Hour), desc))
	}
	h.scraper.rounds = [][]apify.Item{items}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, 12, got.LastRunStats.AfterAIText)
	assert.Equal(t, 2, got.LastRunStats.RelevanceBatches)
	assert.Equal(t, 5, got.LastRunStats.VisionCalls)
	assert.Equal(t, 5, got.LastRunStats.FinalResults)
	assert.Equal(t, int64(2+2*2+5*5), got.LastRunStats.CreditsUsed)

	results, total, err := h.store.ListResults(context.Background(), store.ResultFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	// The five highest relevance scores went to vision.
	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.VideoID] = true
	}
	for _, id := range []string{"v07", "v08", "v09", "v10", "v11"} {
		assert.True(t, ids[id], id)
	}
}

func TestRun_NeverDuplicatesResults(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	now := time.Now()
	batch := fortyItems(now)
	// The same videos reappear in a later round.
	h.scraper.rounds = [][]apify.Item{batch, batch[:5]}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	first := h.config(t, cfg.ID)
	assert.Equal(t, 3, first.LastRunStats.FinalResults)
	assert.Equal(t, 45, first.LastRunStats.Scraped)
	assert.Equal(t, 3, first.LastRunStats.AfterViewsFilter)

	h.scraper = &fakeScraper{rounds: [][]apify.Item{batch}}
	h.orch.deps.Scraper = h.scraper
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	second := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeFilteredAll, second.LastRunStatus)
	assert.Equal(t, 3, second.LastRunStats.DroppedExisting)

	n, err := h.store.CountResults(context.Background(), cfg.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRun_InsufficientCredits(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, model.CreditPool{Bonus: 5, Rollover: 4, Main: 10})
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	fired := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	h.setNextRun(t, cfg.ID, fired)

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeInsufficientCredits, got.LastRunStatus)
	assert.Equal(t, 0, got.ConsecutiveErrors)
	assert.Equal(t, 0, h.scraper.calls())
	require.NotNil(t, got.NextRunAt)
	assert.True(t, fired.Add(12*time.Hour).Equal(*got.NextRunAt), got.NextRunAt)

	u, err := h.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(19), u.Credits.Total())
}

func TestRun_EmptyOutcomes(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.seed(t, defaultCredits())

		require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
		got := h.config(t, cfg.ID)
		assert.Equal(t, model.RunOutcomeNoResults, got.LastRunStatus)
		assert.Equal(t, 0, got.ConsecutiveErrors)
		assert.Equal(t, 1, h.scraper.calls())
		assert.Equal(t, 0, h.claude.calls)
	})

	t.Run("filtered all", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.seed(t, defaultCredits())
		h.scraper.rounds = [][]apify.Item{{item("low", 10, time.Now(), "home workout")}}

		require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
		got := h.config(t, cfg.ID)
		assert.Equal(t, model.RunOutcomeFilteredAll, got.LastRunStatus)
		assert.Equal(t, int64(0), got.LastRunStats.CreditsUsed)
		assert.Equal(t, 0, h.claude.calls)
	})
}

func TestRun_SnowflakeDateFallback(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())

	now := time.Now()
	recent := snowflakeID(now.Add(-24 * time.Hour))
	stale := snowflakeID(now.AddDate(0, 0, -20))
	noDate := func(id string) apify.Item {
		it := item(id, 900_000, now, "home workout")
		delete(it, "createTime")
		return it
	}
	h.scraper.rounds = [][]apify.Item{{noDate(recent), noDate(stale), noDate("not-a-number")}}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, 1, got.LastRunStats.AfterViewsFilter)
	assert.Equal(t, 1, got.LastRunStats.DroppedNoDate)
	assert.Equal(t, 1, got.LastRunStats.FinalResults)
}

func TestRun_PrefilterRejects(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	now := time.Now()
	h.scraper.rounds = [][]apify.Item{{
		item("clean", 900_000, now, "home workout"),
		item("dirty", 900_000, now, "home workout with GAMBLING tips"),
	}}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, 1, got.LastRunStats.AfterMetadata)
	assert.Equal(t, 1, got.LastRunStats.RejectedMetadata)
	assert.Equal(t, 1, got.LastRunStats.FinalResults)
}

func TestRun_ThreeFailuresMoveToError(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	jobID := scheduler.JobID(cfg.ID)
	_, ok := h.sched.job(jobID)
	require.True(t, ok)

	scrapeErr := errors.New("actor crashed")
	h.scraper.errs = []error{scrapeErr, scrapeErr, scrapeErr}

	for i := 1; i <= 2; i++ {
		require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
		got := h.config(t, cfg.ID)
		assert.Equal(t, model.ScanStatusActive, got.Status)
		assert.Equal(t, i, got.ConsecutiveErrors)
		assert.Equal(t, model.RunOutcomeFailed, got.LastRunStatus)
		assert.Contains(t, got.LastError, "actor crashed")
		assert.NotNil(t, got.NextRunAt)
	}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	got := h.config(t, cfg.ID)
	assert.Equal(t, model.ScanStatusError, got.Status)
	assert.Equal(t, 3, got.ConsecutiveErrors)
	assert.Empty(t, got.SchedulerJobID)
	assert.Contains(t, h.sched.cancelled, jobID)
	_, ok = h.sched.job(jobID)
	assert.False(t, ok)
}

func TestRun_SuccessResetsFailureCounter(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)

	scrapeErr := errors.New("timeout")
	h.scraper.errs = []error{scrapeErr, scrapeErr}
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	assert.Equal(t, 2, h.config(t, cfg.ID).ConsecutiveErrors)

	h.scraper.rounds = [][]apify.Item{nil, nil, fortyItems(time.Now())}
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeSuccess, got.LastRunStatus)
	assert.Equal(t, 0, got.ConsecutiveErrors)
	assert.Empty(t, got.LastError)
	assert.Equal(t, model.ScanStatusActive, got.Status)
}

func TestRun_LaterRoundFailureKeepsEarlierRounds(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	h.scraper.rounds = [][]apify.Item{fortyItems(time.Now())}
	h.scraper.errs = []error{nil, errors.New("rate limited")}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.RunOutcomeSuccess, got.LastRunStatus)
	assert.Equal(t, 1, got.LastRunStats.ScrapeRounds)
	assert.Equal(t, 3, got.LastRunStats.FinalResults)
}

func TestRun_SkipsWhenLocked(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())

	release, ok, err := h.locker.TryAcquire(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	err = h.orch.Run(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 0, h.scraper.calls())
}

func TestRun_UnknownConfig(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Run(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, h.locker.Held("missing"))
}

func TestRun_StopsScrapingAtQuota(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())

	now := time.Now()
	round := func(prefix string, n int) []apify.Item {
		var items []apify.Item
		for i := range n {
			items = append(items, item(fmt.Sprintf("%s%d", prefix, i), 900_000, now, "home workout"))
		}
		return items
	}
	// 5 max vision x 3 = 15 candidates fill the quota after two rounds.
	h.scraper.rounds = [][]apify.Item{round("a", 8), round("b", 8), round("c", 8)}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	assert.Equal(t, 2, h.scraper.calls())
	assert.Equal(t, apify.ModeSearch, h.scraper.reqs[0].Mode)
	assert.Equal(t, apify.ModeHashtag, h.scraper.reqs[1].Mode)
	assert.Equal(t, 50, h.scraper.reqs[0].Limit)
}

func snowflakeID(t time.Time) string {
	return fmt.Sprintf("%d", uint64(t.Unix())<<32|0x1234)
}

func TestRun_PauseDuringRunIsKept(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	jobID := scheduler.JobID(cfg.ID)

	h.scraper.rounds = [][]apify.Item{fortyItems(time.Now())}
	h.scraper.onCollect = func() {
		h.scraper.onCollect = nil
		_, err := h.orch.Pause(context.Background(), "u1", cfg.ID)
		require.NoError(t, err)
		_, err = h.orch.Update(context.Background(), "u1", cfg.ID, ConfigPatch{MaxVisionVideos: intPtr(3)})
		require.NoError(t, err)
	}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.ScanStatusPaused, got.Status)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 3, got.MaxVisionVideos)
	assert.Empty(t, got.SchedulerJobID)
	_, live := h.sched.job(jobID)
	assert.False(t, live)
	assert.Equal(t, model.RunOutcomeSuccess, got.LastRunStatus)
	require.NotNil(t, got.LastRunStats)
	assert.Equal(t, 3, got.LastRunStats.FinalResults)
}

func TestRun_FailuresAfterPauseDoNotMoveToError(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)

	scrapeErr := errors.New("actor crashed")
	h.scraper.errs = []error{scrapeErr, scrapeErr, scrapeErr}
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	h.scraper.onCollect = func() {
		h.scraper.onCollect = nil
		_, err := h.orch.Pause(context.Background(), "u1", cfg.ID)
		require.NoError(t, err)
	}
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.ScanStatusPaused, got.Status)
	assert.Equal(t, 3, got.ConsecutiveErrors)
	assert.Nil(t, got.NextRunAt)
}

func TestRun_NextRunStaysOnTriggerGrid(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)

	// The trigger fired seven minutes ago and the run finishes now.
	fired := time.Now().UTC().Add(-7 * time.Minute).Truncate(time.Second)
	h.setNextRun(t, cfg.ID, fired)
	h.scraper.rounds = [][]apify.Item{fortyItems(time.Now())}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, fired.Add(12*time.Hour).Equal(*got.NextRunAt), got.NextRunAt)
	assert.True(t, scheduler.NextFire(fired, 12*time.Hour, time.Now()).Equal(*got.NextRunAt))
}

func TestRun_ManualRunKeepsPendingFire(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	activated, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	pending := *activated.NextRunAt

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, pending, *got.NextRunAt, time.Second)
}

func TestRun_FailedCancelKeepsJobID(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())
	_, err := h.orch.Activate(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	jobID := scheduler.JobID(cfg.ID)

	scrapeErr := errors.New("actor crashed")
	h.scraper.errs = []error{scrapeErr, scrapeErr, scrapeErr}
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	h.sched.cancelErr = errors.New("scheduler unreachable")
	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))

	got := h.config(t, cfg.ID)
	assert.Equal(t, model.ScanStatusError, got.Status)
	assert.Equal(t, jobID, got.SchedulerJobID)
	_, live := h.sched.job(jobID)
	assert.True(t, live)

	// Pausing retries the cancel once the scheduler recovers.
	h.sched.cancelErr = nil
	paused, err := h.orch.Pause(context.Background(), "u1", cfg.ID)
	require.NoError(t, err)
	assert.Empty(t, paused.SchedulerJobID)
	_, live = h.sched.job(jobID)
	assert.False(t, live)
	assert.Empty(t, h.config(t, cfg.ID).SchedulerJobID)
}

func TestRun_StopsScrapingWhenRoundAddsNothing(t *testing.T) {
	h := newHarness(t)
	cfg := h.seed(t, defaultCredits())

	now := time.Now()
	page := []apify.Item{
		item("a", 900_000, now, "home workout"),
		item("b", 900_000, now, "home workout"),
	}
	h.scraper.rounds = [][]apify.Item{page, page, page, page, page}

	require.NoError(t, h.orch.Run(context.Background(), cfg.ID))
	assert.Equal(t, 2, h.scraper.calls())
	got := h.config(t, cfg.ID)
	assert.Equal(t, 2, got.LastRunStats.ScrapeRounds)
	assert.Equal(t, 2, got.LastRunStats.AfterViewsFilter)
}
