package curation

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/filter"
	"github.com/sells-group/trend-curator/internal/lock"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/scheduler"
	"github.com/sells-group/trend-curator/internal/store"
	"github.com/sells-group/trend-curator/pkg/anthropic"
	"github.com/sells-group/trend-curator/pkg/apify"
	"github.com/sells-group/trend-curator/pkg/gemini"
)

// fakeScraper returns rounds[i] for the i-th Collect call. onCollect runs
// before each call returns, standing in for edits made mid-run.
type fakeScraper struct {
	mu        sync.Mutex
	rounds    [][]apify.Item
	errs      []error
	reqs      []apify.CollectRequest
	onCollect func()
}

func (f *fakeScraper) Collect(_ context.Context, req apify.CollectRequest) ([]apify.Item, error) {
	if f.onCollect != nil {
		f.onCollect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.rounds) {
		return f.rounds[i], nil
	}
	return nil, nil
}

func (f *fakeScraper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

var promptLine = regexp.MustCompile(`(?m)^(\d+)\. "([^"]*)"`)
var scoreTag = regexp.MustCompile(`score=(\d+)`)

// fakeClaude scores each prompt line by the score=NN tag in its
// description, defaulting to 90. malformed makes every reply unparseable.
type fakeClaude struct {
	mu        sync.Mutex
	calls     int
	malformed bool
}

func (f *fakeClaude) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls++
	malformed := f.malformed
	f.mu.Unlock()

	text := "I cannot score these videos."
	if !malformed {
		var items []string
		for _, m := range promptLine.FindAllStringSubmatch(req.Messages[0].Content, -1) {
			score := 90
			if s := scoreTag.FindStringSubmatch(m[2]); s != nil {
				score, _ = strconv.Atoi(s[1])
			}
			items = append(items, fmt.Sprintf(`{"id": %s, "score": %d, "reason": "fits"}`, m[1], score))
		}
		text = "[" + strings.Join(items, ",") + "]"
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 50},
	}, nil
}

// fakeGemini answers every analysis with a fixed score; failURLs fail.
type fakeGemini struct {
	mu       sync.Mutex
	calls    int
	score    int
	failURLs map[string]bool
}

func (f *fakeGemini) AnalyzeVideo(_ context.Context, req gemini.AnalyzeRequest) (*gemini.Analysis, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failURLs[req.VideoURL] {
		return nil, fmt.Errorf("video unavailable")
	}
	return &gemini.Analysis{
		Text:  fmt.Sprintf("SCORE: %d\nMATCH: yes\nREASON: strong hook", f.score),
		Usage: gemini.Usage{InputTokens: 1000, OutputTokens: 100},
	}, nil
}

// fakeScheduler records scheduled and cancelled jobs. err fails Schedule
// and cancelErr fails Cancel.
type fakeScheduler struct {
	mu        sync.Mutex
	jobs      map[string]scheduler.Job
	cancelled []string
	err       error
	cancelErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]scheduler.Job)}
}

func (f *fakeScheduler) Schedule(_ context.Context, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.jobs, jobID)
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeScheduler) Start(context.Context) error { return nil }
func (f *fakeScheduler) Stop(context.Context) error  { return nil }

func (f *fakeScheduler) job(id string) (scheduler.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return j, ok
}

type harness struct {
	store   store.Store
	scraper *fakeScraper
	claude  *fakeClaude
	gemini  *fakeGemini
	sched   *fakeScheduler
	locker  *lock.LocalLocker
	orch    *Orchestrator
}

func testCurationConfig() config.CurationConfig {
	return config.CurationConfig{
		MinCredits:           20,
		ScrapeRounds:         5,
		PerRoundLimit:        50,
		QuotaMultiplier:      3,
		RelevanceBatchSize:   8,
		CacheTTLHours:        24,
		BaseCost:             2,
		BatchCost:            2,
		VisionCost:           5,
		MaxConsecutiveErrors: 3,
		RunTimeoutMins:       1,
		FirstRunDelaySecs:    60,
		RestoreDelaySecs:     300,
		ErrorMessageCap:      500,
		MaxConcurrentRuns:    2,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "curation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))

	h := &harness{
		store:   s,
		scraper: &fakeScraper{},
		claude:  &fakeClaude{},
		gemini:  &fakeGemini{score: 80},
		sched:   newFakeScheduler(),
		locker:  lock.NewLocal(),
	}
	h.orch = New(testCurationConfig(), Deps{
		Store:          s,
		Scraper:        h.scraper,
		Relevance:      filter.NewRelevanceScorer(h.claude, s, nil, filter.RelevanceConfig{Model: "claude-haiku-4-5-20251001"}),
		Vision:         filter.NewVisionAnalyzer(h.gemini, nil, "tiktok", 2),
		Scheduler:      h.sched,
		Locker:         h.locker,
		RelevanceModel: "claude-haiku-4-5-20251001",
		VisionModel:    "gemini-2.5-flash",
	})
	return h
}

// seed creates a user with the given credits, a fitness project and a
// config with the standard thresholds.
func (h *harness) seed(t *testing.T, credits model.CreditPool) *model.ScanConfig {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.UpsertUser(ctx, &model.User{ID: "u1", Email: "u1@example.com", Credits: credits}))
	require.NoError(t, h.store.UpsertProject(ctx, &model.Project{
		ID: "p1", UserID: "u1", Name: "Fitness",
		Profile: model.ProjectProfile{
			Niche:    "fitness",
			Keywords: []string{"home workout"},
			Exclude:  []string{"gambling"},
		},
	}))
	cfg, err := h.orch.Create(ctx, "u1", "p1", ConfigPatch{})
	require.NoError(t, err)
	return cfg
}

func (h *harness) config(t *testing.T, id string) *model.ScanConfig {
	t.Helper()
	cfg, err := h.store.GetConfig(context.Background(), id)
	require.NoError(t, err)
	return cfg
}

// setNextRun stores at as the config's next run, as a trigger fire would
// have left it.
func (h *harness) setNextRun(t *testing.T, id string, at time.Time) {
	t.Helper()
	cfg := h.config(t, id)
	cfg.NextRunAt = &at
	require.NoError(t, h.store.UpdateConfig(context.Background(), cfg))
}

func defaultCredits() model.CreditPool {
	return model.CreditPool{Bonus: 10, Rollover: 5, Main: 100}
}

// item builds a raw scraped record.
func item(id string, views int64, created time.Time, desc string) apify.Item {
	return apify.Item{
		"id":          id,
		"text":        desc,
		"webVideoUrl": "https://www.tiktok.com/@coach/video/" + id,
		"playCount":   views,
		"diggCount":   int64(1000),
		"createTime":  created.Unix(),
		"authorMeta":  map[string]any{"name": "coach", "fans": int64(5000)},
		"musicMeta":   map[string]any{"musicId": "m1"},
	}
}

func intPtr(v int) *int { return &v }
