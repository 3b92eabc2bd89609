// Package curation runs the periodic curation pipeline for scan configs and
// manages their lifecycle.
package curation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/cost"
	"github.com/sells-group/trend-curator/internal/filter"
	"github.com/sells-group/trend-curator/internal/lock"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/monitoring"
	"github.com/sells-group/trend-curator/internal/scheduler"
	"github.com/sells-group/trend-curator/internal/store"
	"github.com/sells-group/trend-curator/pkg/apify"
)

// Relevance is the batched text relevance stage.
type Relevance interface {
	Score(ctx context.Context, projectID string, profile model.ProjectProfile, videos []model.VideoCandidate) ([]model.VideoCandidate, filter.RelevanceReport, error)
}

// Vision is the deep content analysis stage.
type Vision interface {
	Analyze(ctx context.Context, profile model.ProjectProfile, videos []model.VideoCandidate) ([]model.VideoCandidate, filter.VisionReport)
}

// Deps are the collaborators an Orchestrator drives. Alerter and Metrics
// may be nil.
type Deps struct {
	Store     store.Store
	Scraper   apify.Client
	Relevance Relevance
	Vision    Vision
	Scheduler scheduler.Scheduler
	Locker    lock.Locker
	Costs     *cost.Calculator
	Alerter   *monitoring.Alerter
	Metrics   *monitoring.Metrics

	// Models name the provider models for USD cost estimates.
	RelevanceModel string
	VisionModel    string
}

// Orchestrator executes curation runs and owns the config state machine.
type Orchestrator struct {
	cfg     config.CurationConfig
	credits cost.CreditRates
	deps    Deps
	sem     *semaphore.Weighted
	now     func() time.Time

	// async tracks runs started by TriggerAsync.
	async sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg config.CurationConfig, deps Deps) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Costs == nil {
		deps.Costs = cost.NewCalculator(cost.DefaultRates())
	}
	cfg = withDefaults(cfg)
	return &Orchestrator{
		cfg: cfg,
		credits: cost.CreditRates{
			Base:      cfg.BaseCost,
			PerBatch:  cfg.BatchCost,
			PerVision: cfg.VisionCost,
		},
		deps: deps,
		sem:  semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		now:  time.Now,
	}
}

// withDefaults fills zero-valued tunables with the standard values.
func withDefaults(c config.CurationConfig) config.CurationConfig {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&c.ScrapeRounds, 5)
	setInt(&c.PerRoundLimit, 50)
	setInt(&c.QuotaMultiplier, 3)
	setInt(&c.MaxConsecutiveErrors, 3)
	setInt(&c.ErrorMessageCap, 500)
	setInt(&c.FirstRunDelaySecs, 60)
	setInt(&c.RestoreDelaySecs, 300)
	if c.MinCredits < 0 {
		c.MinCredits = 0
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 4
	}
	return c
}

// runState carries one run through the pipeline.
type runState struct {
	config  *model.ScanConfig
	project *model.Project
	user    *model.User
	batchID string
	stats   model.RunStats
	log     *zap.Logger
}

// Run executes one curation run for configID. It returns ErrRunInProgress
// without doing anything when another run for the same config holds the
// lock. Pipeline failures are recorded on the config rather than returned;
// the returned error covers only lock and lookup problems.
func (o *Orchestrator) Run(ctx context.Context, configID string) error {
	release, err := o.acquire(ctx, configID)
	if err != nil {
		return err
	}
	defer release()
	return o.runLocked(ctx, configID)
}

func (o *Orchestrator) acquire(ctx context.Context, configID string) (lock.Release, error) {
	release, ok, err := o.deps.Locker.TryAcquire(ctx, configID)
	if err != nil {
		return nil, eris.Wrapf(err, "curation: acquire lock for config %s", configID)
	}
	if !ok {
		o.deps.Metrics.RunSkipped()
		zap.L().Info("curation: run already in progress, skipping", zap.String("config_id", configID))
		return nil, ErrRunInProgress
	}
	return release, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, configID string) error {
	defer o.deps.Metrics.RunStarted()()

	if d := o.cfg.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rs, err := o.load(ctx, configID)
	if err != nil {
		return err
	}

	start := o.now()
	rs.log.Info("curation: run starting", zap.String("batch_id", rs.batchID))

	outcome, runErr := o.execute(ctx, rs)

	elapsed := o.now().Sub(start)
	rs.stats.DurationSeconds = elapsed.Seconds()
	o.deps.Metrics.ObserveRun(outcome, &rs.stats, elapsed)

	// Bookkeeping must land even when the run deadline expired.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return o.finish(finishCtx, rs, outcome, runErr)
}

func (o *Orchestrator) load(ctx context.Context, configID string) (*runState, error) {
	cfg, err := o.deps.Store.GetConfig(ctx, configID)
	if err != nil {
		return nil, eris.Wrapf(err, "curation: load config %s", configID)
	}
	project, err := o.deps.Store.GetProject(ctx, cfg.ProjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "curation: load project %s", cfg.ProjectID)
	}
	user, err := o.deps.Store.GetUser(ctx, cfg.UserID)
	if err != nil {
		return nil, eris.Wrapf(err, "curation: load user %s", cfg.UserID)
	}
	return &runState{
		config:  cfg,
		project: project,
		user:    user,
		batchID: fmt.Sprintf("sv_%s_%d", cfg.ID, o.now().Unix()),
		stats:   model.RunStats{},
		log: zap.L().With(
			zap.String("config_id", cfg.ID),
			zap.String("project_id", project.ID),
		),
	}, nil
}

// execute runs steps 1-9 and converts a panic into a run failure.
func (o *Orchestrator) execute(ctx context.Context, rs *runState) (outcome model.RunOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.RunOutcomeFailed
			err = eris.Errorf("curation: panic: %v", r)
		}
	}()

	outcome, err = o.pipeline(ctx, rs)
	if err != nil {
		return model.RunOutcomeFailed, err
	}
	return outcome, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, rs *runState) (model.RunOutcome, error) {
	rs.stats.BatchID = rs.batchID

	// 1. Pre-flight credit check.
	if available := rs.user.Credits.Total(); available < o.cfg.MinCredits {
		rs.log.Warn("curation: insufficient credits",
			zap.Int64("available", available),
			zap.Int64("required", o.cfg.MinCredits),
		)
		return model.RunOutcomeInsufficientCredits, nil
	}

	// 2. Keywords.
	profile := rs.project.Profile
	keywords := Keywords(rs.config, profile)
	rs.stats.Keywords = keywords

	// 3. Scrape rounds with views, date and history filters.
	candidates, err := o.scrape(ctx, rs, keywords)
	if err != nil {
		return "", err
	}

	// 4. Nothing to score.
	if rs.stats.Scraped == 0 {
		return model.RunOutcomeNoResults, nil
	}
	if len(candidates) == 0 {
		return model.RunOutcomeFilteredAll, nil
	}

	// 5. Filter chain.
	passed, rejected := filter.NewPrefilter(profile).Apply(candidates)
	rs.stats.AfterMetadata = len(passed)
	rs.stats.RejectedMetadata = len(rejected)

	scored, relReport, err := o.deps.Relevance.Score(ctx, rs.project.ID, profile, passed)
	if err != nil {
		return "", eris.Wrap(err, "curation: relevance stage")
	}
	rs.stats.RelevanceCached = relReport.Cached
	rs.stats.RelevanceBatches = relReport.Batches

	survivors := filter.AboveThreshold(scored, rs.config.TextScoreThreshold)
	rs.stats.AfterAIText = len(survivors)

	lead := min(rs.config.MaxVisionVideos, len(survivors))
	var visReport filter.VisionReport
	if lead > 0 {
		var analyzed []model.VideoCandidate
		analyzed, visReport = o.deps.Vision.Analyze(ctx, profile, survivors[:lead])
		copy(survivors, analyzed)
	}
	rs.stats.VisionCalls = visReport.Calls
	rs.stats.VisionAnalyzed = visReport.Analyzed
	rs.stats.VisionFailed = visReport.Failed

	// 6-7. Blend, rank, cap.
	cascade := cascadeFor(candidates)
	ranked := Rank(survivors, cascade, rs.config.MaxVisionVideos)

	// 8. Persist.
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "curation: before persist")
	}
	inserted, err := o.deps.Store.InsertResults(ctx, toResults(rs, ranked, o.now().UTC()))
	if err != nil {
		return "", eris.Wrap(err, "curation: store results")
	}
	rs.stats.FinalResults = inserted

	// 9. Charge for work performed.
	charge := cost.RunCost(cost.Work{Batches: relReport.Batches, VisionCalls: visReport.Calls}, o.credits)
	split, err := o.deps.Store.DeductCredits(ctx, rs.user.ID, charge)
	if err != nil {
		return "", eris.Wrap(err, "curation: deduct credits")
	}
	rs.stats.CreditsUsed = charge
	rs.stats.CreditsDeducted = split
	rs.stats.EstimatedCostUSD = o.estimateUSD(rs.stats.Scraped, relReport, visReport)

	return model.RunOutcomeSuccess, nil
}

func (o *Orchestrator) estimateUSD(scraped int, rel filter.RelevanceReport, vis filter.VisionReport) float64 {
	calc := o.deps.Costs
	return calc.Apify(scraped) +
		calc.Claude(o.deps.RelevanceModel, false,
			int(rel.Usage.InputTokens), int(rel.Usage.OutputTokens),
			int(rel.Usage.CacheCreationInputTokens), int(rel.Usage.CacheReadInputTokens)) +
		calc.Gemini(o.deps.VisionModel, vis.InputTokens, vis.OutputTokens)
}

// finish applies step 10. The outcome is recorded against the stored row,
// so a pause or settings edit made while the run was in flight survives.
func (o *Orchestrator) finish(ctx context.Context, rs *runState, outcome model.RunOutcome, runErr error) error {
	now := o.now().UTC()
	stats := rs.stats

	autoPaused := false
	cfg, err := o.deps.Store.RecordRunOutcome(ctx, rs.config.ID, func(cfg *model.ScanConfig) {
		autoPaused = o.applyOutcome(cfg, now, outcome, runErr, &stats)
	})
	if err != nil {
		return eris.Wrapf(err, "curation: record outcome for config %s", rs.config.ID)
	}
	rs.config = cfg

	if outcome.CountsAsFailure() {
		rs.log.Error("curation: run failed",
			zap.Int("consecutive_errors", cfg.ConsecutiveErrors),
			zap.Error(runErr),
		)
	}

	if autoPaused {
		o.cancelTrigger(ctx, rs, cfg)
		o.deps.Metrics.ConfigAutoPaused()
		o.deps.Alerter.SendAlerts(ctx, []monitoring.Alert{monitoring.AutoPaused(cfg)})
		rs.log.Warn("curation: config auto-paused", zap.Int("consecutive_errors", cfg.ConsecutiveErrors))
	}

	rs.log.Info("curation: run complete",
		zap.String("outcome", string(outcome)),
		zap.Int("scraped", stats.Scraped),
		zap.Int("results", stats.FinalResults),
		zap.Int64("credits", stats.CreditsUsed),
		zap.Float64("duration_s", stats.DurationSeconds),
	)
	return nil
}

// applyOutcome writes a finished run onto the freshly loaded cfg and
// reports whether it moved the config to error. Only active configs get a
// next run, placed on the trigger's grid.
func (o *Orchestrator) applyOutcome(cfg *model.ScanConfig, now time.Time, outcome model.RunOutcome, runErr error, stats *model.RunStats) bool {
	cfg.LastRunAt = &now
	cfg.LastRunStatus = outcome
	cfg.LastRunStats = stats

	if cfg.Status == model.ScanStatusActive {
		next := now.Add(cfg.Interval())
		if cfg.NextRunAt != nil {
			next = scheduler.NextFire(*cfg.NextRunAt, cfg.Interval(), now)
		}
		cfg.NextRunAt = &next
	}

	switch {
	case outcome.CountsAsFailure():
		cfg.ConsecutiveErrors++
		if runErr != nil {
			cfg.LastError = truncateError(runErr, o.cfg.ErrorMessageCap)
		}
		if cfg.ConsecutiveErrors >= o.cfg.MaxConsecutiveErrors && cfg.Status == model.ScanStatusActive {
			cfg.Status = model.ScanStatusError
			cfg.NextRunAt = nil
			return true
		}
	case outcome == model.RunOutcomeSuccess:
		cfg.ConsecutiveErrors = 0
		cfg.LastError = ""
	}
	return false
}

// cancelTrigger removes the trigger of an auto-paused config. The stored job
// id is only cleared once the scheduler confirms, so a later pause or delete
// retries the cancel.
func (o *Orchestrator) cancelTrigger(ctx context.Context, rs *runState, cfg *model.ScanConfig) {
	jobID := cfg.SchedulerJobID
	if jobID == "" {
		jobID = scheduler.JobID(cfg.ID)
	}
	if err := o.deps.Scheduler.Cancel(ctx, jobID); err != nil {
		rs.log.Error("curation: cancel trigger after auto-pause, keeping job id",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}
	if cfg.SchedulerJobID == "" {
		return
	}
	if err := o.deps.Store.ClearSchedulerJob(ctx, cfg.ID, cfg.SchedulerJobID); err != nil {
		rs.log.Warn("curation: clear job id after auto-pause", zap.Error(err))
		return
	}
	cfg.SchedulerJobID = ""
}
