package curation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/scheduler"
	"github.com/sells-group/trend-curator/internal/store"
)

// Defaults for a newly created config.
const (
	DefaultPlatform           = "tiktok"
	DefaultMinViews           = 500000
	DefaultDateRangeDays      = 7
	DefaultScanIntervalHours  = 12
	DefaultMaxVisionVideos    = 5
	DefaultTextScoreThreshold = 70
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConfigPatch carries the user-editable config fields. Nil fields keep
// their current (or default) value.
type ConfigPatch struct {
	MinViews           *int64   `json:"min_views,omitempty"`
	DateRangeDays      *int     `json:"date_range_days,omitempty"`
	TextScoreThreshold *int     `json:"text_score_threshold,omitempty"`
	MaxVisionVideos    *int     `json:"max_vision_videos,omitempty"`
	ScanIntervalHours  *int     `json:"scan_interval_hours,omitempty"`
	CustomKeywords     []string `json:"custom_keywords,omitempty"`
	Platform           *string  `json:"platform,omitempty"`
}

func (p ConfigPatch) apply(cfg *model.ScanConfig) {
	if p.MinViews != nil {
		cfg.MinViews = *p.MinViews
	}
	if p.DateRangeDays != nil {
		cfg.DateRangeDays = *p.DateRangeDays
	}
	if p.TextScoreThreshold != nil {
		cfg.TextScoreThreshold = *p.TextScoreThreshold
	}
	if p.MaxVisionVideos != nil {
		cfg.MaxVisionVideos = *p.MaxVisionVideos
	}
	if p.ScanIntervalHours != nil {
		cfg.ScanIntervalHours = *p.ScanIntervalHours
	}
	if p.CustomKeywords != nil {
		cfg.CustomKeywords = cleanTerms(p.CustomKeywords)
	}
	if p.Platform != nil && strings.TrimSpace(*p.Platform) != "" {
		cfg.Platform = strings.ToLower(strings.TrimSpace(*p.Platform))
	}
}

// ValidateConfig checks the bounds on a config's editable fields.
func ValidateConfig(cfg *model.ScanConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
			}
			return eris.Wrap(ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return eris.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Get returns a config, checking it belongs to userID. An empty userID
// skips the ownership check.
func (o *Orchestrator) Get(ctx context.Context, userID, configID string) (*model.ScanConfig, error) {
	cfg, err := o.deps.Store.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if userID != "" && cfg.UserID != userID {
		return nil, ErrForbidden
	}
	return cfg, nil
}

// GetByProject returns the config of a project owned by userID.
func (o *Orchestrator) GetByProject(ctx context.Context, userID, projectID string) (*model.ScanConfig, error) {
	cfg, err := o.deps.Store.GetConfigByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if userID != "" && cfg.UserID != userID {
		return nil, ErrForbidden
	}
	return cfg, nil
}

// Create makes a paused config for a project. A project has at most one.
func (o *Orchestrator) Create(ctx context.Context, userID, projectID string, patch ConfigPatch) (*model.ScanConfig, error) {
	project, err := o.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = project.UserID
	}
	if project.UserID != userID {
		return nil, ErrForbidden
	}

	_, err = o.deps.Store.GetConfigByProject(ctx, projectID)
	switch {
	case err == nil:
		return nil, ErrConfigExists
	case !errors.Is(err, store.ErrNotFound):
		return nil, eris.Wrapf(err, "curation: check existing config for project %s", projectID)
	}

	cfg := &model.ScanConfig{
		UserID:             userID,
		ProjectID:          projectID,
		Status:             model.ScanStatusPaused,
		Platform:           DefaultPlatform,
		MinViews:           DefaultMinViews,
		DateRangeDays:      DefaultDateRangeDays,
		TextScoreThreshold: DefaultTextScoreThreshold,
		MaxVisionVideos:    DefaultMaxVisionVideos,
		ScanIntervalHours:  DefaultScanIntervalHours,
	}
	patch.apply(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := o.deps.Store.CreateConfig(ctx, cfg); err != nil {
		return nil, eris.Wrap(err, "curation: create config")
	}

	zap.L().Info("curation: config created",
		zap.String("config_id", cfg.ID),
		zap.String("project_id", projectID),
	)
	return cfg, nil
}

// Update applies patch. Changing the interval of an active config
// reschedules it one interval from now.
func (o *Orchestrator) Update(ctx context.Context, userID, configID string, patch ConfigPatch) (*model.ScanConfig, error) {
	cfg, err := o.Get(ctx, userID, configID)
	if err != nil {
		return nil, err
	}
	prevInterval := cfg.ScanIntervalHours
	patch.apply(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Status == model.ScanStatusActive && cfg.ScanIntervalHours != prevInterval {
		next := o.now().UTC().Add(cfg.Interval())
		if err := o.schedule(ctx, cfg, next); err != nil {
			return nil, err
		}
	}

	if err := o.deps.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, eris.Wrap(err, "curation: update config")
	}
	return cfg, nil
}

// Activate schedules the config, first firing after the first-run delay,
// and clears its failure counters. Activating an active config is a no-op.
func (o *Orchestrator) Activate(ctx context.Context, userID, configID string) (*model.ScanConfig, error) {
	cfg, err := o.Get(ctx, userID, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status == model.ScanStatusActive {
		return cfg, nil
	}

	next := o.now().UTC().Add(time.Duration(o.cfg.FirstRunDelaySecs) * time.Second)
	if err := o.schedule(ctx, cfg, next); err != nil {
		return nil, err
	}
	cfg.Status = model.ScanStatusActive
	cfg.ConsecutiveErrors = 0
	cfg.LastError = ""

	if err := o.deps.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, eris.Wrap(err, "curation: activate config")
	}
	zap.L().Info("curation: config activated",
		zap.String("config_id", cfg.ID),
		zap.Time("next_run_at", next),
	)
	return cfg, nil
}

// Pause cancels the config's trigger and clears its next run.
func (o *Orchestrator) Pause(ctx context.Context, userID, configID string) (*model.ScanConfig, error) {
	cfg, err := o.Get(ctx, userID, configID)
	if err != nil {
		return nil, err
	}
	if err := o.unschedule(ctx, cfg); err != nil {
		return nil, err
	}
	cfg.Status = model.ScanStatusPaused
	cfg.NextRunAt = nil

	if err := o.deps.Store.UpdateConfig(ctx, cfg); err != nil {
		return nil, eris.Wrap(err, "curation: pause config")
	}
	zap.L().Info("curation: config paused", zap.String("config_id", cfg.ID))
	return cfg, nil
}

// Delete cancels the config's trigger and removes it with its results.
func (o *Orchestrator) Delete(ctx context.Context, userID, configID string) error {
	cfg, err := o.Get(ctx, userID, configID)
	if err != nil {
		return err
	}
	if err := o.unschedule(ctx, cfg); err != nil {
		return err
	}
	if err := o.deps.Store.DeleteConfig(ctx, cfg.ID); err != nil {
		return eris.Wrap(err, "curation: delete config")
	}
	zap.L().Info("curation: config deleted", zap.String("config_id", cfg.ID))
	return nil
}

// Restore re-registers the trigger of every active config, typically on
// daemon start. Configs whose next run is missing or past fire after the
// restore delay. It returns how many configs were scheduled.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	configs, err := o.deps.Store.ListConfigs(ctx, store.ConfigFilter{Status: model.ScanStatusActive})
	if err != nil {
		return 0, eris.Wrap(err, "curation: list active configs")
	}

	now := o.now().UTC()
	restored := 0
	for i := range configs {
		cfg := &configs[i]
		next := now.Add(time.Duration(o.cfg.RestoreDelaySecs) * time.Second)
		if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
			next = *cfg.NextRunAt
		}
		if err := o.schedule(ctx, cfg, next); err != nil {
			zap.L().Error("curation: restore schedule", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		if err := o.deps.Store.UpdateConfig(ctx, cfg); err != nil {
			zap.L().Error("curation: restore update config", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		restored++
	}

	zap.L().Info("curation: restored active schedules",
		zap.Int("active", len(configs)),
		zap.Int("restored", restored),
	)
	return restored, nil
}

// schedule registers the config's trigger and records it on cfg.
func (o *Orchestrator) schedule(ctx context.Context, cfg *model.ScanConfig, next time.Time) error {
	job := scheduler.Job{
		ID:        scheduler.JobID(cfg.ID),
		ConfigID:  cfg.ID,
		Interval:  cfg.Interval(),
		NextRunAt: next,
	}
	if err := o.deps.Scheduler.Schedule(ctx, job); err != nil {
		return eris.Wrapf(err, "curation: schedule config %s", cfg.ID)
	}
	cfg.SchedulerJobID = job.ID
	cfg.NextRunAt = &next
	return nil
}

func (o *Orchestrator) unschedule(ctx context.Context, cfg *model.ScanConfig) error {
	if cfg.SchedulerJobID == "" && cfg.Status != model.ScanStatusActive {
		return nil
	}
	jobID := cfg.SchedulerJobID
	if jobID == "" {
		jobID = scheduler.JobID(cfg.ID)
	}
	if err := o.deps.Scheduler.Cancel(ctx, jobID); err != nil {
		return eris.Wrapf(err, "curation: cancel trigger for config %s", cfg.ID)
	}
	cfg.SchedulerJobID = ""
	return nil
}
