package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/store"
)

// Snapshot holds a point-in-time view of scan config health.
type Snapshot struct {
	ConfigsTotal  int `json:"configs_total"`
	ConfigsActive int `json:"configs_active"`
	ConfigsPaused int `json:"configs_paused"`
	ConfigsError  int `json:"configs_error"`

	// Outcomes of each config's most recent run.
	LastRunSuccess      int `json:"last_run_success"`
	LastRunFailed       int `json:"last_run_failed"`
	LastRunInsufficient int `json:"last_run_insufficient_credits"`
	LastRunEmpty        int `json:"last_run_empty"`

	// Active configs whose next run is overdue by more than the grace period.
	Overdue    int      `json:"overdue"`
	OverdueIDs []string `json:"overdue_ids,omitempty"`
	ErrorIDs   []string `json:"error_ids,omitempty"`

	CreditsUsed int64     `json:"credits_used_last_runs"`
	CollectedAt time.Time `json:"collected_at"`
}

// ConfigLister is the store surface the collector needs.
type ConfigLister interface {
	ListConfigs(ctx context.Context, filter store.ConfigFilter) ([]model.ScanConfig, error)
}

// Collector gathers config health from the store.
type Collector struct {
	store ConfigLister
	grace time.Duration
	now   func() time.Time
}

// NewCollector creates a new collector. Active configs whose next run is
// more than grace in the past count as overdue.
func NewCollector(st ConfigLister, grace time.Duration) *Collector {
	return &Collector{store: st, grace: grace, now: time.Now}
}

// Collect builds a snapshot over the configs matching filter.
func (c *Collector) Collect(ctx context.Context, filter store.ConfigFilter) (*Snapshot, error) {
	configs, err := c.store.ListConfigs(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list configs")
	}

	now := c.now().UTC()
	snap := &Snapshot{ConfigsTotal: len(configs), CollectedAt: now}
	for i := range configs {
		cfg := &configs[i]
		switch cfg.Status {
		case model.ScanStatusActive:
			snap.ConfigsActive++
			if cfg.NextRunAt != nil && now.Sub(*cfg.NextRunAt) > c.grace {
				snap.Overdue++
				snap.OverdueIDs = append(snap.OverdueIDs, cfg.ID)
			}
		case model.ScanStatusPaused:
			snap.ConfigsPaused++
		case model.ScanStatusError:
			snap.ConfigsError++
			snap.ErrorIDs = append(snap.ErrorIDs, cfg.ID)
		}

		switch cfg.LastRunStatus {
		case model.RunOutcomeSuccess:
			snap.LastRunSuccess++
		case model.RunOutcomeFailed:
			snap.LastRunFailed++
		case model.RunOutcomeInsufficientCredits:
			snap.LastRunInsufficient++
		case model.RunOutcomeNoResults, model.RunOutcomeFilteredAll:
			snap.LastRunEmpty++
		}
		if cfg.LastRunStats != nil {
			snap.CreditsUsed += cfg.LastRunStats.CreditsUsed
		}
	}
	return snap, nil
}
