package model

import (
	"time"
)

// ScanStatus represents the lifecycle state of a scan configuration.
type ScanStatus string

const (
	ScanStatusPaused ScanStatus = "paused"
	ScanStatusActive ScanStatus = "active"
	ScanStatusError  ScanStatus = "error"
)

// RunOutcome records how the most recent curation run ended.
type RunOutcome string

const (
	RunOutcomeSuccess             RunOutcome = "success"
	RunOutcomeInsufficientCredits RunOutcome = "insufficient_credits"
	RunOutcomeNoResults           RunOutcome = "no_results"
	RunOutcomeFilteredAll         RunOutcome = "filtered_all"
	RunOutcomeFailed              RunOutcome = "failed"
)

// CountsAsFailure reports whether the outcome accumulates toward auto-pause.
// Insufficient credits and empty scrapes are steady-state outcomes.
func (o RunOutcome) CountsAsFailure() bool {
	return o == RunOutcomeFailed
}

// ScanConfig is the per (user, project) curation configuration.
type ScanConfig struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id"`
	Status    ScanStatus `json:"status"`
	Platform  string     `json:"platform"`

	// Filter thresholds.
	MinViews           int64    `json:"min_views" validate:"gte=0"`
	DateRangeDays      int      `json:"date_range_days" validate:"gte=1,lte=90"`
	TextScoreThreshold int      `json:"text_score_threshold" validate:"gte=0,lte=100"`
	MaxVisionVideos    int      `json:"max_vision_videos" validate:"gte=1,lte=10"`
	CustomKeywords     []string `json:"custom_keywords"`

	// Schedule.
	ScanIntervalHours int        `json:"scan_interval_hours" validate:"gte=8,lte=168"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus     RunOutcome `json:"last_run_status,omitempty"`
	LastRunStats      *RunStats  `json:"last_run_stats,omitempty"`

	// Failure containment.
	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastError         string `json:"last_error,omitempty"`

	SchedulerJobID string    `json:"scheduler_job_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Interval returns the configured scan interval as a duration.
func (c *ScanConfig) Interval() time.Duration {
	return time.Duration(c.ScanIntervalHours) * time.Hour
}

// RunStats holds structured per-run statistics for observability.
type RunStats struct {
	BatchID          string   `json:"batch_id"`
	Keywords         []string `json:"keywords,omitempty"`
	ScrapeRounds     int      `json:"scrape_rounds"`
	Scraped          int      `json:"scraped"`
	AfterViewsFilter int      `json:"after_views_filter"`
	DroppedNoDate    int      `json:"dropped_no_date"`
	DroppedExisting  int      `json:"dropped_existing"`
	AfterMetadata    int      `json:"after_metadata"`
	RejectedMetadata int      `json:"rejected_metadata"`
	RelevanceCached  int      `json:"relevance_cached"`
	RelevanceBatches int      `json:"relevance_batches"`
	AfterAIText      int      `json:"after_ai_text"`
	VisionCalls      int      `json:"vision_calls"`
	VisionAnalyzed   int      `json:"vision_analyzed"`
	VisionFailed     int      `json:"vision_failed"`
	FinalResults     int      `json:"final_results"`

	CreditsUsed      int64       `json:"credits_used"`
	CreditsDeducted  CreditSplit `json:"credits_deducted"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
	DurationSeconds  float64     `json:"duration_seconds"`
}

// CreditSplit records how many credits were taken from each bucket.
type CreditSplit struct {
	Bonus    int64 `json:"bonus"`
	Rollover int64 `json:"rollover"`
	Main     int64 `json:"main"`
}

// Total returns the sum of all deducted credits.
func (s CreditSplit) Total() int64 {
	return s.Bonus + s.Rollover + s.Main
}
