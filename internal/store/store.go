// Package store persists projects, users, scan configs, scan results and
// the relevance-score cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trend-curator/internal/model"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = eris.New("store: not found")

// ResultSort selects the ordering of a results listing.
type ResultSort string

const (
	SortFinalScore  ResultSort = "final_score"
	SortVisionScore ResultSort = "vision_score"
	SortFoundAt     ResultSort = "found_at"
)

// ParseResultSort maps a query value onto a ResultSort, defaulting to
// final score.
func ParseResultSort(s string) ResultSort {
	switch ResultSort(s) {
	case SortVisionScore, SortFoundAt:
		return ResultSort(s)
	default:
		return SortFinalScore
	}
}

// ConfigFilter specifies criteria for listing scan configs.
type ConfigFilter struct {
	UserID string           `json:"user_id,omitempty"`
	Status model.ScanStatus `json:"status,omitempty"`
}

// ResultFilter specifies criteria for listing scan results.
type ResultFilter struct {
	ProjectID        string     `json:"project_id,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
	Sort             ResultSort `json:"sort,omitempty"`
	IncludeDismissed bool       `json:"include_dismissed,omitempty"`
	Limit            int        `json:"limit,omitempty"`
	Offset           int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for the curation pipeline.
type Store interface {
	// Users and projects
	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	DeductCredits(ctx context.Context, userID string, amount int64) (model.CreditSplit, error)
	UpsertProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)

	// Scan configs
	CreateConfig(ctx context.Context, cfg *model.ScanConfig) error
	GetConfig(ctx context.Context, id string) (*model.ScanConfig, error)
	GetConfigByProject(ctx context.Context, projectID string) (*model.ScanConfig, error)
	UpdateConfig(ctx context.Context, cfg *model.ScanConfig) error
	// RecordRunOutcome locks the stored config, hands it to apply and writes
	// back only the run-owned columns (see outcomeArgs). Settings and status
	// changes made while the run was in flight are what apply sees.
	RecordRunOutcome(ctx context.Context, id string, apply func(cfg *model.ScanConfig)) (*model.ScanConfig, error)
	// ClearSchedulerJob blanks scheduler_job_id on an errored config if it
	// still holds jobID.
	ClearSchedulerJob(ctx context.Context, id, jobID string) error
	DeleteConfig(ctx context.Context, id string) error
	ListConfigs(ctx context.Context, filter ConfigFilter) ([]model.ScanConfig, error)

	// Scan results
	ExistingVideoIDs(ctx context.Context, configID string, videoIDs []string) (map[string]bool, error)
	InsertResults(ctx context.Context, results []model.ScanResult) (int, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.ScanResult, int, error)
	CountResults(ctx context.Context, configID string, includeDismissed bool) (int, error)
	DismissResult(ctx context.Context, userID, resultID string) error
	SaveResult(ctx context.Context, userID, resultID string) error
	ClearResults(ctx context.Context, userID, projectID string) (int, error)

	// Relevance cache
	GetRelevanceScores(ctx context.Context, projectID string, videoIDs []string, maxAge time.Duration) (map[string]model.RelevanceScore, error)
	PutRelevanceScores(ctx context.Context, scores []model.RelevanceScore) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
