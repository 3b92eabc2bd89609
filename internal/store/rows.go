package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trend-curator/internal/model"
)

const configColumns = `id, user_id, project_id, status, platform, min_views, date_range_days,
	text_score_threshold, max_vision_videos, custom_keywords, scan_interval_hours,
	next_run_at, last_run_at, last_run_status, last_run_stats, consecutive_errors,
	last_error, scheduler_job_id, created_at, updated_at`

const resultColumns = `id, config_id, user_id, project_id, video_id, video_url, cover_url,
	play_addr, description, author, stats, viral_score, text_score, text_reason,
	vision_score, vision_analysis, vision_reason, final_score, batch_id, dismissed,
	saved, found_at`

// resultInsertColumns is resultColumns as a slice, for bulk inserts.
var resultInsertColumns = []string{
	"id", "config_id", "user_id", "project_id", "video_id", "video_url", "cover_url",
	"play_addr", "description", "author", "stats", "viral_score", "text_score", "text_reason",
	"vision_score", "vision_analysis", "vision_reason", "final_score", "batch_id", "dismissed",
	"saved", "found_at",
}

type scannable interface {
	Scan(dest ...any) error
}

// configArgs returns the column values of cfg in configColumns order.
func configArgs(cfg *model.ScanConfig) ([]any, error) {
	keywords, err := json.Marshal(nonNilStrings(cfg.CustomKeywords))
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal custom keywords")
	}
	var stats *string
	if cfg.LastRunStats != nil {
		b, err := json.Marshal(cfg.LastRunStats)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal run stats")
		}
		s := string(b)
		stats = &s
	}
	return []any{
		cfg.ID, cfg.UserID, cfg.ProjectID, string(cfg.Status), cfg.Platform,
		cfg.MinViews, cfg.DateRangeDays, cfg.TextScoreThreshold, cfg.MaxVisionVideos,
		string(keywords), cfg.ScanIntervalHours, utcPtr(cfg.NextRunAt), utcPtr(cfg.LastRunAt),
		string(cfg.LastRunStatus), stats, cfg.ConsecutiveErrors, cfg.LastError,
		cfg.SchedulerJobID, cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC(),
	}, nil
}

// configUpdateArgs returns the id followed by every mutable column, in the
// order used by the UPDATE statements.
func configUpdateArgs(cfg *model.ScanConfig) ([]any, error) {
	all, err := configArgs(cfg)
	if err != nil {
		return nil, err
	}
	// Drop user_id, project_id and created_at, which never change.
	args := []any{all[0]}
	args = append(args, all[3:18]...)
	args = append(args, all[19])
	return args, nil
}

// outcomeArgs returns the columns a finished run owns: status, next_run_at,
// last_run_at, last_run_status, last_run_stats, consecutive_errors,
// last_error and updated_at.
func outcomeArgs(cfg *model.ScanConfig) ([]any, error) {
	all, err := configArgs(cfg)
	if err != nil {
		return nil, err
	}
	args := []any{all[3]}
	args = append(args, all[11:17]...)
	args = append(args, all[19])
	return args, nil
}

func marshalProfile(p *model.Project) (string, error) {
	b, err := json.Marshal(p.Profile)
	if err != nil {
		return "", eris.Wrapf(err, "store: marshal profile for project %s", p.ID)
	}
	return string(b), nil
}

func scanConfig(row scannable) (*model.ScanConfig, error) {
	var (
		c        model.ScanConfig
		status   string
		keywords string
		outcome  string
		stats    *string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.ProjectID, &status, &c.Platform, &c.MinViews, &c.DateRangeDays,
		&c.TextScoreThreshold, &c.MaxVisionVideos, &keywords, &c.ScanIntervalHours,
		&c.NextRunAt, &c.LastRunAt, &outcome, &stats, &c.ConsecutiveErrors,
		&c.LastError, &c.SchedulerJobID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.ScanStatus(status)
	c.LastRunStatus = model.RunOutcome(outcome)
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &c.CustomKeywords); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal custom keywords")
		}
	}
	if stats != nil && *stats != "" {
		c.LastRunStats = &model.RunStats{}
		if err := json.Unmarshal([]byte(*stats), c.LastRunStats); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run stats")
		}
	}
	return &c, nil
}

// resultRow returns the column values of r in resultColumns order.
func resultRow(r *model.ScanResult) ([]any, error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal video stats")
	}
	return []any{
		r.ID, r.ConfigID, r.UserID, r.ProjectID, r.VideoID, r.VideoURL, r.CoverURL,
		r.PlayAddr, r.Description, r.Author, string(stats), r.ViralScore, r.TextScore, r.TextReason,
		r.VisionScore, r.VisionAnalysis, r.VisionReason, r.FinalScore, r.BatchID, r.Dismissed,
		r.Saved, r.FoundAt.UTC(),
	}, nil
}

func scanResult(row scannable) (*model.ScanResult, error) {
	var (
		r     model.ScanResult
		stats string
	)
	err := row.Scan(
		&r.ID, &r.ConfigID, &r.UserID, &r.ProjectID, &r.VideoID, &r.VideoURL, &r.CoverURL,
		&r.PlayAddr, &r.Description, &r.Author, &stats, &r.ViralScore, &r.TextScore, &r.TextReason,
		&r.VisionScore, &r.VisionAnalysis, &r.VisionReason, &r.FinalScore, &r.BatchID, &r.Dismissed,
		&r.Saved, &r.FoundAt,
	)
	if err != nil {
		return nil, err
	}
	if stats != "" {
		if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal video stats")
		}
	}
	return &r, nil
}

func scanProject(row scannable) (*model.Project, error) {
	var (
		p       model.Project
		profile string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &profile, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(profile), &p.Profile); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal project profile")
	}
	return &p, nil
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Credits.Bonus, &u.Credits.Rollover, &u.Credits.Main); err != nil {
		return nil, err
	}
	return &u, nil
}

func resultOrder(sort ResultSort) string {
	switch sort {
	case SortVisionScore:
		return ` ORDER BY vision_score IS NULL, vision_score DESC, final_score DESC, id`
	case SortFoundAt:
		return ` ORDER BY found_at DESC, id`
	default:
		return ` ORDER BY final_score DESC, id`
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
