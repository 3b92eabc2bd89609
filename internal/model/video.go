package model

import (
	"time"
)

// VideoStats is the engagement snapshot of a short-form video.
type VideoStats struct {
	Views     int64 `json:"playCount"`
	Likes     int64 `json:"diggCount"`
	Comments  int64 `json:"commentCount"`
	Shares    int64 `json:"shareCount"`
	Bookmarks int64 `json:"collectCount"`
}

// Author describes the channel that published a video.
type Author struct {
	ID        string `json:"id"`
	Username  string `json:"uniqueId"`
	Nickname  string `json:"nickname,omitempty"`
	Followers int64  `json:"followerCount"`
}

// VideoCandidate is a scraped video travelling through one curation run.
// Scores are attached progressively by the filter stages.
type VideoCandidate struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	CoverURL    string     `json:"cover_url,omitempty"`
	PlayAddr    string     `json:"play_addr,omitempty"`
	Author      Author     `json:"author"`
	Stats       VideoStats `json:"stats"`
	MusicID     string     `json:"music_id,omitempty"`
	Hashtags    []string   `json:"hashtags,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`

	ViralScore      float64 `json:"viral_score"`
	RelevanceScore  int     `json:"relevance_score"`
	RelevanceReason string  `json:"relevance_reason,omitempty"`
	VisionScore     *int    `json:"vision_score,omitempty"`
	VisionAnalysis  string  `json:"vision_analysis,omitempty"`
	VisionReason    string  `json:"vision_reason,omitempty"`
	FinalScore      float64 `json:"final_score"`
}

// HasVision reports whether deep content analysis produced a score.
func (v *VideoCandidate) HasVision() bool {
	return v.VisionScore != nil
}

// ScanResult is a persisted curation winner, unique per (config, video).
type ScanResult struct {
	ID          string     `json:"id"`
	ConfigID    string     `json:"config_id"`
	UserID      string     `json:"user_id"`
	ProjectID   string     `json:"project_id"`
	VideoID     string     `json:"video_platform_id"`
	VideoURL    string     `json:"video_url"`
	CoverURL    string     `json:"video_cover_url,omitempty"`
	PlayAddr    string     `json:"video_play_addr,omitempty"`
	Description string     `json:"video_description"`
	Author      string     `json:"video_author"`
	Stats       VideoStats `json:"video_stats"`
	ViralScore  float64    `json:"viral_score"`

	TextScore      int     `json:"text_score"`
	TextReason     string  `json:"text_reason,omitempty"`
	VisionScore    *int    `json:"vision_score,omitempty"`
	VisionAnalysis string  `json:"vision_analysis,omitempty"`
	VisionReason   string  `json:"vision_match_reason,omitempty"`
	FinalScore     float64 `json:"final_score"`
	BatchID        string  `json:"scan_batch_id"`

	Dismissed bool      `json:"is_dismissed"`
	Saved     bool      `json:"is_saved"`
	FoundAt   time.Time `json:"found_at"`
}

// RelevanceScore is a cached text-relevance verdict for (project, video).
type RelevanceScore struct {
	ProjectID string    `json:"project_id"`
	VideoID   string    `json:"video_platform_id"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason"`
	ScoredAt  time.Time `json:"scored_at"`
}
