package curation

import (
	"sort"
	"time"

	"github.com/sells-group/trend-curator/internal/filter"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/scorer"
)

// Blend weights for candidates with a vision score.
const (
	relevanceWeight = 0.4
	visionWeight    = 0.6

	maxDescriptionRunes = 500
	maxTextReasonRunes  = 255
)

// FinalScore blends relevance and vision scores. Without a vision score the
// relevance score stands alone.
func FinalScore(v *model.VideoCandidate) float64 {
	if v.VisionScore == nil {
		return float64(v.RelevanceScore)
	}
	return float64(v.RelevanceScore)*relevanceWeight + float64(*v.VisionScore)*visionWeight
}

// Rank scores every candidate, orders vision-analyzed candidates first and
// then by final score descending, drops repeated ids and keeps the first
// limit. cascade maps sound ids to their share counts for the viral score.
func Rank(videos []model.VideoCandidate, cascade map[string]int, limit int) []model.VideoCandidate {
	ranked := make([]model.VideoCandidate, len(videos))
	copy(ranked, videos)
	for i := range ranked {
		v := &ranked[i]
		v.FinalScore = FinalScore(v)
		v.ViralScore = scorer.Score(scorer.StatsFromCandidate(v), nil, cascade[v.MusicID]).Final
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := ranked[i].HasVision(), ranked[j].HasVision()
		if vi != vj {
			return vi
		}
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	seen := make(map[string]bool, len(ranked))
	out := make([]model.VideoCandidate, 0, min(limit, len(ranked)))
	for _, v := range ranked {
		if len(out) >= limit {
			break
		}
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		out = append(out, v)
	}
	return out
}

// cascadeFor counts sound reuse across all candidates that survived scraping.
func cascadeFor(videos []model.VideoCandidate) map[string]int {
	return scorer.CascadeCounts(videos)
}

func toResults(rs *runState, ranked []model.VideoCandidate, foundAt time.Time) []model.ScanResult {
	results := make([]model.ScanResult, 0, len(ranked))
	for i := range ranked {
		v := &ranked[i]
		results = append(results, model.ScanResult{
			ConfigID:       rs.config.ID,
			UserID:         rs.config.UserID,
			ProjectID:      rs.config.ProjectID,
			VideoID:        v.ID,
			VideoURL:       v.URL,
			CoverURL:       v.CoverURL,
			PlayAddr:       v.PlayAddr,
			Description:    filter.Truncate(v.Description, maxDescriptionRunes),
			Author:         v.Author.Username,
			Stats:          v.Stats,
			ViralScore:     v.ViralScore,
			TextScore:      v.RelevanceScore,
			TextReason:     filter.Truncate(v.RelevanceReason, maxTextReasonRunes),
			VisionScore:    v.VisionScore,
			VisionAnalysis: v.VisionAnalysis,
			VisionReason:   v.VisionReason,
			FinalScore:     v.FinalScore,
			BatchID:        rs.batchID,
			FoundAt:        foundAt,
		})
	}
	return results
}
