package scorer

import (
	"math"

	"github.com/sells-group/trend-curator/internal/model"
)

// Stats is the engagement snapshot fed to the scorer.
type Stats struct {
	Views     int64
	Followers int64
	Likes     int64
	Comments  int64
	Shares    int64
	Bookmarks int64
}

// History is an optional earlier snapshot of the same video.
type History struct {
	Views           int64
	TotalSoundUsage int64
}

// Breakdown is the per-layer UTS result. Layers are rounded to three
// decimals and the final score to two.
type Breakdown struct {
	ViralLift       float64 `json:"l1_viral_lift"`
	Velocity        float64 `json:"l2_velocity"`
	Retention       float64 `json:"l3_retention"`
	Cascade         float64 `json:"l4_cascade"`
	Saturation      float64 `json:"l5_saturation"`
	Stability       float64 `json:"l7_stability"`
	Final           float64 `json:"final_score"`
	CascadeCount    int     `json:"cascade_count"`
	TotalSoundUsage int64   `json:"total_sound_usage"`
}

// StatsFromCandidate builds scorer input from a scraped video.
func StatsFromCandidate(v *model.VideoCandidate) Stats {
	return Stats{
		Views:     v.Stats.Views,
		Followers: v.Author.Followers,
		Likes:     v.Stats.Likes,
		Comments:  v.Stats.Comments,
		Shares:    v.Stats.Shares,
		Bookmarks: v.Stats.Bookmarks,
	}
}

// Score computes the UTS breakdown with the default weights.
func Score(current Stats, history *History, cascadeCount int) Breakdown {
	return ScoreWeighted(current, history, cascadeCount, DefaultWeights())
}

// ScoreWeighted computes the UTS breakdown. It is pure: identical inputs
// always produce identical output.
func ScoreWeighted(current Stats, history *History, cascadeCount int, w Weights) Breakdown {
	views := orOne(current.Views)
	followers := orOne(current.Followers)
	likes := nonNeg(current.Likes)
	comments := nonNeg(current.Comments)
	shares := nonNeg(current.Shares)
	bookmarks := nonNeg(current.Bookmarks)
	if cascadeCount < 0 {
		cascadeCount = 0
	}

	fv := float64(views)

	// L1: reach relative to audience, 10x followers caps at 1.0.
	l1 := math.Min(float64(views)/float64(followers)/10.0, 1.0)

	// L2: growth when history exists, else engagement rate (5% caps at 1.0).
	engagementRate := float64(likes+comments+shares+bookmarks) / fv
	l2 := math.Min(engagementRate*20, 1.0)
	var totalSoundUsage int64
	if history != nil {
		oldViews := history.Views
		if oldViews <= 0 {
			oldViews = views
		}
		growth := float64(views-oldViews) / float64(oldViews)
		if growth > 0 {
			l2 = math.Min(growth, 1.0)
		} else {
			l2 *= 0.5
		}
		totalSoundUsage = nonNeg(history.TotalSoundUsage)
	}

	// L3: save intent, likes weigh a tenth of a bookmark.
	retention := float64(bookmarks) + float64(likes)*0.1
	l3 := math.Min(retention/fv*50, 1.0)

	// L4: shared-sound network effect.
	l4 := math.Min(math.Log10(float64(cascadeCount)+1)/2, 1.0)

	// L5: novelty, floored at 0.1.
	l5 := math.Max(1.0-float64(totalSoundUsage)/1000, 0.1)

	// L7: share and comment intent.
	l7 := math.Min(float64(shares)/fv*100+float64(comments)/fv*50, 1.0)

	final := (l1*w.ViralLift +
		l2*w.Velocity +
		l3*w.Retention +
		l4*w.Cascade +
		l5*w.Saturation +
		l7*w.Stability) * 10

	return Breakdown{
		ViralLift:       round(l1, 3),
		Velocity:        round(l2, 3),
		Retention:       round(l3, 3),
		Cascade:         round(l4, 3),
		Saturation:      round(l5, 3),
		Stability:       round(l7, 3),
		Final:           round(final, 2),
		CascadeCount:    cascadeCount,
		TotalSoundUsage: totalSoundUsage,
	}
}

// CascadeCounts counts how many candidates share each sound id.
func CascadeCounts(videos []model.VideoCandidate) map[string]int {
	counts := make(map[string]int)
	for i := range videos {
		if id := videos[i].MusicID; id != "" {
			counts[id]++
		}
	}
	return counts
}

func orOne(v int64) int64 {
	if v <= 0 {
		return 1
	}
	return v
}

func nonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
