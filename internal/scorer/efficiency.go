package scorer

import "math"

// Author efficiency statuses.
const (
	StatusRisingStar = "Rising Star"
	StatusStable     = "Stable"
	StatusStruggling = "Struggling"
	StatusUnknown    = "Unknown"
)

// Efficiency summarizes how well an author converts followers into reach.
type Efficiency struct {
	AvgViralLift    float64 `json:"avg_viral_lift"`
	EfficiencyScore float64 `json:"efficiency_score"`
	Status          string  `json:"status"`
}

// ProfileEfficiency averages the viral lift over an author's videos.
// An average lift above 2 marks a rising star, below 0.5 a struggling one.
func ProfileEfficiency(videos []Stats) Efficiency {
	if len(videos) == 0 {
		return Efficiency{Status: StatusUnknown}
	}

	var sum float64
	for _, v := range videos {
		sum += float64(nonNeg(v.Views)) / float64(nonNeg(v.Followers)+1)
	}
	avg := sum / float64(len(videos))

	status := StatusStable
	switch {
	case avg > 2:
		status = StatusRisingStar
	case avg < 0.5:
		status = StatusStruggling
	}

	return Efficiency{
		AvgViralLift:    round(avg, 2),
		EfficiencyScore: round(math.Min(avg*2, 10), 1),
		Status:          status,
	}
}
