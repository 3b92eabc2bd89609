package filter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/resilience"
	"github.com/sells-group/trend-curator/pkg/gemini"
)

const (
	maxVisionReasonRunes = 500
	maxFailureRunes      = 100
)

// VideoAnalyzer runs deep content analysis on one video.
type VideoAnalyzer interface {
	AnalyzeVideo(ctx context.Context, req gemini.AnalyzeRequest) (*gemini.Analysis, error)
}

// VisionReport summarizes one vision pass.
type VisionReport struct {
	Calls        int
	Analyzed     int
	Failed       int
	Skipped      int
	InputTokens  int
	OutputTokens int
}

// VisionAnalyzer scores candidates by watching the video.
type VisionAnalyzer struct {
	client      VideoAnalyzer
	guard       *resilience.Guard
	platform    string
	concurrency int
}

// NewVisionAnalyzer creates a VisionAnalyzer. concurrency below 1 means
// sequential calls.
func NewVisionAnalyzer(client VideoAnalyzer, guard *resilience.Guard, platform string, concurrency int) *VisionAnalyzer {
	return &VisionAnalyzer{
		client:      client,
		guard:       guard,
		platform:    platform,
		concurrency: max(concurrency, 1),
	}
}

type visionOutcome struct {
	called bool
	err    error
	res    *gemini.Analysis
}

// Analyze attaches a vision score to each candidate. A failed call leaves the
// score nil and records the failure as the reason; it never aborts the
// others. Candidates without a URL are skipped without a call.
func (a *VisionAnalyzer) Analyze(ctx context.Context, profile model.ProjectProfile, videos []model.VideoCandidate) ([]model.VideoCandidate, VisionReport) {
	out := make([]model.VideoCandidate, len(videos))
	copy(out, videos)
	outcomes := make([]visionOutcome, len(out))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := range out {
		if out[i].URL == "" {
			continue
		}
		g.Go(func() error {
			v := &out[i]
			req := gemini.AnalyzeRequest{
				VideoURL: v.URL,
				Prompt:   BuildVisionPrompt(profile, v),
				Metadata: gemini.VideoMetadata{
					Platform:    a.platform,
					Author:      v.Author.Username,
					Description: Truncate(v.Description, 200),
					Views:       v.Stats.Views,
				},
			}
			res, err := resilience.Call(gctx, a.guard, func(ctx context.Context) (*gemini.Analysis, error) {
				return a.client.AnalyzeVideo(ctx, req)
			})
			outcomes[i] = visionOutcome{called: true, err: err, res: res}
			return nil
		})
	}
	_ = g.Wait()

	var report VisionReport
	for i := range out {
		o := outcomes[i]
		if !o.called {
			report.Skipped++
			continue
		}
		report.Calls++
		v := &out[i]
		if o.err != nil {
			report.Failed++
			v.VisionScore = nil
			v.VisionAnalysis = ""
			v.VisionReason = "Vision failed: " + Truncate(o.err.Error(), maxFailureRunes)
			zap.L().Warn("filter: vision analysis failed",
				zap.String("video_id", v.ID),
				zap.Error(o.err),
			)
			continue
		}
		score, reason := ParseVisionResponse(o.res.Text)
		v.VisionScore = &score
		v.VisionAnalysis = o.res.Text
		v.VisionReason = reason
		report.Analyzed++
		report.InputTokens += o.res.Usage.InputTokens
		report.OutputTokens += o.res.Usage.OutputTokens
	}
	return out, report
}

// BuildVisionPrompt embeds the profile and video metadata with the four
// 25-point criteria.
func BuildVisionPrompt(profile model.ProjectProfile, v *model.VideoCandidate) string {
	var b strings.Builder
	b.WriteString("You are an expert content analyst. Watch this video carefully and evaluate\n")
	b.WriteString("how well it matches the following content project profile.\n\n")
	b.WriteString("PROJECT PROFILE:\n")
	fmt.Fprintf(&b, "- Niche: %s / %s\n", orDefault(profile.Niche, "general"), profile.SubNiche)
	fmt.Fprintf(&b, "- Content Format: %s\n", joinOr(profile.Format, "any"))
	fmt.Fprintf(&b, "- Target Audience: %s\n", audienceLine(profile.Audience))
	fmt.Fprintf(&b, "- Tone/Style: %s\n", orDefault(profile.Tone, "engaging"))
	fmt.Fprintf(&b, "- Topics to EXCLUDE: %s\n\n", strings.Join(profile.Exclude, ", "))
	b.WriteString("VIDEO METADATA:\n")
	fmt.Fprintf(&b, "- Description: %s\n", orDefault(Truncate(v.Description, 200), "N/A"))
	fmt.Fprintf(&b, "- Author: @%s\n", orDefault(v.Author.Username, "unknown"))
	fmt.Fprintf(&b, "- Views: %d\n\n", v.Stats.Views)
	b.WriteString(`TASK: Watch the actual video content and answer:

1. VISUAL MATCH (0-25): Does the video visually match the niche?
2. FORMAT MATCH (0-25): Does the video format match? (UGC, tutorial, showcase, etc.)
3. AUDIENCE FIT (0-25): Would this appeal to the target audience?
4. CONTENT QUALITY (0-25): Is this high-quality, non-spammy content worth recommending?

Return your response in this EXACT format:
SCORE: [total 0-100]
MATCH: [Yes/Partial/No]
REASON: [1-2 sentence explanation of why this video does or does not match]
`)
	return b.String()
}

var (
	visionScore  = regexp.MustCompile(`SCORE:\s*(\d+)`)
	visionReason = regexp.MustCompile(`REASON:\s*([^\n]+)`)
)

// ParseVisionResponse reads SCORE and REASON from an analysis. A missing
// score reads as neutral; scores are clamped to 0-100.
func ParseVisionResponse(text string) (int, string) {
	score := NeutralScore
	if m := visionScore.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = clampScore(n)
		} else {
			score = 100
		}
	}
	reason := ""
	if m := visionReason.FindStringSubmatch(text); m != nil {
		reason = Truncate(strings.TrimSpace(m[1]), maxVisionReasonRunes)
	}
	return score, reason
}
