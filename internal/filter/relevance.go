package filter

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/resilience"
	"github.com/sells-group/trend-curator/pkg/anthropic"
)

// Neutral verdicts assigned when a candidate cannot be scored.
const (
	NeutralScore       = 50
	ReasonUnscored     = "unscored"
	ReasonScoringError = "scoring error"

	DefaultBatchSize = 8
	DefaultCacheTTL  = 24 * time.Hour

	maxReasonRunes = 255
)

// ScoreCache stores relevance verdicts per (project, video).
type ScoreCache interface {
	GetRelevanceScores(ctx context.Context, projectID string, videoIDs []string, maxAge time.Duration) (map[string]model.RelevanceScore, error)
	PutRelevanceScores(ctx context.Context, scores []model.RelevanceScore) error
}

// RelevanceConfig tunes the batched relevance scorer.
type RelevanceConfig struct {
	Model     string
	MaxTokens int64
	BatchSize int
	CacheTTL  time.Duration
}

// RelevanceReport summarizes one scoring pass.
type RelevanceReport struct {
	Cached        int
	Batches       int
	FailedBatches int
	Scored        int
	Usage         anthropic.TokenUsage
}

// RelevanceScorer scores candidates against a project profile in fixed-size
// batches, consulting the cache before issuing any call.
type RelevanceScorer struct {
	client anthropic.Client
	cache  ScoreCache
	guard  *resilience.Guard
	cfg    RelevanceConfig
	now    func() time.Time
}

// NewRelevanceScorer creates a RelevanceScorer. cache and guard may be nil.
func NewRelevanceScorer(client anthropic.Client, cache ScoreCache, guard *resilience.Guard, cfg RelevanceConfig) *RelevanceScorer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &RelevanceScorer{client: client, cache: cache, guard: guard, cfg: cfg, now: time.Now}
}

// Model returns the model the scorer calls.
func (s *RelevanceScorer) Model() string {
	return s.cfg.Model
}

type verdict struct {
	score  int
	reason string
	ok     bool
}

// Score annotates every candidate with a relevance score and reason. The
// returned slice has the same order as videos. Only a cancelled context
// produces an error; provider failures degrade to neutral verdicts.
func (s *RelevanceScorer) Score(ctx context.Context, projectID string, profile model.ProjectProfile, videos []model.VideoCandidate) ([]model.VideoCandidate, RelevanceReport, error) {
	var report RelevanceReport
	out := make([]model.VideoCandidate, len(videos))
	copy(out, videos)
	if len(out) == 0 {
		return out, report, nil
	}

	cached := s.lookupCache(ctx, projectID, out)
	verdicts := make([]verdict, len(out))
	var pending []int
	for i := range out {
		if vd, ok := cached[out[i].ID]; ok && out[i].ID != "" {
			verdicts[i] = vd
			report.Cached++
			continue
		}
		pending = append(pending, i)
	}

	var fresh []model.RelevanceScore
	system := anthropic.BuildCachedSystemBlocks(relevanceRubric)
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, report, eris.Wrap(err, "filter: relevance scoring")
		}
		end := min(start+s.cfg.BatchSize, len(pending))
		idxs := pending[start:end]
		batch := make([]*model.VideoCandidate, 0, len(idxs))
		for _, idx := range idxs {
			batch = append(batch, &out[idx])
		}

		report.Batches++
		results, usage, err := s.scoreBatch(ctx, system, profile, batch)
		report.Usage.Add(usage)
		if err != nil {
			report.FailedBatches++
			zap.L().Warn("filter: relevance batch failed",
				zap.String("project_id", projectID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		}

		scoredAt := s.now().UTC()
		for i, v := range batch {
			vd := results[i]
			verdicts[idxs[i]] = vd
			if vd.ok && v.ID != "" {
				report.Scored++
				fresh = append(fresh, model.RelevanceScore{
					ProjectID: projectID,
					VideoID:   v.ID,
					Score:     vd.score,
					Reason:    vd.reason,
					ScoredAt:  scoredAt,
				})
			}
		}
	}

	for i := range out {
		out[i].RelevanceScore = verdicts[i].score
		out[i].RelevanceReason = verdicts[i].reason
	}

	if len(fresh) > 0 && s.cache != nil {
		if err := s.cache.PutRelevanceScores(ctx, fresh); err != nil {
			zap.L().Warn("filter: relevance cache write failed",
				zap.String("project_id", projectID),
				zap.Int("count", len(fresh)),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("filter: relevance scoring complete",
		zap.String("project_id", projectID),
		zap.Int("candidates", len(out)),
		zap.Int("cached", report.Cached),
		zap.Int("batches", report.Batches),
		zap.Int("failed_batches", report.FailedBatches),
	)

	return out, report, nil
}

// lookupCache returns fresh cached verdicts keyed by video id. A cache read
// failure is treated as a miss.
func (s *RelevanceScorer) lookupCache(ctx context.Context, projectID string, videos []model.VideoCandidate) map[string]verdict {
	verdicts := make(map[string]verdict)
	if s.cache == nil {
		return verdicts
	}

	ids := make([]string, 0, len(videos))
	for i := range videos {
		if videos[i].ID != "" {
			ids = append(ids, videos[i].ID)
		}
	}
	if len(ids) == 0 {
		return verdicts
	}

	cached, err := s.cache.GetRelevanceScores(ctx, projectID, ids, s.cfg.CacheTTL)
	if err != nil {
		zap.L().Warn("filter: relevance cache read failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return verdicts
	}
	for id, rs := range cached {
		verdicts[id] = verdict{score: rs.Score, reason: rs.Reason, ok: true}
	}
	return verdicts
}

// scoreBatch issues one relevance call. It always returns one verdict per
// candidate; on failure every verdict is neutral.
func (s *RelevanceScorer) scoreBatch(ctx context.Context, system []anthropic.SystemBlock, profile model.ProjectProfile, batch []*model.VideoCandidate) ([]verdict, anthropic.TokenUsage, error) {
	results := make([]verdict, len(batch))
	fail := func() {
		for i := range results {
			results[i] = verdict{score: NeutralScore, reason: ReasonScoringError}
		}
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: BuildRelevancePrompt(profile, batch)}},
		Temperature: &temp,
	}

	resp, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, req)
	})
	if err != nil {
		fail()
		return results, anthropic.TokenUsage{}, err
	}

	items, err := ParseRelevanceResponse(resp.Text())
	if err != nil {
		fail()
		return results, resp.Usage, err
	}

	for i := range results {
		results[i] = verdict{score: NeutralScore, reason: ReasonUnscored}
	}
	for _, it := range items {
		if it.Index < 1 || it.Index > len(batch) {
			continue
		}
		results[it.Index-1] = verdict{score: it.Score, reason: it.Reason, ok: true}
	}
	return results, resp.Usage, nil
}

const relevanceRubric = `You score short-form videos for relevance to a content project (0-100).

SCORING RUBRIC (each 0-25):
1. Topic match: does the content match the niche/sub-niche?
2. Format match: does the video format match (UGC, tutorial, etc.)?
3. Audience match: is this for the right audience?
4. Clean content: no excluded elements (clickbait, spam, etc.)?

Return ONLY a valid JSON array, no other text:
[{"id": 1, "score": 85, "reason": "3 words max"}, ...]`

// BuildRelevancePrompt describes the profile and a batch of candidates,
// numbered from 1.
func BuildRelevancePrompt(profile model.ProjectProfile, batch []*model.VideoCandidate) string {
	var b strings.Builder
	b.WriteString("PROJECT PROFILE:\n")
	fmt.Fprintf(&b, "- Niche: %s / %s\n", orDefault(profile.Niche, "general"), profile.SubNiche)
	fmt.Fprintf(&b, "- Format: %s\n", strings.Join(profile.Format, ", "))
	fmt.Fprintf(&b, "- Audience: %s\n", audienceLine(profile.Audience))
	fmt.Fprintf(&b, "- Style: %s\n", profile.Tone)
	fmt.Fprintf(&b, "- EXCLUDE: %s\n", strings.Join(profile.Exclude, ", "))
	b.WriteString("\nVIDEOS:\n")
	for i, v := range batch {
		tags := v.Hashtags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		fmt.Fprintf(&b, "%d. %q | Tags: %s | @%s (%d fol) | %d views\n",
			i+1, Truncate(v.Description, 150), strings.Join(tags, ", "),
			v.Author.Username, v.Author.Followers, v.Stats.Views)
	}
	return b.String()
}

// RelevanceItem is one parsed verdict. Index is 1-based.
type RelevanceItem struct {
	Index  int
	Score  int
	Reason string
}

var (
	jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonArray = regexp.MustCompile(`(?s)\[.*\]`)
)

// ParseRelevanceResponse extracts the verdict array from a model reply. It
// accepts a fenced block or a bare array, and either "id" or "index" as the
// position key. Scores are clamped to 0-100 and reasons cut to 255 runes.
func ParseRelevanceResponse(text string) ([]RelevanceItem, error) {
	body := ""
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		body = m[1]
	} else if m := jsonArray.FindString(text); m != "" {
		body = m
	}
	if body == "" {
		return nil, eris.New("filter: no JSON array in relevance response")
	}

	var raw []struct {
		ID     *float64 `json:"id"`
		Index  *float64 `json:"index"`
		Score  *float64 `json:"score"`
		Reason string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, eris.Wrap(err, "filter: decode relevance response")
	}

	items := make([]RelevanceItem, 0, len(raw))
	for _, r := range raw {
		pos := r.ID
		if pos == nil {
			pos = r.Index
		}
		if pos == nil || *pos != math.Trunc(*pos) {
			continue
		}
		score := NeutralScore
		if r.Score != nil {
			score = clampScore(int(math.Round(*r.Score)))
		}
		items = append(items, RelevanceItem{
			Index:  int(*pos),
			Score:  score,
			Reason: Truncate(strings.TrimSpace(r.Reason), maxReasonRunes),
		})
	}
	return items, nil
}

func clampScore(v int) int {
	return max(0, min(100, v))
}

// AboveThreshold keeps candidates whose relevance is at least threshold,
// sorted by relevance descending. Ties keep their input order.
func AboveThreshold(videos []model.VideoCandidate, threshold int) []model.VideoCandidate {
	out := make([]model.VideoCandidate, 0, len(videos))
	for i := range videos {
		if videos[i].RelevanceScore >= threshold {
			out = append(out, videos[i])
		}
	}
	slices.SortStableFunc(out, func(a, b model.VideoCandidate) int {
		return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
	})
	return out
}
