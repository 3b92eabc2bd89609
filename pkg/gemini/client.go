// Package gemini wraps the Gemini API for deep video content analysis.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/trend-curator/internal/resilience"
)

// Client analyzes a video against a prompt.
type Client interface {
	AnalyzeVideo(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
}

// VideoMetadata is sent alongside the video and used alone when the video
// itself cannot be analyzed.
type VideoMetadata struct {
	Platform    string
	Author      string
	Description string
	Views       int64
}

// AnalyzeRequest is one deep-analysis call.
type AnalyzeRequest struct {
	VideoURL string
	Prompt   string
	Metadata VideoMetadata
}

// Usage tracks token consumption of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Analysis is the free-text model response.
type Analysis struct {
	Text         string
	MetadataOnly bool
	Usage        Usage
}

// Config configures the Gemini client.
type Config struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
	BaseURL           string
}

type genaiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewClient creates a Gemini client rate limited to cfg.RequestsPerMinute.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &genaiClient{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (c *genaiClient) AnalyzeVideo(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if req.VideoURL == "" {
		return nil, eris.New("gemini: video URL is required")
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromURI(req.VideoURL, "video/mp4"),
	}
	result, err := c.generate(ctx, parts)
	if err != nil {
		if isTokenLimit(err) {
			zap.L().Warn("gemini: video exceeds token limit, using metadata only",
				zap.String("video_url", req.VideoURL),
			)
			return c.analyzeMetadataOnly(ctx, req)
		}
		return nil, classify(err, fmt.Sprintf("gemini: analyze video %s", req.VideoURL))
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		zap.L().Warn("gemini: empty response, using metadata only",
			zap.String("video_url", req.VideoURL),
		)
		return c.analyzeMetadataOnly(ctx, req)
	}

	return &Analysis{Text: text, Usage: usageOf(result)}, nil
}

func (c *genaiClient) analyzeMetadataOnly(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	prompt := req.Prompt + "\n\n" + MetadataNote(req.Metadata)
	result, err := c.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)})
	if err != nil {
		return nil, classify(err, "gemini: metadata-only analysis")
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, eris.New("gemini: empty metadata-only response")
	}
	return &Analysis{Text: text, MetadataOnly: true, Usage: usageOf(result)}, nil
}

func (c *genaiClient) generate(ctx context.Context, parts []*genai.Part) (*genai.GenerateContentResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gemini: rate limit wait")
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	temp := float32(0)
	return c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: &temp,
	})
}

// MetadataNote renders the metadata block used when the video cannot be
// watched.
func MetadataNote(m VideoMetadata) string {
	platform := m.Platform
	if platform == "" {
		platform = "TikTok"
	}
	return fmt.Sprintf(`NOTE: The video content is unavailable. Evaluate from metadata only and be conservative.
- Platform: %s
- Author: @%s
- Views: %d
- Description: %s`, platform, m.Author, m.Views, m.Description)
}

func usageOf(r *genai.GenerateContentResponse) Usage {
	if r == nil || r.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(r.UsageMetadata.PromptTokenCount),
		OutputTokens: int(r.UsageMetadata.CandidatesTokenCount),
	}
}

func isTokenLimit(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "token count") || strings.Contains(msg, "INVALID_ARGUMENT")
}

// classify marks rate-limit and server errors as transient.
func classify(err error, msg string) error {
	wrapped := eris.Wrap(err, msg)
	if code := apiStatus(err); code != 0 && resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(wrapped, code)
	}
	return wrapped
}

func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
