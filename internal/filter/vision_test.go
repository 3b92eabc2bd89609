package filter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/pkg/gemini"
)

type mockAnalyzer struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockAnalyzer) AnalyzeVideo(ctx context.Context, req gemini.AnalyzeRequest) (*gemini.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(ctx, req.VideoURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.Analysis), args.Error(1)
}

func TestVisionAnalyzer_IsolatesFailures(t *testing.T) {
	t.Parallel()

	m := &mockAnalyzer{}
	m.On("AnalyzeVideo", mock.Anything, "https://v/1").
		Return(&gemini.Analysis{Text: "SCORE: 88\nMATCH: Yes\nREASON: Strong fit.", Usage: gemini.Usage{InputTokens: 10, OutputTokens: 2}}, nil)
	m.On("AnalyzeVideo", mock.Anything, "https://v/2").
		Return(nil, errors.New(strings.Repeat("e", 300)))
	m.On("AnalyzeVideo", mock.Anything, "https://v/3").
		Return(&gemini.Analysis{Text: "no structured answer"}, nil)

	videos := []model.VideoCandidate{
		{ID: "1", URL: "https://v/1"},
		{ID: "2", URL: "https://v/2"},
		{ID: "3", URL: "https://v/3"},
		{ID: "4"},
	}
	a := NewVisionAnalyzer(m, nil, "TikTok", 2)
	got, report := a.Analyze(context.Background(), model.ProjectProfile{Niche: "cooking"}, videos)

	require.Len(t, got, 4)
	require.NotNil(t, got[0].VisionScore)
	assert.Equal(t, 88, *got[0].VisionScore)
	assert.Equal(t, "Strong fit.", got[0].VisionReason)
	assert.Contains(t, got[0].VisionAnalysis, "SCORE: 88")

	assert.Nil(t, got[1].VisionScore)
	assert.Equal(t, "Vision failed: "+strings.Repeat("e", 100), got[1].VisionReason)

	require.NotNil(t, got[2].VisionScore)
	assert.Equal(t, NeutralScore, *got[2].VisionScore)

	assert.Nil(t, got[3].VisionScore)
	assert.Empty(t, got[3].VisionReason)

	assert.Equal(t, VisionReport{Calls: 3, Analyzed: 2, Failed: 1, Skipped: 1, InputTokens: 10, OutputTokens: 2}, report)
	m.AssertNumberOfCalls(t, "AnalyzeVideo", 3)

	// Input slice is untouched.
	assert.Nil(t, videos[0].VisionScore)
}

func TestParseVisionResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantScore  int
		wantReason string
	}{
		{"well formed", "SCORE: 72\nMATCH: Partial\nREASON: Mostly on topic.\n", 72, "Mostly on topic."},
		{"clamped", "SCORE: 250\nREASON: wow", 100, "wow"},
		{"missing score", "REASON: only reason", NeutralScore, "only reason"},
		{"empty", "", NeutralScore, ""},
		{"reason first line only", "SCORE:5\nREASON:  first\nsecond", 5, "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			score, reason := ParseVisionResponse(tt.text)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestBuildVisionPrompt(t *testing.T) {
	t.Parallel()

	prompt := BuildVisionPrompt(model.ProjectProfile{Niche: "fitness", Exclude: []string{"supplements"}},
		&model.VideoCandidate{Description: "leg day", Author: model.Author{Username: "coach"}, Stats: model.VideoStats{Views: 5}})
	assert.Contains(t, prompt, "Niche: fitness / ")
	assert.Contains(t, prompt, "Content Format: any")
	assert.Contains(t, prompt, "Tone/Style: engaging")
	assert.Contains(t, prompt, "Topics to EXCLUDE: supplements")
	assert.Contains(t, prompt, "Author: @coach")
	assert.Contains(t, prompt, "SCORE: [total 0-100]")
}
