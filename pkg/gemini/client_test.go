package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/resilience"
)

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     900,
			"candidatesTokenCount": 40,
		},
	})
}

func writeError(w http.ResponseWriter, code int, status, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"error": map[string]any{"code": code, "message": msg, "status": status},
	})
}

func newTestClient(t *testing.T, baseURL string) Client {
	t.Helper()
	c, err := NewClient(context.Background(), Config{
		APIKey:  "test-key",
		Model:   "gemini-2.5-flash",
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return c
}

func decodeParts(t *testing.T, r *http.Request) []map[string]any {
	t.Helper()
	var body struct {
		Contents []struct {
			Parts []map[string]any `json:"parts"`
		} `json:"contents"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	require.NotEmpty(t, body.Contents)
	return body.Contents[0].Parts
}

func TestAnalyzeVideo_SendsPromptAndVideo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent"), r.URL.Path)
		parts := decodeParts(t, r)
		require.Len(t, parts, 2)
		assert.Equal(t, "rate this", parts[0]["text"])
		fileData, ok := parts[1]["fileData"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "https://example.com/v.mp4", fileData["fileUri"])
		assert.Equal(t, "video/mp4", fileData["mimeType"])
		writeText(w, "SCORE: 82\nMATCH: Yes\nREASON: On niche.")
	}))
	defer ts.Close()

	got, err := newTestClient(t, ts.URL).AnalyzeVideo(context.Background(), AnalyzeRequest{
		VideoURL: "https://example.com/v.mp4",
		Prompt:   "rate this",
	})
	require.NoError(t, err)
	assert.Equal(t, "SCORE: 82\nMATCH: Yes\nREASON: On niche.", got.Text)
	assert.False(t, got.MetadataOnly)
	assert.Equal(t, Usage{InputTokens: 900, OutputTokens: 40}, got.Usage)
}

func TestAnalyzeVideo_TokenLimitFallsBackToMetadata(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := decodeParts(t, r)
		if calls.Add(1) == 1 {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "input token count exceeds the maximum")
			return
		}
		require.Len(t, parts, 1)
		assert.Contains(t, parts[0]["text"], "@chef")
		writeText(w, "SCORE: 40\nREASON: metadata only")
	}))
	defer ts.Close()

	got, err := newTestClient(t, ts.URL).AnalyzeVideo(context.Background(), AnalyzeRequest{
		VideoURL: "https://example.com/v.mp4",
		Prompt:   "rate this",
		Metadata: VideoMetadata{Author: "chef", Views: 10},
	})
	require.NoError(t, err)
	assert.True(t, got.MetadataOnly)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalyzeVideo_RateLimitIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "quota")
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).AnalyzeVideo(context.Background(), AnalyzeRequest{
		VideoURL: "https://example.com/v.mp4",
		Prompt:   "rate this",
	})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestAnalyzeVideo_RequiresURL(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.AnalyzeVideo(context.Background(), AnalyzeRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video URL is required")
}

func TestMetadataNote(t *testing.T) {
	note := MetadataNote(VideoMetadata{Author: "chef", Views: 1200, Description: "pasta"})
	assert.Contains(t, note, "Platform: TikTok")
	assert.Contains(t, note, "@chef")
	assert.Contains(t, note, "Views: 1200")
	assert.Contains(t, note, "pasta")
}
