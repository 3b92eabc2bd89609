package apify

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/trend-curator/internal/model"
)

// Normalize maps a raw dataset item onto a VideoCandidate. Actors differ in
// shape: stats may be nested or flattened, the author may be "author",
// "authorMeta" or "channel", and hashtags may be objects or strings. Items
// without an identifier are reported as not ok.
func Normalize(it Item) (model.VideoCandidate, bool) {
	v := model.VideoCandidate{
		ID:          firstString(it, "id", "platform_id", "videoId"),
		Description: firstString(it, "text", "description", "desc"),
		URL:         firstString(it, "webVideoUrl", "url", "videoUrl"),
	}
	if v.ID == "" {
		return v, false
	}

	meta := object(it["videoMeta"])
	v.CoverURL = firstString(meta, "coverUrl", "originalCoverUrl")
	if v.CoverURL == "" {
		v.CoverURL = firstString(it, "coverUrl", "cover")
	}
	v.PlayAddr = firstString(meta, "downloadAddr", "playAddr")
	if v.PlayAddr == "" {
		v.PlayAddr = firstString(it, "playAddr", "downloadAddr")
	}

	v.Stats = normalizeStats(it)
	v.Author = normalizeAuthor(it)
	v.MusicID = firstString(object(it["musicMeta"]), "musicId", "id")
	if v.MusicID == "" {
		v.MusicID = firstString(object(it["music"]), "id", "musicId")
	}
	v.Hashtags = normalizeHashtags(it["hashtags"])
	v.CreatedAt = normalizeCreated(it)

	return v, true
}

// NormalizeAll normalizes items, dropping those without an identifier.
func NormalizeAll(items []Item) []model.VideoCandidate {
	out := make([]model.VideoCandidate, 0, len(items))
	for _, it := range items {
		if v, ok := Normalize(it); ok {
			out = append(out, v)
		}
	}
	return out
}

func normalizeStats(it Item) model.VideoStats {
	src := object(it["stats"])
	if len(src) == 0 {
		src = it
	}
	return model.VideoStats{
		Views:     firstInt(src, "playCount", "views", "viewCount"),
		Likes:     firstInt(src, "diggCount", "likes", "likeCount"),
		Comments:  firstInt(src, "commentCount", "comments"),
		Shares:    firstInt(src, "shareCount", "shares"),
		Bookmarks: firstInt(src, "collectCount", "bookmarks", "saves"),
	}
}

func normalizeAuthor(it Item) model.Author {
	for _, key := range []string{"authorMeta", "author", "channel"} {
		switch a := it[key].(type) {
		case map[string]any:
			return model.Author{
				ID:        firstString(a, "id"),
				Username:  firstString(a, "uniqueId", "name", "username"),
				Nickname:  firstString(a, "nickName", "nickname"),
				Followers: firstInt(a, "fans", "followerCount", "followers"),
			}
		case string:
			if a != "" {
				return model.Author{Username: a, Followers: firstInt(it, "authorFollowers", "followerCount")}
			}
		}
	}
	return model.Author{Username: firstString(it, "author_username")}
}

func normalizeHashtags(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, h := range list {
		var name string
		switch t := h.(type) {
		case string:
			name = t
		case map[string]any:
			name = firstString(t, "name", "title")
		}
		if name = strings.TrimPrefix(strings.TrimSpace(name), "#"); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func normalizeCreated(it Item) *time.Time {
	if secs := firstInt(it, "createTime", "createdAt"); secs > 0 {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	for _, key := range []string{"createTimeISO", "createdAt", "created_at"} {
		s, ok := it[key].(string)
		if !ok || s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func object(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Item:
		return m
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch t := m[k].(type) {
		case string:
			if t != "" {
				return t
			}
		case json.Number:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch t := m[k].(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n
			}
			if f, err := t.Float64(); err == nil {
				return int64(math.Round(f))
			}
		case float64:
			return int64(math.Round(t))
		case int64:
			return t
		case int:
			return int64(t)
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}
