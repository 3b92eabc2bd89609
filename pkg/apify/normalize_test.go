package apify

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeItem(t *testing.T, raw string) Item {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var it Item
	require.NoError(t, dec.Decode(&it))
	return it
}

func TestNormalize_NestedShape(t *testing.T) {
	it := decodeItem(t, `{
		"id": "123",
		"desc": "Street food tour",
		"url": "https://www.tiktok.com/@chef/video/123",
		"stats": {"playCount": 900000, "diggCount": 50000, "commentCount": 300, "shareCount": 1200, "collectCount": 4000},
		"author": {"id": "a1", "uniqueId": "chef", "nickname": "Chef", "followerCount": 12000},
		"music": {"id": "m9"},
		"hashtags": [{"name": "food"}, {"name": "#street"}, {"title": ""}],
		"createTimeISO": "2026-03-01T10:00:00.000Z",
		"videoMeta": {"coverUrl": "https://c/1.jpg", "downloadAddr": "https://d/1.mp4"}
	}`)

	v, ok := Normalize(it)
	require.True(t, ok)
	assert.Equal(t, "123", v.ID)
	assert.Equal(t, "Street food tour", v.Description)
	assert.Equal(t, "https://www.tiktok.com/@chef/video/123", v.URL)
	assert.Equal(t, int64(900000), v.Stats.Views)
	assert.Equal(t, int64(50000), v.Stats.Likes)
	assert.Equal(t, int64(4000), v.Stats.Bookmarks)
	assert.Equal(t, "chef", v.Author.Username)
	assert.Equal(t, int64(12000), v.Author.Followers)
	assert.Equal(t, "m9", v.MusicID)
	assert.Equal(t, []string{"food", "street"}, v.Hashtags)
	assert.Equal(t, "https://c/1.jpg", v.CoverURL)
	assert.Equal(t, "https://d/1.mp4", v.PlayAddr)
	require.NotNil(t, v.CreatedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *v.CreatedAt)
}

func TestNormalize_FlattenedShape(t *testing.T) {
	it := decodeItem(t, `{
		"id": 7301234567890123456,
		"text": "gym routine",
		"webVideoUrl": "https://www.tiktok.com/@coach/video/7301234567890123456",
		"playCount": 1500, "diggCount": 10, "commentCount": 2, "shareCount": 1, "collectCount": 3,
		"authorMeta": {"id": "a2", "name": "coach", "nickName": "Coach", "fans": 800},
		"musicMeta": {"musicId": "snd1"},
		"hashtags": ["fitness", " #legday "],
		"createTime": 1767225600
	}`)

	v, ok := Normalize(it)
	require.True(t, ok)
	assert.Equal(t, "7301234567890123456", v.ID)
	assert.Equal(t, "gym routine", v.Description)
	assert.Equal(t, int64(1500), v.Stats.Views)
	assert.Equal(t, "coach", v.Author.Username)
	assert.Equal(t, "Coach", v.Author.Nickname)
	assert.Equal(t, int64(800), v.Author.Followers)
	assert.Equal(t, "snd1", v.MusicID)
	assert.Equal(t, []string{"fitness", "legday"}, v.Hashtags)
	require.NotNil(t, v.CreatedAt)
	assert.Equal(t, int64(1767225600), v.CreatedAt.Unix())
}

func TestNormalize_ChannelAndMissingDate(t *testing.T) {
	it := decodeItem(t, `{"id": "9", "channel": {"username": "vlogger", "followers": 5}, "views": 77}`)

	v, ok := Normalize(it)
	require.True(t, ok)
	assert.Equal(t, "vlogger", v.Author.Username)
	assert.Equal(t, int64(5), v.Author.Followers)
	assert.Equal(t, int64(77), v.Stats.Views)
	assert.Nil(t, v.CreatedAt)
}

func TestNormalizeAll_DropsMissingIDs(t *testing.T) {
	items := []Item{
		decodeItem(t, `{"id": "1"}`),
		decodeItem(t, `{"text": "no id"}`),
		decodeItem(t, `{"id": "2"}`),
	}
	got := NormalizeAll(items)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}
