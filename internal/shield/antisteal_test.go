package shield

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

func TestCheckStolen(t *testing.T) {
	hasher := &fakeHasher{perceptual: map[string]string{
		"mine.mp4":    "aaaaaaaaaaaaaaaa",
		"cropped.mp4": "aaaaaaaaaaaaaaab",
		"foreign.mp4": "5555555555555555",
	}}
	s := newTestShield(t, "", hasher)
	mine := writeVideo(t, "mine.mp4", "mine")
	p, err := s.AddVideo(context.Background(), mine, 1, VideoMeta{})
	require.NoError(t, err)
	_, err = s.AddVideo(context.Background(), writeVideo(t, "foreign.mp4", "someone else"), 2, VideoMeta{})
	require.NoError(t, err)

	report, err := s.CheckStolen(context.Background(), mine, 1)
	require.NoError(t, err)
	assert.True(t, report.Found)
	assert.Equal(t, TheftExactHash, report.Method)
	assert.Equal(t, p.ID, report.PassportID)

	report, err = s.CheckStolen(context.Background(), writeVideo(t, "cropped.mp4", "cropped"), 1)
	require.NoError(t, err)
	assert.True(t, report.Found)
	assert.Equal(t, TheftPerceptual, report.Method)
	assert.InDelta(t, 63.0/64, report.Similarity, 1e-9)

	report, err = s.CheckStolen(context.Background(), writeVideo(t, "foreign.mp4", "someone else"), 1)
	require.NoError(t, err)
	assert.False(t, report.Found, "other owners' videos are not compared")

	history := s.TheftHistory(1)
	require.Len(t, history, 2)
	assert.Equal(t, TheftExactHash, history[0].Method)
	assert.Equal(t, 2, s.Analytics(1).StolenDetected)
	assert.Empty(t, s.TheftHistory(2))
}

func TestRecordScanAverages(t *testing.T) {
	s := newTestShield(t, "", &fakeHasher{})
	s.RecordScan(5, false, 90)
	s.RecordScan(5, true, 30)

	a := s.Analytics(5)
	assert.Equal(t, 2, a.TotalScanned)
	assert.Equal(t, 1, a.MatchesDetected)
	assert.Equal(t, 1, a.HighRiskCount)
	assert.InDelta(t, 60, a.AvgOriginality, 1e-9)
	assert.Equal(t, fixedNow, a.FirstUse)
}

func TestRecordProcessing(t *testing.T) {
	s := newTestShield(t, "", &fakeHasher{})
	s.RecordProcessing(5, "cinema", models.ModeTikTok)
	s.RecordProcessing(5, "", models.ModeTikTok)

	a := s.Analytics(5)
	assert.Equal(t, 2, a.TotalProcessed)
	assert.Equal(t, map[string]int{"cinema": 1}, a.Templates)
	assert.Equal(t, map[string]int{"tiktok": 2}, a.Platforms)

	a.Templates["mutated"] = 1
	assert.NotContains(t, s.Analytics(5).Templates, "mutated")
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url      string
		platform string
		id       string
	}{
		{"https://www.tiktok.com/@some.user/video/7301234567890", PlatformTikTok, "7301234567890"},
		{"https://vm.tiktok.com/ZMabc123/", PlatformTikTok, "ZMabc123"},
		{"https://www.instagram.com/reel/C1a-B2c/", PlatformInstagram, "C1a-B2c"},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", PlatformYouTube, "dQw4w9WgXcQ"},
		{"https://youtu.be/abc-123", PlatformYouTube, "abc-123"},
		{"https://vimeo.com/123", "", ""},
	}
	for _, tt := range tests {
		platform, id := DetectPlatform(tt.url)
		assert.Equal(t, tt.platform, platform, tt.url)
		assert.Equal(t, tt.id, id, tt.url)
	}
}
