package shield

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeHasher hashes file contents for real and looks perceptual hashes up by
// file name
type fakeHasher struct {
	perceptual map[string]string
}

func (f *fakeHasher) PerceptualHash(_ context.Context, path string) (string, error) {
	if h, ok := f.perceptual[filepath.Base(path)]; ok {
		return h, nil
	}
	return "0000000000000000", nil
}

func (f *fakeHasher) Compute(ctx context.Context, path string) (fingerprint.Set, error) {
	fh, err := fingerprint.FileHash(path)
	if err != nil {
		return fingerprint.Set{}, err
	}
	p, _ := f.PerceptualHash(ctx, path)
	return fingerprint.Set{FileHash: fh, Perceptual: p, TemporalSig: "abcd1234"}, nil
}

func newTestShield(t *testing.T, dir string, hasher *fakeHasher) *Shield {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	s, err := New(config.DataConfig{Dir: dir}, hasher, logging.Nop())
	require.NoError(t, err)
	s.WithClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func writeVideo(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var passportID = regexp.MustCompile(`^VIREX-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)

func TestAddVideo(t *testing.T) {
	s := newTestShield(t, "", &fakeHasher{})
	path := writeVideo(t, "a.mp4", "output bytes")

	p, err := s.AddVideo(context.Background(), path, 7, VideoMeta{
		Username: "alice", Width: 1080, Height: 1920, FPS: 30, Duration: 12.5,
		Mode: models.ModeTikTok, Quality: models.QualityMax, Template: "cinema",
		Seed: 99, TrapSignature: "deadbeef",
	})
	require.NoError(t, err)

	assert.Regexp(t, passportID, p.ID)
	want, _ := fingerprint.FileHash(path)
	assert.Equal(t, want, p.VideoHash)
	assert.Equal(t, "1080x1920", p.Resolution)
	assert.Equal(t, int64(len("output bytes")), p.FileSizeBytes)
	assert.True(t, p.TrapEnabled)
	assert.Equal(t, uint64(99), p.RecipeSeed)
	assert.Equal(t, 1, s.Analytics(7).PassportsCreated)

	got, ok := s.Passport(p.ID)
	require.True(t, ok)
	assert.Equal(t, *p, got)
	assert.Len(t, s.UserPassports(7), 1)
	assert.Empty(t, s.UserPassports(8))
}

func TestPassportIDCollisionRetries(t *testing.T) {
	s := newTestShield(t, "", &fakeHasher{})
	// first draw repeats the id already taken, second draw differs
	taken := bytes.Repeat([]byte{0}, 8)
	s.rand = bytes.NewReader(append(append(append([]byte{}, taken...), taken...), bytes.Repeat([]byte{1}, 8)...))

	p1, err := s.AddVideo(context.Background(), writeVideo(t, "a.mp4", "a"), 1, VideoMeta{})
	require.NoError(t, err)
	assert.Equal(t, "VIREX-AAAA-AAAA", p1.ID)

	p2, err := s.AddVideo(context.Background(), writeVideo(t, "b.mp4", "b"), 1, VideoMeta{})
	require.NoError(t, err)
	assert.Equal(t, "VIREX-BBBB-BBBB", p2.ID)

	s.rand = bytes.NewReader(nil)
	_, err = s.AddVideo(context.Background(), writeVideo(t, "c.mp4", "c"), 1, VideoMeta{})
	assert.Error(t, err)
}

func TestFindMatches(t *testing.T) {
	hasher := &fakeHasher{perceptual: map[string]string{
		"orig.mp4":    "ffffffff00000000",
		"similar.mp4": "ffffffff0000000f", // 4 bits differ
		"other.mp4":   "00000000ffffffff",
	}}
	s := newTestShield(t, "", hasher)
	orig := writeVideo(t, "orig.mp4", "original")
	p, err := s.AddVideo(context.Background(), orig, 1, VideoMeta{})
	require.NoError(t, err)

	t.Run("exact copy", func(t *testing.T) {
		res, err := s.FindMatches(context.Background(), orig, 2, 2)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, 1.0, res.Similarity)
		assert.Equal(t, MatchExact, res.MatchType)
		assert.Equal(t, models.RiskCritical, res.Risk)
		assert.Equal(t, p.ID, res.Passport.ID)
	})

	t.Run("visual", func(t *testing.T) {
		res, err := s.FindMatches(context.Background(), writeVideo(t, "similar.mp4", "reencoded"), 2, 2)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, MatchVisual, res.MatchType)
		assert.InDelta(t, 60.0/64, res.Similarity, 1e-9)
		assert.Equal(t, models.RiskHigh, res.Risk)
	})

	t.Run("own videos excluded", func(t *testing.T) {
		res, err := s.FindMatches(context.Background(), orig, 1, 1)
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("unrelated", func(t *testing.T) {
		res, err := s.FindMatches(context.Background(), writeVideo(t, "other.mp4", "x"), 2, 2)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, models.RiskSafe, res.Risk)
		assert.Nil(t, res.Passport)
	})

	got, _ := s.Passport(p.ID)
	assert.Equal(t, 2, got.MatchesFound)
	history := s.Matches(0)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].QueryUserID)
	assert.Equal(t, MatchExact, history[0].MatchType)
}

func TestVerifyPassport(t *testing.T) {
	s := newTestShield(t, "", &fakeHasher{})
	p, err := s.AddVideo(context.Background(), writeVideo(t, "a.mp4", "a"), 1, VideoMeta{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok := s.Passport(p.ID)
		require.True(t, ok)
	}
	got, _ := s.Passport(p.ID)
	assert.Zero(t, got.Verifications, "reads do not mutate")

	v, ok := s.VerifyPassport(p.ID)
	require.True(t, ok)
	assert.Equal(t, 1, v.Verifications)
	require.NotNil(t, v.LastVerifiedAt)
	assert.Equal(t, fixedNow, *v.LastVerifiedAt)

	_, ok = s.VerifyPassport("VIREX-NONE-NONE")
	assert.False(t, ok)
}

func TestShieldPersistence(t *testing.T) {
	dir := t.TempDir()
	hasher := &fakeHasher{}
	s := newTestShield(t, dir, hasher)
	path := writeVideo(t, "a.mp4", "a")
	p, err := s.AddVideo(context.Background(), path, 3, VideoMeta{Template: "vhs", Mode: models.ModeYouTube})
	require.NoError(t, err)
	s.RecordProcessing(3, "vhs", models.ModeYouTube)
	_, err = s.CheckStolen(context.Background(), path, 3)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	reloaded := newTestShield(t, dir, hasher)
	assert.Equal(t, 1, reloaded.Len())
	got, ok := reloaded.Passport(p.ID)
	require.True(t, ok)
	assert.Equal(t, p.VideoHash, got.VideoHash)
	assert.Len(t, reloaded.TheftHistory(3), 1)
	a := reloaded.Analytics(3)
	assert.Equal(t, 1, a.TotalProcessed)
	assert.Equal(t, 1, a.Templates["vhs"])
	assert.Equal(t, 1, a.StolenDetected)
}

func TestCode(t *testing.T) {
	code, err := Code(bytes.NewReader([]byte{0, 31, 32, 255}), 4)
	require.NoError(t, err)
	assert.Equal(t, "A9A9", code)

	_, err = Code(bytes.NewReader([]byte{1}), 4)
	assert.Error(t, err)
}
